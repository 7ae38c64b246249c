package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuaaferguson/apex/pkg/config"
	"github.com/joshuaaferguson/apex/pkg/store"
	"github.com/joshuaaferguson/apex/pkg/types"
)

func newTestManager(t *testing.T, cfg config.SessionRecovery) (*Manager, *store.BoltStore) {
	t.Helper()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewManager(s, cfg), s
}

func TestCreateAndRestoreCheckpoint(t *testing.T) {
	cfg := config.SessionRecovery{Enabled: true, AutoResume: true, MaxResumeAttempts: 3, ContextSummarizationThreshold: 50}
	m, s := newTestManager(t, cfg)

	task, err := s.CreateTask(types.TaskInput{ProjectPath: "/p"})
	require.NoError(t, err)

	conv := []types.Message{{Role: "user", Content: []types.ContentBlock{{Type: types.ContentBlockText, Text: "go"}}}}
	cp, err := m.CreateCheckpoint(task, conv, map[string]any{"step": 1})
	require.NoError(t, err)
	assert.NotEmpty(t, cp.CheckpointID)

	restored, err := m.RestoreSession(task.ID)
	require.NoError(t, err)
	assert.True(t, restored.CanResume)
	assert.Equal(t, cp.CheckpointID, restored.Checkpoint.CheckpointID)
}

func TestRestoreSession_CannotResumeWhenDisabled(t *testing.T) {
	cfg := config.SessionRecovery{Enabled: false}
	m, s := newTestManager(t, cfg)

	task, err := s.CreateTask(types.TaskInput{ProjectPath: "/p"})
	require.NoError(t, err)

	conv := []types.Message{{Role: "user", Content: []types.ContentBlock{{Type: types.ContentBlockText, Text: "go"}}}}
	_, err = m.CreateCheckpoint(task, conv, nil)
	require.NoError(t, err)

	restored, err := m.RestoreSession(task.ID)
	require.NoError(t, err)
	assert.False(t, restored.CanResume)
}

func TestRestoreSession_NoCheckpointYet(t *testing.T) {
	cfg := config.SessionRecovery{Enabled: true}
	m, s := newTestManager(t, cfg)

	task, err := s.CreateTask(types.TaskInput{ProjectPath: "/p"})
	require.NoError(t, err)

	restored, err := m.RestoreSession(task.ID)
	require.NoError(t, err)
	assert.False(t, restored.CanResume)
	assert.Nil(t, restored.Checkpoint)
}

func TestSummarizeContext_BelowThresholdReturnsNil(t *testing.T) {
	cfg := config.SessionRecovery{ContextSummarizationThreshold: 50}
	m, _ := newTestManager(t, cfg)

	history := make([]types.Message, 10)
	assert.Nil(t, m.SummarizeContext(history))
}

func TestSummarizeContext_ExtractsDecisionsAndRecentMessages(t *testing.T) {
	cfg := config.SessionRecovery{ContextSummarizationThreshold: 5}
	m, _ := newTestManager(t, cfg)

	history := []types.Message{
		{Role: "user", Content: []types.ContentBlock{{Type: types.ContentBlockText, Text: "do the thing"}}},
		{Role: "assistant", Content: []types.ContentBlock{{Type: types.ContentBlockText, Text: "we decided to use bolt for storage"}}},
		{Role: "assistant", Content: []types.ContentBlock{{Type: types.ContentBlockText, Text: "implemented the store layer"}}},
		{Role: "user", Content: []types.ContentBlock{{Type: types.ContentBlockText, Text: "great"}}},
		{Role: "assistant", Content: []types.ContentBlock{{Type: types.ContentBlockText, Text: "completed the tests too"}}},
		{Role: "assistant", Content: []types.ContentBlock{{Type: types.ContentBlockText, Text: "all done"}}},
	}

	summary := m.SummarizeContext(history)
	require.NotNil(t, summary)
	assert.Equal(t, 6, summary.ConversationLength)
	assert.NotEmpty(t, summary.KeyDecisions)
	assert.Contains(t, summary.RecentMessages, "all done")
}

func TestCleanupCheckpoints_RemovesExpiredAndOrphaned(t *testing.T) {
	cfg := config.SessionRecovery{Enabled: true}
	m, s := newTestManager(t, cfg)

	task, err := s.CreateTask(types.TaskInput{ProjectPath: "/p"})
	require.NoError(t, err)

	old := &types.Checkpoint{TaskID: task.ID, CheckpointID: task.ID + "-old", CreatedAt: time.Now().Add(-8 * 24 * time.Hour)}
	require.NoError(t, s.SaveCheckpoint(old))
	fresh := &types.Checkpoint{TaskID: task.ID, CheckpointID: task.ID + "-fresh", CreatedAt: time.Now()}
	require.NoError(t, s.SaveCheckpoint(fresh))
	orphan := &types.Checkpoint{TaskID: "missing-task", CheckpointID: "missing-task-1", CreatedAt: time.Now()}
	require.NoError(t, s.SaveCheckpoint(orphan))

	require.NoError(t, m.CleanupCheckpoints(7*24*time.Hour))

	remaining, err := s.ListAllCheckpoints()
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, fresh.CheckpointID, remaining[0].CheckpointID)
}
