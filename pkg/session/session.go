// Package session persists conversation history and stage state as
// checkpoints, and decides whether and how a paused or orphaned task may
// resume. Grounded on the teacher's BoltDB JSON-document idiom
// (pkg/storage/boltdb.go) applied to checkpoint documents, and on the
// checkpoint/resume shape of randalmurphal/orc's internal/cli/cmd_resume.go.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/joshuaaferguson/apex/pkg/config"
	"github.com/joshuaaferguson/apex/pkg/log"
	"github.com/joshuaaferguson/apex/pkg/metrics"
	"github.com/joshuaaferguson/apex/pkg/store"
	"github.com/joshuaaferguson/apex/pkg/types"
)

const maxCheckpointAge = 24 * time.Hour

// decisionMarkers are substrings a sentence must contain to be extracted as
// a "key decision" by SummarizeContext.
var decisionMarkers = []string{"decided", "chosen", "implemented", "completed"}

// Store is the narrow persistence surface the session layer needs.
type Store interface {
	SaveCheckpoint(cp *types.Checkpoint) error
	GetLatestCheckpoint(taskID string) (*types.Checkpoint, error)
	ListCheckpoints(taskID string) ([]*types.Checkpoint, error)
	ListAllCheckpoints() ([]*types.Checkpoint, error)
	DeleteCheckpoint(checkpointID string) error
	DeleteAllCheckpoints(taskID string) error
	GetTask(id string) (*types.Task, error)
	UpdateTask(id string, fields store.TaskFieldSet) error
}

// Manager implements the Session Store operations over a Store.
type Manager struct {
	store Store
	cfg   config.SessionRecovery
}

// NewManager creates a session manager bound to cfg's recovery settings.
func NewManager(s Store, cfg config.SessionRecovery) *Manager {
	return &Manager{store: s, cfg: cfg}
}

// RestoreResult is the shape returned by RestoreSession.
type RestoreResult struct {
	Checkpoint *types.Checkpoint
	SessionData *types.SessionData
	CanResume  bool
}

// ResumeResult is the shape returned by AutoResume.
type ResumeResult struct {
	Resumed    bool
	ResumePoint *types.ResumePoint
	Conversation []types.Message
	StageState map[string]any
}

// CreateCheckpoint writes a new checkpoint and updates the task's
// lastCheckpoint hint.
func (m *Manager) CreateCheckpoint(task *types.Task, conversation []types.Message, stageState map[string]any) (*types.Checkpoint, error) {
	timer := metrics.NewTimer()
	cp := &types.Checkpoint{
		TaskID:              task.ID,
		CheckpointID:        fmt.Sprintf("%s-%d", task.ID, time.Now().UnixMilli()),
		Stage:               task.Stage,
		StageIndex:          task.StageIndex,
		ConversationHistory: conversation,
		StageState:          stageState,
		CreatedAt:           time.Now().UTC(),
	}
	if err := m.store.SaveCheckpoint(cp); err != nil {
		return nil, fmt.Errorf("session: save checkpoint: %w", err)
	}
	metrics.CheckpointsWrittenTotal.Inc()
	timer.ObserveDuration(metrics.CheckpointWriteDuration)
	return cp, nil
}

// RestoreSession loads the latest checkpoint for taskId and decides whether
// it is eligible for resume.
func (m *Manager) RestoreSession(taskID string) (*RestoreResult, error) {
	cp, err := m.store.GetLatestCheckpoint(taskID)
	if err != nil {
		return nil, fmt.Errorf("session: get latest checkpoint: %w", err)
	}
	if cp == nil {
		return &RestoreResult{CanResume: false}, nil
	}

	task, err := m.store.GetTask(taskID)
	if err != nil {
		return nil, fmt.Errorf("session: get task: %w", err)
	}

	canResume := m.cfg.Enabled &&
		time.Since(cp.CreatedAt) <= maxCheckpointAge &&
		len(cp.ConversationHistory) > 0 &&
		cp.Stage != ""

	return &RestoreResult{
		Checkpoint:  cp,
		SessionData: task.SessionData,
		CanResume:   canResume,
	}, nil
}

// AutoResume attempts to resume task from its latest checkpoint.
func (m *Manager) AutoResume(task *types.Task) (*ResumeResult, error) {
	if !m.cfg.Enabled || !m.cfg.AutoResume {
		return &ResumeResult{Resumed: false}, nil
	}

	restore, err := m.RestoreSession(task.ID)
	if err != nil {
		return nil, err
	}
	if !restore.CanResume {
		return &ResumeResult{Resumed: false}, nil
	}

	var resumePoint *types.ResumePoint
	if restore.SessionData != nil && restore.SessionData.ResumePoint != nil {
		resumePoint = restore.SessionData.ResumePoint
	} else {
		resumePoint = &types.ResumePoint{Stage: restore.Checkpoint.Stage, Step: restore.Checkpoint.StageIndex}
	}

	return &ResumeResult{
		Resumed:      true,
		ResumePoint:  resumePoint,
		Conversation: restore.Checkpoint.ConversationHistory,
		StageState:   restore.Checkpoint.StageState,
	}, nil
}

// ContextSummary is the structured summary produced by SummarizeContext.
type ContextSummary struct {
	ConversationLength int
	KeyDecisions       []string
	RecentMessages     string
}

// SummarizeContext condenses a long conversation into a fixed-size
// structured summary once it exceeds the configured threshold.
func (m *Manager) SummarizeContext(history []types.Message) *ContextSummary {
	threshold := m.cfg.ContextSummarizationThreshold
	if threshold <= 0 {
		threshold = 50
	}
	if len(history) <= threshold {
		return nil
	}

	var decisions []string
	for i := len(history) - 1; i >= 0 && len(decisions) < 5; i-- {
		for _, block := range history[i].Content {
			sentences := strings.FieldsFunc(block.Text, func(r rune) bool {
				return r == '.' || r == '!' || r == '?'
			})
			for _, sentence := range sentences {
				if len(decisions) >= 5 {
					break
				}
				sentence = strings.TrimSpace(sentence)
				lower := strings.ToLower(sentence)
				for _, marker := range decisionMarkers {
					if strings.Contains(lower, marker) {
						decisions = append(decisions, sentence)
						break
					}
				}
			}
		}
	}

	var recent []string
	for i := len(history) - 1; i >= 0 && len(recent) < 3; i-- {
		if history[i].Role != "assistant" {
			continue
		}
		recent = append([]string{flattenText(history[i])}, recent...)
	}
	joined := strings.Join(recent, " ")
	if len(joined) > 1000 {
		joined = joined[:1000]
	}

	return &ContextSummary{
		ConversationLength: len(history),
		KeyDecisions:       decisions,
		RecentMessages:     joined,
	}
}

func flattenText(msg types.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if block.Type == types.ContentBlockText && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, " ")
}

// CleanupCheckpoints deletes checkpoints older than maxAge (default 7
// days), and any checkpoint whose owning task row no longer resolves.
func (m *Manager) CleanupCheckpoints(maxAge time.Duration) error {
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	cutoff := time.Now().Add(-maxAge)
	logger := log.WithComponent("session")

	all, err := m.store.ListAllCheckpoints()
	if err != nil {
		return fmt.Errorf("session: list checkpoints: %w", err)
	}

	taskExists := make(map[string]bool)
	var pruned int
	for _, cp := range all {
		expired := cp.CreatedAt.Before(cutoff)
		orphaned := false
		if !expired {
			exists, ok := taskExists[cp.TaskID]
			if !ok {
				_, err := m.store.GetTask(cp.TaskID)
				exists = err == nil
				taskExists[cp.TaskID] = exists
			}
			orphaned = !exists
		}
		if expired || orphaned {
			if err := m.store.DeleteCheckpoint(cp.CheckpointID); err != nil {
				return fmt.Errorf("session: delete checkpoint %s: %w", cp.CheckpointID, err)
			}
			pruned++
		}
	}

	if pruned > 0 {
		metrics.CheckpointsPrunedTotal.Add(float64(pruned))
		logger.Info().Int("pruned", pruned).Msg("pruned checkpoints")
	}
	return nil
}
