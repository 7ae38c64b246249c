package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuaaferguson/apex/pkg/events"
	"github.com/joshuaaferguson/apex/pkg/executor"
	"github.com/joshuaaferguson/apex/pkg/store"
	"github.com/joshuaaferguson/apex/pkg/types"
)

type fakeUsageTracker struct {
	maxConcurrent int
	allowed       bool
	reason        string
}

func (f *fakeUsageTracker) CanStartTask() (bool, string) { return f.allowed, f.reason }
func (f *fakeUsageTracker) TrackTaskStart(string)        {}
func (f *fakeUsageTracker) TrackTaskCompletion(string, types.ResourceUsage, bool) {}
func (f *fakeUsageTracker) GetCurrentUsage() types.UsageSnapshot {
	return types.UsageSnapshot{Thresholds: types.ModeThresholds{MaxConcurrentTasks: f.maxConcurrent}}
}

func newTestStore(t *testing.T) *store.BoltStore {
	t.Helper()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestScheduler_DispatchesReadyTaskAndMarksCompleted(t *testing.T) {
	s := newTestStore(t)
	task, err := s.CreateTask(types.TaskInput{Priority: types.PriorityNormal})
	require.NoError(t, err)

	mock := executor.NewMock()
	mock.SetResult(task.ID, executor.Result{Outcome: executor.OutcomeCompleted, Usage: types.ResourceUsage{TotalTokens: 100}})

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sched := New(Config{
		Store:        s,
		Usage:        &fakeUsageTracker{maxConcurrent: 5, allowed: true},
		Executor:     mock,
		Broker:       broker,
		PollInterval: 10 * time.Millisecond,
	})
	sched.Start()
	defer sched.Stop()

	waitFor(t, 2*time.Second, func() bool {
		got, err := s.GetTask(task.ID)
		return err == nil && got.Status == types.StatusCompleted
	})

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, int64(100), got.TotalTokens)
}

type recordingCheckpointer struct {
	calls int
}

func (r *recordingCheckpointer) CreateCheckpoint(task *types.Task, conversation []types.Message, stageState map[string]any) (*types.Checkpoint, error) {
	r.calls++
	return &types.Checkpoint{TaskID: task.ID}, nil
}

func TestScheduler_PausedTaskWritesCheckpointAndLeavesRunningSet(t *testing.T) {
	s := newTestStore(t)
	task, err := s.CreateTask(types.TaskInput{Priority: types.PriorityNormal})
	require.NoError(t, err)

	mock := executor.NewMock()
	mock.SetResult(task.ID, executor.Result{
		Outcome:     executor.OutcomePaused,
		Stage:       "stage-2",
		PauseReason: types.PauseReasonCapacity,
	})

	checkpointer := &recordingCheckpointer{}
	sched := New(Config{
		Store:        s,
		Usage:        &fakeUsageTracker{maxConcurrent: 5, allowed: true},
		Checkpoints:  checkpointer,
		Executor:     mock,
		PollInterval: 10 * time.Millisecond,
	})
	sched.Start()
	defer sched.Stop()

	waitFor(t, 2*time.Second, func() bool {
		got, err := s.GetTask(task.ID)
		return err == nil && got.Status == types.StatusPaused
	})

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPaused, got.Status)
	assert.Equal(t, 0, sched.RunningCount())
	assert.Equal(t, 1, checkpointer.calls)
}

func TestScheduler_SkipsDispatchWhenAtCapacity(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateTask(types.TaskInput{Priority: types.PriorityNormal})
	require.NoError(t, err)

	mock := executor.NewMock()
	sched := New(Config{
		Store:        s,
		Usage:        &fakeUsageTracker{maxConcurrent: 1, allowed: true},
		Executor:     mock,
		PollInterval: 10 * time.Millisecond,
	})
	sched.runningTasks["other-task"] = func() {}
	sched.Start()
	defer sched.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, mock.Calls)
}

func TestScheduler_StopCancelsInFlightExecutions(t *testing.T) {
	s := newTestStore(t)
	task, err := s.CreateTask(types.TaskInput{Priority: types.PriorityNormal})
	require.NoError(t, err)

	started := make(chan struct{})
	blocking := executor.Func(func(ctx context.Context, taskID string, stageIndex int, resume *executor.ResumeContext) (executor.Result, error) {
		close(started)
		<-ctx.Done()
		return executor.Result{Outcome: executor.OutcomeFailed, Error: ctx.Err().Error()}, nil
	})

	sched := New(Config{
		Store:        s,
		Usage:        &fakeUsageTracker{maxConcurrent: 5, allowed: true},
		Executor:     blocking,
		PollInterval: 10 * time.Millisecond,
	})
	sched.Start()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("execution never started")
	}

	sched.Stop()

	waitFor(t, 2*time.Second, func() bool {
		got, err := s.GetTask(task.ID)
		return err == nil && got.Status == types.StatusFailed
	})
}
