package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuaaferguson/apex/pkg/executor"
	"github.com/joshuaaferguson/apex/pkg/store"
	"github.com/joshuaaferguson/apex/pkg/types"
)

// fakeStore is a scripted, in-memory Store used for unit tests that
// exercise the scheduler's decision logic without a real BoltDB fixture.
type fakeStore struct {
	ready       []*types.Task
	tasks       map[string]*types.Task
	checkpoints map[string]*types.Checkpoint

	updateCalls       []store.TaskFieldSet
	updateStatusCalls []types.Status
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:       make(map[string]*types.Task),
		checkpoints: make(map[string]*types.Checkpoint),
	}
}

func (f *fakeStore) GetReadyTasks(limit int, orderByPriority bool) ([]*types.Task, error) {
	if limit > 0 && len(f.ready) > limit {
		return f.ready[:limit], nil
	}
	return f.ready, nil
}

func (f *fakeStore) UpdateTask(id string, fields store.TaskFieldSet) error {
	f.updateCalls = append(f.updateCalls, fields)
	if fields.Status != nil {
		if t, ok := f.tasks[id]; ok {
			t.Status = *fields.Status
		}
	}
	return nil
}

func (f *fakeStore) UpdateTaskStatus(id string, status types.Status, stage string, message string) error {
	f.updateStatusCalls = append(f.updateStatusCalls, status)
	if t, ok := f.tasks[id]; ok {
		t.Status = status
	}
	return nil
}

func (f *fakeStore) GetTask(id string) (*types.Task, error) { return f.tasks[id], nil }

func (f *fakeStore) GetLatestCheckpoint(taskID string) (*types.Checkpoint, error) {
	return f.checkpoints[taskID], nil
}

func TestTick_SkipsWhenAtConcurrencyLimit(t *testing.T) {
	fs := newFakeStore()
	task := &types.Task{ID: "t1", Status: types.StatusPending}
	fs.tasks[task.ID] = task
	fs.ready = []*types.Task{task}

	usage := &fakeUsageTracker{maxConcurrent: 1, allowed: true}
	mock := executor.NewMock()
	mock.SetResult(task.ID, executor.Result{Outcome: executor.OutcomeCompleted})

	sched := New(Config{Store: fs, Usage: usage, Executor: mock})
	sched.runningTasks["other-task"] = func() {}

	sched.tick()

	assert.Empty(t, mock.Calls)
}

func TestTick_SkipsWhenNoReadyTasks(t *testing.T) {
	fs := newFakeStore()
	usage := &fakeUsageTracker{maxConcurrent: 5, allowed: true}
	mock := executor.NewMock()

	sched := New(Config{Store: fs, Usage: usage, Executor: mock})
	sched.tick()

	assert.Empty(t, mock.Calls)
}

func TestTick_SkipsWhenUsageTrackerDenies(t *testing.T) {
	fs := newFakeStore()
	task := &types.Task{ID: "t1", Status: types.StatusPending}
	fs.tasks[task.ID] = task
	fs.ready = []*types.Task{task}

	usage := &fakeUsageTracker{maxConcurrent: 5, allowed: false, reason: "Daily budget exhausted"}
	mock := executor.NewMock()
	mock.SetResult(task.ID, executor.Result{Outcome: executor.OutcomeCompleted})

	sched := New(Config{Store: fs, Usage: usage, Executor: mock})
	sched.tick()

	assert.Empty(t, mock.Calls)
}

func TestTick_DispatchesSingleReadyTask(t *testing.T) {
	fs := newFakeStore()
	task := &types.Task{ID: "t1", Status: types.StatusPending}
	fs.tasks[task.ID] = task
	fs.ready = []*types.Task{task}

	usage := &fakeUsageTracker{maxConcurrent: 5, allowed: true}
	mock := executor.NewMock()
	mock.SetResult(task.ID, executor.Result{Outcome: executor.OutcomeCompleted})

	sched := New(Config{Store: fs, Usage: usage, Executor: mock})
	sched.tick()

	require.Eventually(t, func() bool {
		return len(mock.Calls) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"t1"}, mock.Calls)
}

func TestTick_RunsOrphanRecoveryOnlyOnFirstTick(t *testing.T) {
	fs := newFakeStore()
	usage := &fakeUsageTracker{maxConcurrent: 5, allowed: true}
	mock := executor.NewMock()

	var calls int
	recoverer := orphanRecovererFunc(func() error {
		calls++
		return nil
	})

	sched := New(Config{Store: fs, Usage: usage, Executor: mock, Orphan: recoverer})
	sched.tick()
	sched.tick()
	sched.tick()

	assert.Equal(t, 1, calls)
}

type orphanRecovererFunc func() error

func (f orphanRecovererFunc) RecoverOnce() error { return f() }

func TestBuildResumeContext_NilWhenNoCheckpoint(t *testing.T) {
	fs := newFakeStore()
	sched := New(Config{Store: fs, Usage: &fakeUsageTracker{allowed: true}, Executor: executor.NewMock()})

	assert.Nil(t, sched.buildResumeContext("missing"))
}

func TestBuildResumeContext_BuildsFromLatestCheckpoint(t *testing.T) {
	fs := newFakeStore()
	fs.checkpoints["t1"] = &types.Checkpoint{
		TaskID:     "t1",
		Stage:      "stage-2",
		StageIndex: 1,
		ConversationHistory: []types.Message{{Role: "user"}},
		StageState: map[string]any{"k": "v"},
	}
	sched := New(Config{Store: fs, Usage: &fakeUsageTracker{allowed: true}, Executor: executor.NewMock()})

	resume := sched.buildResumeContext("t1")
	require.NotNil(t, resume)
	assert.Equal(t, "stage-2", resume.ResumePoint.Stage)
	assert.Equal(t, 1, resume.ResumePoint.Step)
	assert.Len(t, resume.Conversation, 1)
	assert.Equal(t, "v", resume.StageState["k"])
}

func TestStartStop_Idempotent(t *testing.T) {
	fs := newFakeStore()
	sched := New(Config{Store: fs, Usage: &fakeUsageTracker{allowed: true}, Executor: executor.NewMock(), PollInterval: time.Hour})

	sched.Start()
	sched.Start()
	sched.Stop()
	sched.Stop()
}

func TestRunExecution_UnknownOutcomeIsTreatedAsFailure(t *testing.T) {
	fs := newFakeStore()
	task := &types.Task{ID: "t1", Status: types.StatusInProgress}
	fs.tasks[task.ID] = task

	fn := executor.Func(func(ctx context.Context, taskID string, stageIndex int, resume *executor.ResumeContext) (executor.Result, error) {
		return executor.Result{Outcome: "something-else"}, nil
	})

	sched := New(Config{Store: fs, Usage: &fakeUsageTracker{allowed: true}, Executor: fn})
	ctx, cancel := context.WithCancel(context.Background())
	sched.runExecution(ctx, cancel, task, nil)

	require.Len(t, fs.updateStatusCalls, 1)
	assert.Equal(t, types.StatusFailed, fs.updateStatusCalls[0])
}
