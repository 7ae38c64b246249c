package pauseresume

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuaaferguson/apex/pkg/apexerr"
	"github.com/joshuaaferguson/apex/pkg/events"
	"github.com/joshuaaferguson/apex/pkg/store"
	"github.com/joshuaaferguson/apex/pkg/types"
)

type fakeStore struct {
	parent         *types.Task
	pausedForResume []*types.Task
	tasks           map[string]*types.Task

	updated       map[string]store.TaskFieldSet
	statusUpdates map[string]types.Status
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:         make(map[string]*types.Task),
		updated:       make(map[string]store.TaskFieldSet),
		statusUpdates: make(map[string]types.Status),
	}
}

func (f *fakeStore) FindHighestPriorityParentTask() (*types.Task, error) { return f.parent, nil }
func (f *fakeStore) GetPausedTasksForResume() ([]*types.Task, error)     { return f.pausedForResume, nil }

func (f *fakeStore) GetTask(id string) (*types.Task, error) {
	return f.tasks[id], nil
}

func (f *fakeStore) UpdateTask(id string, fields store.TaskFieldSet) error {
	f.updated[id] = fields
	return nil
}

func (f *fakeStore) UpdateTaskStatus(id string, status types.Status, stage string, message string) error {
	f.statusUpdates[id] = status
	return nil
}

type fakeConcurrency struct {
	running       int
	maxConcurrent int
}

func (f *fakeConcurrency) RunningCount() int { return f.running }
func (f *fakeConcurrency) GetCurrentUsage() types.UsageSnapshot {
	return types.UsageSnapshot{Thresholds: types.ModeThresholds{MaxConcurrentTasks: f.maxConcurrent}}
}

func subscribeAndWait(t *testing.T, broker *events.Broker, eventType events.EventType, timeout time.Duration) *events.Event {
	t.Helper()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	deadline := time.After(timeout)
	for {
		select {
		case ev := <-sub:
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			return nil
		}
	}
}

func TestOnCapacityRestored_ResumesParentTaskFirst(t *testing.T) {
	fs := newFakeStore()
	fs.parent = &types.Task{ID: "parent-1", MaxResumeAttempts: 3}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	fc := &fakeConcurrency{running: 0, maxConcurrent: 5}
	c := New(fs, fc, fc, broker)
	c.Start()
	defer c.Stop()

	resultCh := make(chan *events.Event, 1)
	go func() { resultCh <- subscribeAndWait(t, broker, events.EventTaskSessionResumed, 2*time.Second) }()

	broker.Publish(&events.Event{Type: events.EventCapacityRestored, Payload: events.CapacityRestoredPayload{}})

	ev := <-resultCh
	require.NotNil(t, ev)
	payload := ev.Payload.(events.TaskSessionResumedPayload)
	assert.Equal(t, "parent-1", payload.TaskID)

	fields, ok := fs.updated["parent-1"]
	require.True(t, ok)
	assert.Equal(t, types.StatusPending, *fields.Status)
	assert.Equal(t, 1, *fields.ResumeAttempts)
	assert.True(t, fields.ClearPausedAt)
	assert.True(t, fields.ClearResumeAfter)
}

func TestOnCapacityRestored_FallsBackToPausedTasksBoundedByBudget(t *testing.T) {
	fs := newFakeStore()
	fs.pausedForResume = []*types.Task{
		{ID: "t1", MaxResumeAttempts: 3},
		{ID: "t2", MaxResumeAttempts: 3},
		{ID: "t3", MaxResumeAttempts: 3},
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	fc := &fakeConcurrency{running: 3, maxConcurrent: 5}
	c := New(fs, fc, fc, broker)
	c.Start()
	defer c.Stop()

	resultCh := make(chan *events.Event, 1)
	go func() { resultCh <- subscribeAndWait(t, broker, events.EventTasksAutoResumed, 2*time.Second) }()

	broker.Publish(&events.Event{Type: events.EventCapacityRestored, Payload: events.CapacityRestoredPayload{}})

	ev := <-resultCh
	require.NotNil(t, ev)
	payload := ev.Payload.(events.TasksAutoResumedPayload)
	assert.Equal(t, 2, payload.TotalTasks)
	assert.Equal(t, 2, payload.ResumedCount)

	assert.Contains(t, fs.updated, "t1")
	assert.Contains(t, fs.updated, "t2")
	assert.NotContains(t, fs.updated, "t3")
}

func TestOnCapacityRestored_NoResumeWhenNoBudget(t *testing.T) {
	fs := newFakeStore()
	fs.pausedForResume = []*types.Task{{ID: "t1", MaxResumeAttempts: 3}}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	fc := &fakeConcurrency{running: 5, maxConcurrent: 5}
	c := New(fs, fc, fc, broker)
	c.Start()
	defer c.Stop()

	broker.Publish(&events.Event{Type: events.EventCapacityRestored, Payload: events.CapacityRestoredPayload{}})
	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, fs.updated)
}

func TestResumeOne_ExceedsMaxResumeAttemptsFailsTask(t *testing.T) {
	fs := newFakeStore()
	fs.parent = &types.Task{ID: "parent-1", ResumeAttempts: 3, MaxResumeAttempts: 3}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	fc := &fakeConcurrency{running: 0, maxConcurrent: 5}
	c := New(fs, fc, fc, broker)
	c.Start()
	defer c.Stop()

	resultCh := make(chan *events.Event, 1)
	go func() { resultCh <- subscribeAndWait(t, broker, events.EventTaskFailed, 2*time.Second) }()

	broker.Publish(&events.Event{Type: events.EventCapacityRestored, Payload: events.CapacityRestoredPayload{}})

	ev := <-resultCh
	require.NotNil(t, ev)
	assert.Equal(t, types.StatusFailed, fs.statusUpdates["parent-1"])
}

func TestResumeTask_ManuallyResumesPausedTask(t *testing.T) {
	fs := newFakeStore()
	fs.tasks["t1"] = &types.Task{ID: "t1", Status: types.StatusPaused, MaxResumeAttempts: 3}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	fc := &fakeConcurrency{maxConcurrent: 5}
	c := New(fs, fc, fc, broker)

	resultCh := make(chan *events.Event, 1)
	go func() { resultCh <- subscribeAndWait(t, broker, events.EventTaskSessionResumed, 2*time.Second) }()

	require.NoError(t, c.ResumeTask("t1"))

	ev := <-resultCh
	require.NotNil(t, ev)
	payload, ok := ev.Payload.(events.TaskSessionResumedPayload)
	require.True(t, ok)
	assert.Equal(t, "manual_resume", payload.ResumeReason)
	require.NotNil(t, fs.updated["t1"].Status)
	assert.Equal(t, types.StatusPending, *fs.updated["t1"].Status)
}

func TestResumeTask_RejectsNonPausedTask(t *testing.T) {
	fs := newFakeStore()
	fs.tasks["t1"] = &types.Task{ID: "t1", Status: types.StatusPending}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	fc := &fakeConcurrency{maxConcurrent: 5}
	c := New(fs, fc, fc, broker)

	assert.Error(t, c.ResumeTask("t1"))
}

func TestResumeTask_UnknownTaskReturnsNotFound(t *testing.T) {
	fs := newFakeStore()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	fc := &fakeConcurrency{maxConcurrent: 5}
	c := New(fs, fc, fc, broker)

	assert.ErrorIs(t, c.ResumeTask("missing"), apexerr.ErrNotFound)
}

func TestStartStop_Idempotent(t *testing.T) {
	fs := newFakeStore()
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	fc := &fakeConcurrency{maxConcurrent: 5}
	c := New(fs, fc, fc, broker)
	c.Start()
	c.Start()
	c.Stop()
	c.Stop()
}
