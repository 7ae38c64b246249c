package orphan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuaaferguson/apex/pkg/config"
	"github.com/joshuaaferguson/apex/pkg/events"
	"github.com/joshuaaferguson/apex/pkg/store"
	"github.com/joshuaaferguson/apex/pkg/types"
)

type fakeStore struct {
	orphans []*types.Task

	statusUpdates map[string]types.Status
	fieldUpdates  map[string]store.TaskFieldSet
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		statusUpdates: make(map[string]types.Status),
		fieldUpdates:  make(map[string]store.TaskFieldSet),
	}
}

func (f *fakeStore) GetOrphanedTasks(staleness time.Duration) ([]*types.Task, error) {
	return f.orphans, nil
}

func (f *fakeStore) UpdateTask(id string, fields store.TaskFieldSet) error {
	f.fieldUpdates[id] = fields
	return nil
}

func (f *fakeStore) UpdateTaskStatus(id string, status types.Status, stage string, message string) error {
	f.statusUpdates[id] = status
	return nil
}

type fakeRunningSet struct {
	running map[string]bool
}

func (f *fakeRunningSet) IsRunning(taskID string) bool { return f.running[taskID] }

func TestRecoverOnce_NoOpWhenDisabled(t *testing.T) {
	fs := newFakeStore()
	fs.orphans = []*types.Task{{ID: "t1"}}

	s := New(fs, &fakeRunningSet{}, nil, config.OrphanDetection{Enabled: false})
	require.NoError(t, s.RecoverOnce())
	assert.Empty(t, fs.statusUpdates)
}

func TestRecoverOnce_PendingPolicyResetsStatus(t *testing.T) {
	fs := newFakeStore()
	fs.orphans = []*types.Task{{ID: "t1", Status: types.StatusInProgress}}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	s := New(fs, &fakeRunningSet{}, broker, config.OrphanDetection{Enabled: true, RecoveryPolicy: "pending"})
	require.NoError(t, s.RecoverOnce())

	assert.Equal(t, types.StatusPending, fs.statusUpdates["t1"])
}

func TestRecoverOnce_FailPolicyMarksFailed(t *testing.T) {
	fs := newFakeStore()
	fs.orphans = []*types.Task{{ID: "t1", Status: types.StatusInProgress}}

	s := New(fs, &fakeRunningSet{}, nil, config.OrphanDetection{Enabled: true, RecoveryPolicy: "fail"})
	require.NoError(t, s.RecoverOnce())

	assert.Equal(t, types.StatusFailed, fs.statusUpdates["t1"])
}

func TestRecoverOnce_RetryPolicyIncrementsRetryCount(t *testing.T) {
	fs := newFakeStore()
	fs.orphans = []*types.Task{{ID: "t1", Status: types.StatusInProgress, RetryCount: 2}}

	s := New(fs, &fakeRunningSet{}, nil, config.OrphanDetection{Enabled: true, RecoveryPolicy: "retry"})
	require.NoError(t, s.RecoverOnce())

	fields := fs.fieldUpdates["t1"]
	require.NotNil(t, fields.RetryCount)
	assert.Equal(t, 3, *fields.RetryCount)
	assert.Equal(t, types.StatusPending, *fields.Status)
}

func TestRecoverOnce_SkipsTasksStillRunningInThisProcess(t *testing.T) {
	fs := newFakeStore()
	fs.orphans = []*types.Task{{ID: "t1"}, {ID: "t2"}}

	s := New(fs, &fakeRunningSet{running: map[string]bool{"t1": true}}, nil, config.OrphanDetection{Enabled: true, RecoveryPolicy: "pending"})
	require.NoError(t, s.RecoverOnce())

	assert.NotContains(t, fs.statusUpdates, "t1")
	assert.Contains(t, fs.statusUpdates, "t2")
}

func TestRecoverOnce_PublishesDetectedAndRecoveredEvents(t *testing.T) {
	fs := newFakeStore()
	fs.orphans = []*types.Task{{ID: "t1"}}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	s := New(fs, &fakeRunningSet{}, broker, config.OrphanDetection{Enabled: true, RecoveryPolicy: "pending"})
	require.NoError(t, s.RecoverOnce())

	var sawDetected, sawRecovered bool
	deadline := time.After(2 * time.Second)
	for !(sawDetected && sawRecovered) {
		select {
		case ev := <-sub:
			switch ev.Type {
			case events.EventOrphanDetected:
				sawDetected = true
			case events.EventOrphanRecovered:
				sawRecovered = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for orphan events")
		}
	}
}

func TestStartStopPeriodic_Idempotent(t *testing.T) {
	fs := newFakeStore()
	s := New(fs, &fakeRunningSet{}, nil, config.OrphanDetection{Enabled: true, PeriodicCheck: true, PeriodicCheckInterval: 50})
	s.StartPeriodic()
	s.StartPeriodic()
	s.StopPeriodic()
	s.StopPeriodic()
}
