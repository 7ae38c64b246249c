package watchdog

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/joshuaaferguson/apex/pkg/config"
)

type fakeSupervisor struct {
	mu         sync.Mutex
	stopCalls  int
	startCalls int
}

func (f *fakeSupervisor) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return nil
}

func (f *fakeSupervisor) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	return nil
}

func (f *fakeSupervisor) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls, f.startCalls
}

type fakeHealthRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeHealthRecorder) RecordRestart(reason string, exitCode *int, byWatchdog bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, reason)
}

func TestOnFatalError_RestartsWithinBudget(t *testing.T) {
	sup := &fakeSupervisor{}
	rec := &fakeHealthRecorder{}
	w := New(sup, rec, config.Watchdog{Enabled: true, MaxRestarts: 5, RestartWindow: 300_000, RestartDelay: 0})

	w.OnFatalError("boom")

	stopCalls, startCalls := sup.counts()
	assert.Equal(t, 1, stopCalls)
	assert.Equal(t, 1, startCalls)
	assert.Equal(t, []string{"boom"}, rec.calls)
}

func TestOnFatalError_NoOpWhenDisabled(t *testing.T) {
	sup := &fakeSupervisor{}
	rec := &fakeHealthRecorder{}
	w := New(sup, rec, config.Watchdog{Enabled: false})

	w.OnFatalError("boom")

	stopCalls, startCalls := sup.counts()
	assert.Equal(t, 0, stopCalls)
	assert.Equal(t, 0, startCalls)
}

func TestRestart_SuppressedWhenBudgetExhaustedWithinWindow(t *testing.T) {
	sup := &fakeSupervisor{}
	rec := &fakeHealthRecorder{}
	w := New(sup, rec, config.Watchdog{Enabled: true, MaxRestarts: 2, RestartWindow: 300_000, RestartDelay: 0})

	w.OnFatalError("e1")
	w.OnFatalError("e2")
	w.OnFatalError("e3")

	stopCalls, _ := sup.counts()
	assert.Equal(t, 2, stopCalls)
	assert.Len(t, rec.calls, 2)
}

func TestCanRestart_AllowsAgainAfterWindowElapses(t *testing.T) {
	sup := &fakeSupervisor{}
	rec := &fakeHealthRecorder{}
	w := New(sup, rec, config.Watchdog{Enabled: true, MaxRestarts: 1, RestartWindow: 50, RestartDelay: 0})

	w.OnFatalError("e1")
	w.OnFatalError("e2")
	stopCalls, _ := sup.counts()
	assert.Equal(t, 1, stopCalls, "second restart should be suppressed within the window")

	time.Sleep(100 * time.Millisecond)
	w.OnFatalError("e3")

	stopCalls, _ = sup.counts()
	assert.Equal(t, 2, stopCalls, "restart should be allowed again once the window elapses")
}

func TestOnHealthCheckFailed_RespectsBudget(t *testing.T) {
	sup := &fakeSupervisor{}
	rec := &fakeHealthRecorder{}
	w := New(sup, rec, config.Watchdog{Enabled: true, MaxRestarts: 1, RestartWindow: 300_000, RestartDelay: 0})

	w.OnHealthCheckFailed()
	w.OnHealthCheckFailed()

	stopCalls, _ := sup.counts()
	assert.Equal(t, 1, stopCalls)
}
