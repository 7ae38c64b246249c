package health

import (
	"sync"
	"time"

	"github.com/joshuaaferguson/apex/pkg/metrics"
	"github.com/joshuaaferguson/apex/pkg/types"
)

// RunnerInfo is the narrow process-introspection surface GetHealthReport
// samples from; the daemon supervisor supplies the concrete implementation.
type RunnerInfo interface {
	MemorySampleBytes() uint64
	TaskCountSample() int
}

// Monitor accumulates liveness-probe outcomes and restart history for the
// daemon process (spec.md §4.8's C4). Built on this package's existing
// Status/Result shapes rather than replacing them: a Monitor is a
// process-wide accumulator, Status a per-checker one.
type Monitor struct {
	mu sync.Mutex

	successfulChecks int64
	failedChecks     int64
	lastCheck        *time.Time
	restartHistory   []types.RestartRecord

	consecutiveFailures int
}

// NewMonitor creates an empty health monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// PerformHealthCheck records the outcome of one liveness probe (e.g. "can I
// reach the store and the workflow registry?") and updates the
// readiness-surface component registered under "scheduler" so the HTTP
// /ready endpoint reflects it.
func (m *Monitor) PerformHealthCheck(success bool) {
	m.mu.Lock()
	now := time.Now()
	m.lastCheck = &now
	if success {
		m.successfulChecks++
		m.consecutiveFailures = 0
	} else {
		m.failedChecks++
		m.consecutiveFailures++
	}
	m.mu.Unlock()

	if success {
		metrics.UpdateComponent("scheduler", true, "")
	} else {
		metrics.UpdateComponent("scheduler", false, "liveness probe failed")
	}
}

// ConsecutiveFailures reports the current streak of failed probes, the
// signal the watchdog uses to decide whether a restart is warranted.
func (m *Monitor) ConsecutiveFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveFailures
}

// RecordRestart appends one entry to the restart history. exitCode is nil
// when the restart was not triggered by a process exit (e.g. a health
// check failure while the process kept running).
func (m *Monitor) RecordRestart(reason string, exitCode *int, byWatchdog bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restartHistory = append(m.restartHistory, types.RestartRecord{
		Reason:     reason,
		ExitCode:   exitCode,
		ByWatchdog: byWatchdog,
		At:         time.Now(),
	})
	metrics.WatchdogRestartsTotal.Inc()
}

// GetHealthReport returns the accumulated counters, last-check time,
// restart history, and a process sample pulled from runner.
func (m *Monitor) GetHealthReport(runner RunnerInfo) types.HealthMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := types.HealthMetrics{
		SuccessfulChecks: m.successfulChecks,
		FailedChecks:     m.failedChecks,
		LastCheck:        m.lastCheck,
		RestartHistory:   append([]types.RestartRecord(nil), m.restartHistory...),
	}
	if runner != nil {
		report.MemorySampleBytes = runner.MemorySampleBytes()
		report.TaskCountSample = runner.TaskCountSample()
	}
	return report
}

// Healthy reports whether the process should currently be considered
// healthy: no probe ever failed, or the most recent one succeeded.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveFailures == 0
}
