package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue / store metrics

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "apex_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "apex_queue_depth",
			Help: "Number of tasks currently ready for dispatch",
		},
	)

	// Scheduler metrics

	SchedulerTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "apex_scheduler_ticks_total",
			Help: "Total number of scheduler poll ticks",
		},
	)

	TasksDispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "apex_tasks_dispatched_total",
			Help: "Total number of tasks dispatched to the executor",
		},
	)

	TasksCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "apex_tasks_completed_total",
			Help: "Total number of tasks that completed successfully",
		},
	)

	TasksFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "apex_tasks_failed_total",
			Help: "Total number of tasks that failed",
		},
	)

	TasksPausedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "apex_tasks_paused_total",
			Help: "Total number of tasks paused for any reason",
		},
	)

	RunningTasksGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "apex_running_tasks",
			Help: "Number of tasks currently dispatched to the executor",
		},
	)

	ExecutorDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "apex_executor_duration_seconds",
			Help:    "Time spent in a single executor dispatch, end to end",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 3600, 14400},
		},
	)

	// Usage / capacity metrics

	CapacityExhaustedAxes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "apex_capacity_exhausted",
			Help: "Whether a capacity axis is currently exhausted (1) or not (0)",
		},
		[]string{"axis"},
	)

	CapacityRestoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_capacity_restored_total",
			Help: "Total number of capacity:restored events by reason",
		},
		[]string{"reason"},
	)

	CurrentMode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "apex_usage_mode",
			Help: "Currently active usage mode (1 = active, labeled by mode)",
		},
		[]string{"mode"},
	)

	DailySpent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "apex_daily_spent_dollars",
			Help: "Estimated cost spent so far in the current day window",
		},
	)

	// Checkpoint / session metrics

	CheckpointsWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "apex_checkpoints_written_total",
			Help: "Total number of checkpoints written",
		},
	)

	CheckpointWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "apex_checkpoint_write_duration_seconds",
			Help:    "Time to persist a single checkpoint document",
			Buckets: prometheus.DefBuckets,
		},
	)

	CheckpointsPrunedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "apex_checkpoints_pruned_total",
			Help: "Total number of checkpoints removed by cleanup sweeps",
		},
	)

	// Pause/resume metrics

	TasksAutoResumedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "apex_tasks_auto_resumed_total",
			Help: "Total number of tasks transitioned from paused back to pending",
		},
	)

	// Orphan recovery metrics

	OrphansDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "apex_orphans_detected_total",
			Help: "Total number of orphaned tasks detected across all sweeps",
		},
	)

	OrphansRecoveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_orphans_recovered_total",
			Help: "Total number of orphaned tasks recovered, by action taken",
		},
		[]string{"action"},
	)

	// Watchdog metrics

	WatchdogRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "apex_watchdog_restarts_total",
			Help: "Total number of restarts performed by the watchdog",
		},
	)

	DaemonErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "apex_daemon_errors_total",
			Help: "Total number of daemon:error events emitted",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TasksTotal,
		QueueDepth,
		SchedulerTicksTotal,
		TasksDispatchedTotal,
		TasksCompletedTotal,
		TasksFailedTotal,
		TasksPausedTotal,
		RunningTasksGauge,
		ExecutorDuration,
		CapacityExhaustedAxes,
		CapacityRestoredTotal,
		CurrentMode,
		DailySpent,
		CheckpointsWrittenTotal,
		CheckpointWriteDuration,
		CheckpointsPrunedTotal,
		TasksAutoResumedTotal,
		OrphansDetectedTotal,
		OrphansRecoveredTotal,
		WatchdogRestartsTotal,
		DaemonErrorsTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
