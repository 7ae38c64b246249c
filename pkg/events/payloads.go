package events

import (
	"time"

	"github.com/joshuaaferguson/apex/pkg/types"
)

// TaskStageChangedPayload accompanies EventTaskStageChanged.
type TaskStageChangedPayload struct {
	Task  *types.Task
	Stage string
}

// TaskLifecyclePayload accompanies EventTaskCreated/Completed/Failed.
type TaskLifecyclePayload struct {
	Task *types.Task
}

// TaskSessionResumedPayload accompanies EventTaskSessionResumed.
type TaskSessionResumedPayload struct {
	TaskID         string
	ResumeReason   string
	ContextSummary string
	PreviousStatus types.Status
	SessionData    *types.SessionData
	Timestamp      time.Time
}

// TasksAutoResumedPayload accompanies EventTasksAutoResumed.
type TasksAutoResumedPayload struct {
	Reason         string
	TotalTasks     int
	ResumedCount   int
	Errors         []string
	Timestamp      time.Time
	ResumeReason   string
	ContextSummary string
}

// CapacityRestoredPayload accompanies EventCapacityRestored.
type CapacityRestoredPayload struct {
	Reason        types.RestoreReason
	Timestamp     time.Time
	PreviousUsage types.UsageSnapshot
	CurrentUsage  types.UsageSnapshot
	ModeInfo      types.Mode
}

// OrphanDetectedPayload accompanies EventOrphanDetected.
type OrphanDetectedPayload struct {
	Tasks              []*types.Task
	DetectedAt         time.Time
	Reason             string
	StalenessThreshold time.Duration
}

// OrphanRecoveredPayload accompanies EventOrphanRecovered.
type OrphanRecoveredPayload struct {
	TaskID         string
	PreviousStatus types.Status
	NewStatus      types.Status
	Action         string
	Message        string
	Timestamp      time.Time
}

// UsageModeChangedPayload accompanies EventUsageModeChanged.
type UsageModeChangedPayload struct {
	PreviousMode types.Mode
	CurrentMode  types.Mode
	Timestamp    time.Time
}

// DaemonErrorPayload accompanies EventDaemonError. Fatal distinguishes an
// unhandled component error (spec.md §7's "Fatal daemon error", which the
// watchdog reacts to while the daemon is running) from a non-fatal
// diagnostic, which the supervisor counts but does not act on.
type DaemonErrorPayload struct {
	Err       error
	Component string
	Fatal     bool
	Timestamp time.Time
}
