// Package types defines the core records persisted and exchanged by the
// task-lifecycle engine: tasks, dependencies, checkpoints, gates, idle
// tasks, and the process-private accumulators layered on top of them.
package types

import "time"

// Priority classifies how urgently a task should be scheduled relative to
// its peers.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Effort estimates the size of a task, used as a tiebreaker in scheduling
// order and to flavor reporting.
type Effort string

const (
	EffortXS     Effort = "xs"
	EffortSmall  Effort = "small"
	EffortMedium Effort = "medium"
	EffortLarge  Effort = "large"
	EffortXL     Effort = "xl"
)

// Autonomy controls how much oversight a task's executor expects before
// proceeding past gates.
type Autonomy string

const (
	AutonomyManual            Autonomy = "manual"
	AutonomyReviewBeforeMerge Autonomy = "review-before-merge"
	AutonomyAutonomous        Autonomy = "autonomous"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether a status resolves dependencies on the task:
// completed or cancelled. A failed task still blocks its dependents.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// PauseReason explains why a task was moved to paused.
type PauseReason string

const (
	PauseReasonUsageLimit       PauseReason = "usage_limit"
	PauseReasonBudget           PauseReason = "budget"
	PauseReasonCapacity         PauseReason = "capacity"
	PauseReasonContainerFailure PauseReason = "container_failure"
	PauseReasonSessionLimit     PauseReason = "session_limit"
	PauseReasonManual           PauseReason = "manual"
	PauseReasonOther            PauseReason = "other"
)

// Resumable pause reasons are the ones the pause/resume controller will
// consider for automatic resume; manual pauses require an explicit call.
var ResumablePauseReasons = map[PauseReason]bool{
	PauseReasonUsageLimit:       true,
	PauseReasonBudget:           true,
	PauseReasonCapacity:         true,
	PauseReasonContainerFailure: true,
}

// RecoveryPolicy controls how an orphaned task is healed at startup.
type RecoveryPolicy string

const (
	RecoveryPolicyPending RecoveryPolicy = "pending"
	RecoveryPolicyFail    RecoveryPolicy = "fail"
	RecoveryPolicyRetry   RecoveryPolicy = "retry"
)

// Mode selects the active resource-threshold profile.
type Mode string

const (
	ModeDay     Mode = "day"
	ModeNight   Mode = "night"
	ModeWeekend Mode = "weekend"
)

// priorityRank and effortRank implement the canonical sort described for
// getReadyTasks/getPausedTasksForResume/findHighestPriorityParentTask:
// lexicographic over (priorityRank, effortRank, createdAt ascending).
func (p Priority) rank() int {
	switch p {
	case PriorityUrgent:
		return 1
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 3
	case PriorityLow:
		return 4
	default:
		return 5
	}
}

func (e Effort) rank() int {
	switch e {
	case EffortXS:
		return 1
	case EffortSmall:
		return 2
	case EffortMedium:
		return 3
	case EffortLarge:
		return 4
	case EffortXL:
		return 5
	default:
		return 3
	}
}

// LessCanonical reports whether a sorts before b under the canonical
// ordering rule (priorityRank, effortRank, createdAt ascending).
func LessCanonical(a, b *Task) bool {
	ar, br := a.Priority.rank(), b.Priority.rank()
	if ar != br {
		return ar < br
	}
	ar, br = a.Effort.rank(), b.Effort.rank()
	if ar != br {
		return ar < br
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// LogEntry is an append-only record attached to a task.
type LogEntry struct {
	Level     string            `json:"level"`
	Stage     string            `json:"stage,omitempty"`
	Agent     string            `json:"agent,omitempty"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Artifact is an append-only output record attached to a task.
type Artifact struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Path      string    `json:"path,omitempty"`
	Content   string    `json:"content,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ResourceUsage accumulates consumption for a single task execution.
type ResourceUsage struct {
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	TotalTokens  int64   `json:"totalTokens"`
	EstimatedCost float64 `json:"estimatedCost"`
}

// SessionData is the resume hint embedded on the task row, derived from the
// latest checkpoint. The checkpoint itself remains the authoritative
// resume source; this is a lighter, denormalized copy for quick reads.
type SessionData struct {
	LastCheckpoint      time.Time      `json:"lastCheckpoint"`
	ContextSummary      string         `json:"contextSummary,omitempty"`
	ConversationTail    []Message      `json:"conversationTail,omitempty"`
	StageStateSnapshot  map[string]any `json:"stageStateSnapshot,omitempty"`
	ResumePoint         *ResumePoint   `json:"resumePoint,omitempty"`
}

// ResumePoint locates exactly where execution should continue.
type ResumePoint struct {
	Stage    string         `json:"stage"`
	Step     int            `json:"step"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Task is the central record driven through the workflow.
type Task struct {
	ID          string `json:"id"`
	ProjectPath string `json:"projectPath"`
	Workflow    string `json:"workflow"`

	ParentTaskID string   `json:"parentTaskId,omitempty"`
	SubtaskIDs   []string `json:"subtaskIds,omitempty"`
	DependsOn    []string `json:"dependsOn,omitempty"`

	Priority Priority `json:"priority"`
	Effort   Effort   `json:"effort"`
	Autonomy Autonomy `json:"autonomy"`

	Status        Status `json:"status"`
	Stage         string `json:"stage,omitempty"`
	StageIndex    int    `json:"stageIndex"`
	RetryCount    int    `json:"retryCount"`
	MaxRetries    int    `json:"maxRetries"`
	ResumeAttempts    int `json:"resumeAttempts"`
	MaxResumeAttempts int `json:"maxResumeAttempts"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	PausedAt    *time.Time `json:"pausedAt,omitempty"`
	ResumeAfter *time.Time `json:"resumeAfter,omitempty"`

	PauseReason PauseReason `json:"pauseReason,omitempty"`
	Error       string      `json:"error,omitempty"`

	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	TotalTokens  int64   `json:"totalTokens"`
	EstimatedCost float64 `json:"estimatedCost"`

	Workspace       string       `json:"workspace,omitempty"`
	SessionData     *SessionData `json:"sessionData,omitempty"`
	LastCheckpoint  *time.Time   `json:"lastCheckpoint,omitempty"`

	Logs      []LogEntry `json:"logs,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`

	// BlockedBy is populated by getTask as the subset of DependsOn not yet
	// in {completed, cancelled}; it is not stored directly.
	BlockedBy []string `json:"blockedBy,omitempty"`
}

// Ready reports whether t may be dispatched: pending with no outstanding
// blockers (invariant I6).
func (t *Task) Ready() bool {
	return t.Status == StatusPending && len(t.BlockedBy) == 0
}

// TaskInput is the caller-provided shape for createTask; fields left zero
// take core defaults.
type TaskInput struct {
	ID           string
	ProjectPath  string
	Workflow     string
	ParentTaskID string
	DependsOn    []string
	Priority     Priority
	Effort       Effort
	Autonomy     Autonomy
	Workspace    string
}

// TaskFilter narrows listTasks results.
type TaskFilter struct {
	Status         Status
	HasStatus      bool
	OrderByPriority bool
	Limit          int
	Offset         int
}

// Dependency is a directed edge task -> blockingTask.
type Dependency struct {
	TaskID    string    `json:"taskId"`
	BlockerID string    `json:"blockerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// ContentBlockType distinguishes the tagged union over conversation content.
type ContentBlockType string

const (
	ContentBlockText       ContentBlockType = "text"
	ContentBlockToolUse    ContentBlockType = "tool_use"
	ContentBlockToolResult ContentBlockType = "tool_result"
)

// ContentBlock is one tagged block of a conversation message.
type ContentBlock struct {
	Type      ContentBlockType `json:"type"`
	Text      string           `json:"text,omitempty"`
	ToolName  string           `json:"toolName,omitempty"`
	ToolInput map[string]any   `json:"toolInput,omitempty"`
	ToolUseID string           `json:"toolUseId,omitempty"`
	Content   string           `json:"content,omitempty"`
	IsError   bool             `json:"isError,omitempty"`
}

// Message is one turn of a conversation history.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// Checkpoint is a per-task snapshot of conversation and stage state.
type Checkpoint struct {
	TaskID             string         `json:"taskId"`
	CheckpointID       string         `json:"checkpointId"`
	Stage              string         `json:"stage"`
	StageIndex         int            `json:"stageIndex"`
	ConversationHistory []Message     `json:"conversationHistory"`
	StageState         map[string]any `json:"stageState,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
}

// GateStatus is the approval state of a Gate.
type GateStatus string

const (
	GateStatusPending  GateStatus = "pending"
	GateStatusApproved GateStatus = "approved"
	GateStatusRejected GateStatus = "rejected"
)

// Gate is an approval checkpoint attached to a task, outside the
// scheduler's critical path.
type Gate struct {
	TaskID      string     `json:"taskId"`
	Name        string     `json:"name"`
	Status      GateStatus `json:"status"`
	RequiredAt  time.Time  `json:"requiredAt"`
	RespondedAt *time.Time `json:"respondedAt,omitempty"`
	Approver    string     `json:"approver,omitempty"`
	Comment     string     `json:"comment,omitempty"`
}

// IdleTask is a candidate piece of work surfaced during idleness, distinct
// from Task until explicitly promoted.
type IdleTask struct {
	ID                string    `json:"id"`
	Type              string    `json:"type"`
	Title             string    `json:"title"`
	Rationale         string    `json:"rationale"`
	Priority          Priority  `json:"priority"`
	EstimatedEffort   Effort    `json:"estimatedEffort"`
	SuggestedWorkflow string    `json:"suggestedWorkflow,omitempty"`
	Implemented       bool      `json:"implemented"`
	PromotedTaskID    string    `json:"promotedTaskId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// ModeThresholds bounds a single mode's resource ceilings.
type ModeThresholds struct {
	MaxTokensPerTask  int64   `json:"maxTokensPerTask"`
	MaxCostPerTask    float64 `json:"maxCostPerTask"`
	MaxConcurrentTasks int    `json:"maxConcurrentTasks"`
	DailyBudget       float64 `json:"dailyBudget"`
}

// UsageSnapshot is an immutable point-in-time read of the usage tracker.
type UsageSnapshot struct {
	CurrentTokens int64          `json:"currentTokens"`
	CurrentCost   float64        `json:"currentCost"`
	ActiveTasks   int            `json:"activeTasks"`
	DailySpent    float64        `json:"dailySpent"`
	CurrentMode   Mode           `json:"currentMode"`
	Thresholds    ModeThresholds `json:"thresholds"`
	ObservedAt    time.Time      `json:"observedAt"`
}

// CapacityAxis names one of the four independently-tracked resource axes.
type CapacityAxis string

const (
	CapacityAxisToken       CapacityAxis = "token"
	CapacityAxisCost        CapacityAxis = "cost"
	CapacityAxisConcurrency CapacityAxis = "concurrency"
	CapacityAxisDailyBudget CapacityAxis = "daily-budget"
)

// RestoreReason explains why a capacity:restored event fired.
type RestoreReason string

const (
	RestoreReasonCapacityDropped RestoreReason = "capacity_dropped"
	RestoreReasonModeSwitch      RestoreReason = "mode_switch"
	RestoreReasonMidnightReset   RestoreReason = "midnight_reset"
	RestoreReasonManual          RestoreReason = "manual"
)

// CapacityStatus is the capacity monitor's externally-visible state.
type CapacityStatus struct {
	Running             bool       `json:"running"`
	NextModeSwitch       *time.Time `json:"nextModeSwitch,omitempty"`
	NextMidnight         *time.Time `json:"nextMidnight,omitempty"`
	LastUsage            *UsageSnapshot `json:"lastUsage,omitempty"`
	HasModeSwitchTimer    bool `json:"hasModeSwitchTimer"`
	HasMidnightTimer      bool `json:"hasMidnightTimer"`
}

// RestartRecord is one entry in a health report's restart history.
type RestartRecord struct {
	Reason     string    `json:"reason"`
	ExitCode   *int      `json:"exitCode,omitempty"`
	ByWatchdog bool      `json:"byWatchdog"`
	At         time.Time `json:"at"`
}

// HealthMetrics accumulates liveness-probe and restart data.
type HealthMetrics struct {
	SuccessfulChecks int64           `json:"successfulChecks"`
	FailedChecks     int64           `json:"failedChecks"`
	LastCheck        *time.Time      `json:"lastCheck,omitempty"`
	RestartHistory   []RestartRecord `json:"restartHistory,omitempty"`
	MemorySampleBytes uint64         `json:"memorySampleBytes,omitempty"`
	TaskCountSample   int            `json:"taskCountSample,omitempty"`
}
