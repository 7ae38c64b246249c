// Package scheduler owns the single poll loop that moves pending tasks to
// in-progress and dispatches them to an executor. Keeps the teacher's
// Scheduler struct shape (mu sync.Mutex, stopCh chan struct{}, a ticker
// loop launched in a goroutine) but replaces container-to-node scheduling
// with task-to-executor dispatch.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/joshuaaferguson/apex/pkg/events"
	"github.com/joshuaaferguson/apex/pkg/executor"
	"github.com/joshuaaferguson/apex/pkg/log"
	"github.com/joshuaaferguson/apex/pkg/metrics"
	"github.com/joshuaaferguson/apex/pkg/store"
	"github.com/joshuaaferguson/apex/pkg/types"
)

// Store is the narrow slice of store.Store the scheduler drives.
type Store interface {
	GetReadyTasks(limit int, orderByPriority bool) ([]*types.Task, error)
	UpdateTask(id string, fields store.TaskFieldSet) error
	UpdateTaskStatus(id string, status types.Status, stage string, message string) error
	GetTask(id string) (*types.Task, error)
	GetLatestCheckpoint(taskID string) (*types.Checkpoint, error)
}

// UsageTracker is the narrow slice of usage.Tracker the scheduler consults
// before every dispatch.
type UsageTracker interface {
	CanStartTask() (bool, string)
	TrackTaskStart(taskID string)
	TrackTaskCompletion(taskID string, usage types.ResourceUsage, success bool)
	GetCurrentUsage() types.UsageSnapshot
}

// CheckpointWriter is the narrow slice of session.Manager the scheduler
// uses to persist state when a task pauses mid-execution.
type CheckpointWriter interface {
	CreateCheckpoint(task *types.Task, conversation []types.Message, stageState map[string]any) (*types.Checkpoint, error)
}

// OrphanRecoverer runs the startup orphan sweep (§4.7); injected so this
// package never imports pkg/orphan directly.
type OrphanRecoverer interface {
	RecoverOnce() error
}

// WorkflowRegistry resolves a task's current stage name from its workflow
// name and stage index, satisfied by pkg/workflow.Registry. Kept as a
// narrow interface so the scheduler's own tests never need a real
// workflows.yaml on disk.
type WorkflowRegistry interface {
	StageAt(workflow string, index int) (string, bool)
}

// Scheduler owns the single poll loop and the set of in-flight executions
// for one project instance.
type Scheduler struct {
	store       Store
	usage       UsageTracker
	checkpoints CheckpointWriter
	executor    executor.Executor
	broker      *events.Broker
	orphan      OrphanRecoverer
	workflows   WorkflowRegistry

	pollInterval time.Duration
	logger       zerolog.Logger

	mu           sync.Mutex
	stopCh       chan struct{}
	running      bool
	runningTasks map[string]context.CancelFunc
	firstTick    bool

	pollCount int64
}

// Config bundles the scheduler's constructor dependencies.
type Config struct {
	Store        Store
	Usage        UsageTracker
	Checkpoints  CheckpointWriter
	Executor     executor.Executor
	Broker       *events.Broker
	Orphan       OrphanRecoverer
	Workflows    WorkflowRegistry
	PollInterval time.Duration
}

// New creates a scheduler from cfg, defaulting PollInterval to 1s
// (spec.md §4.5) when left zero.
func New(cfg Config) *Scheduler {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{
		store:        cfg.Store,
		usage:        cfg.Usage,
		checkpoints:  cfg.Checkpoints,
		executor:     cfg.Executor,
		broker:       cfg.Broker,
		orphan:       cfg.Orphan,
		workflows:    cfg.Workflows,
		pollInterval: interval,
		logger:       log.WithComponent("scheduler"),
		runningTasks: make(map[string]context.CancelFunc),
		firstTick:    true,
	}
}

// Start begins the poll loop. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	go s.run(s.stopCh)
}

// Stop signals the loop to exit after the current tick completes, then
// asks every in-flight executor to cancel cooperatively.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	cancels := make([]context.CancelFunc, 0, len(s.runningTasks))
	for _, cancel := range s.runningTasks {
		cancels = append(cancels, cancel)
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// SetOrphanRecoverer wires the orphan sweep after construction, breaking
// the cycle where pkg/orphan.New itself needs this Scheduler as a
// RunningSet. Call before Start; safe to call at most once.
func (s *Scheduler) SetOrphanRecoverer(o OrphanRecoverer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orphan = o
}

// RunningCount reports how many tasks are currently dispatched.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runningTasks)
}

// IsRunning reports whether taskID is currently dispatched in this
// process, satisfying pkg/orphan.RunningSet.
func (s *Scheduler) IsRunning(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runningTasks[taskID]
	return ok
}

func (s *Scheduler) run(stopCh chan struct{}) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-stopCh:
			return
		}
	}
}

// tick performs one cooperative, non-reentrant poll cycle (spec.md §4.5).
func (s *Scheduler) tick() {
	metrics.SchedulerTicksTotal.Inc()

	s.mu.Lock()
	s.pollCount++
	isFirst := s.firstTick
	s.firstTick = false
	runningCount := len(s.runningTasks)
	s.mu.Unlock()

	if isFirst && s.orphan != nil {
		if err := s.orphan.RecoverOnce(); err != nil {
			s.logger.Error().Err(err).Msg("orphan recovery failed")
		}
	}

	maxConcurrent := s.usage.GetCurrentUsage().Thresholds.MaxConcurrentTasks
	if maxConcurrent > 0 && runningCount >= maxConcurrent {
		return
	}

	tasks, err := s.store.GetReadyTasks(1, true)
	if err != nil {
		// Transient storage errors get one in-loop retry (spec.md §7)
		// before escalating to a fatal daemon:error.
		tasks, err = s.store.GetReadyTasks(1, true)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list ready tasks")
		s.publish(events.EventDaemonError, "store read failed", events.DaemonErrorPayload{
			Err: err, Component: "scheduler", Fatal: true, Timestamp: time.Now().UTC(),
		})
		return
	}
	if len(tasks) == 0 {
		return
	}
	task := tasks[0]

	allowed, reason := s.usage.CanStartTask()
	if !allowed {
		s.logger.Debug().Str("task_id", task.ID).Str("reason", reason).Msg("dispatch skipped")
		return
	}

	s.dispatch(task)
	metrics.RunningTasksGauge.Set(float64(s.RunningCount()))
}

// dispatch marks task in-progress, registers it as running, and launches
// its executor asynchronously.
func (s *Scheduler) dispatch(task *types.Task) {
	now := time.Now().UTC()
	fields := store.TaskFieldSet{
		Status:    statusPtr(types.StatusInProgress),
		UpdatedAt: &now,
	}

	// Resolve the stage name the workflow registry assigns to this task's
	// current index, and emit task:stage-changed whenever it differs from
	// the stage already recorded on the row (fresh dispatch or advancing
	// past a stage the executor completed internally).
	stageName := task.Stage
	if s.workflows != nil {
		if name, ok := s.workflows.StageAt(task.Workflow, task.StageIndex); ok {
			stageName = name
		}
	}
	stageChanged := stageName != task.Stage
	if stageChanged {
		fields.Stage = &stageName
	}

	if err := s.store.UpdateTask(task.ID, fields); err != nil {
		s.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to mark task in-progress")
		return
	}
	task.Stage = stageName
	if stageChanged {
		s.publish(events.EventTaskStageChanged, "task stage changed", events.TaskStageChangedPayload{Task: task, Stage: stageName})
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.runningTasks[task.ID] = cancel
	s.mu.Unlock()

	s.usage.TrackTaskStart(task.ID)
	metrics.TasksDispatchedTotal.Inc()

	resume := s.buildResumeContext(task.ID)

	go s.runExecution(ctx, cancel, task, resume)
}

func (s *Scheduler) buildResumeContext(taskID string) *executor.ResumeContext {
	cp, err := s.store.GetLatestCheckpoint(taskID)
	if err != nil || cp == nil {
		return nil
	}
	return &executor.ResumeContext{
		ResumePoint: &types.ResumePoint{Stage: cp.Stage, Step: cp.StageIndex},
		Conversation: cp.ConversationHistory,
		StageState:   cp.StageState,
	}
}

// runExecution drives a single executor call to completion and applies its
// outcome (spec.md §4.5 step 6 / pause-from-within-execution).
func (s *Scheduler) runExecution(ctx context.Context, cancel context.CancelFunc, task *types.Task, resume *executor.ResumeContext) {
	defer cancel()
	defer func() {
		s.mu.Lock()
		delete(s.runningTasks, task.ID)
		s.mu.Unlock()
		metrics.RunningTasksGauge.Set(float64(s.RunningCount()))
	}()

	timer := metrics.NewTimer()
	result, err := s.executor.Execute(ctx, task.ID, task.StageIndex, resume)
	timer.ObserveDuration(metrics.ExecutorDuration)

	if err != nil {
		s.completeFailed(task, err.Error(), types.ResourceUsage{})
		return
	}

	switch result.Outcome {
	case executor.OutcomeCompleted:
		s.completeSucceeded(task, result)
	case executor.OutcomeFailed:
		s.completeFailed(task, result.Error, result.Usage)
	case executor.OutcomePaused:
		s.completePaused(task, result)
	default:
		s.completeFailed(task, "unknown executor outcome", result.Usage)
	}
}

func (s *Scheduler) completeSucceeded(task *types.Task, result executor.Result) {
	s.usage.TrackTaskCompletion(task.ID, result.Usage, true)
	metrics.TasksCompletedTotal.Inc()

	now := time.Now().UTC()
	_ = s.store.UpdateTask(task.ID, store.TaskFieldSet{
		Status:        statusPtr(types.StatusCompleted),
		CompletedAt:   &now,
		UpdatedAt:     &now,
		InputTokens:   &result.Usage.InputTokens,
		OutputTokens:  &result.Usage.OutputTokens,
		TotalTokens:   &result.Usage.TotalTokens,
		EstimatedCost: &result.Usage.EstimatedCost,
	})
	s.publish(events.EventTaskCompleted, "task completed", events.TaskLifecyclePayload{Task: task})
}

func (s *Scheduler) completeFailed(task *types.Task, message string, usage types.ResourceUsage) {
	s.usage.TrackTaskCompletion(task.ID, usage, false)
	metrics.TasksFailedTotal.Inc()

	_ = s.store.UpdateTaskStatus(task.ID, types.StatusFailed, task.Stage, message)
	s.publish(events.EventTaskFailed, "task failed", events.TaskLifecyclePayload{Task: task})
}

// completePaused writes a checkpoint of the in-flight conversation/stage
// state and moves the task to paused, leaving it out of runningTasks.
func (s *Scheduler) completePaused(task *types.Task, result executor.Result) {
	s.usage.TrackTaskCompletion(task.ID, result.Usage, false)
	metrics.TasksPausedTotal.Inc()

	if s.checkpoints != nil {
		if _, err := s.checkpoints.CreateCheckpoint(task, result.Conversation, result.StageState); err != nil {
			s.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to checkpoint paused task")
		}
	}

	_ = s.store.UpdateTaskStatus(task.ID, types.StatusPaused, result.Stage, string(result.PauseReason))
	s.publish(events.EventTaskStageChanged, "task paused", events.TaskStageChangedPayload{Task: task, Stage: result.Stage})
}

func (s *Scheduler) publish(eventType events.EventType, message string, payload any) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{Type: eventType, Message: message, Payload: payload})
}

func statusPtr(s types.Status) *types.Status { return &s }
