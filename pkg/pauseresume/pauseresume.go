// Package pauseresume brings paused tasks back to pending once capacity
// frees up, following the resume algorithm from spec.md §4.6: parent tasks
// first, then as many ordinary paused tasks as the current concurrency
// budget allows. Grounded on the orchestrator/worker-pool split in
// randalmurphal/orc (internal/orchestrator), adapted to APEX's
// store-backed task model instead of orc's in-memory worker pool.
package pauseresume

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/joshuaaferguson/apex/pkg/apexerr"
	"github.com/joshuaaferguson/apex/pkg/events"
	"github.com/joshuaaferguson/apex/pkg/log"
	"github.com/joshuaaferguson/apex/pkg/metrics"
	"github.com/joshuaaferguson/apex/pkg/store"
	"github.com/joshuaaferguson/apex/pkg/types"
)

// Store is the narrow slice of store.Store the controller needs.
type Store interface {
	FindHighestPriorityParentTask() (*types.Task, error)
	GetPausedTasksForResume() ([]*types.Task, error)
	GetTask(id string) (*types.Task, error)
	UpdateTask(id string, fields store.TaskFieldSet) error
	UpdateTaskStatus(id string, status types.Status, stage string, message string) error
}

// RunningCounter reports how many tasks the scheduler currently has
// dispatched, satisfied by pkg/scheduler.Scheduler.
type RunningCounter interface {
	RunningCount() int
}

// UsageSource reports the live concurrency threshold for the active usage
// mode, satisfied by pkg/usage.Tracker. Kept separate from RunningCounter
// since the two live on different components in the real wiring.
type UsageSource interface {
	GetCurrentUsage() types.UsageSnapshot
}

// Controller subscribes to capacity:restored and resumes paused tasks.
type Controller struct {
	store   Store
	running RunningCounter
	usage   UsageSource
	broker  *events.Broker
	logger  zerolog.Logger

	mu      sync.Mutex
	started bool
	sub     events.Subscriber
	stopCh  chan struct{}
}

// New creates a Controller.
func New(s Store, running RunningCounter, usage UsageSource, broker *events.Broker) *Controller {
	return &Controller{
		store:   s,
		running: running,
		usage:   usage,
		broker:  broker,
		logger:  log.WithComponent("pauseresume"),
	}
}

// Start subscribes to the broker and begins reacting to capacity:restored
// events. Idempotent.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.sub = c.broker.Subscribe()
	c.stopCh = make(chan struct{})
	go c.loop(c.sub, c.stopCh)
}

// Stop unsubscribes from the broker. Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	c.started = false
	close(c.stopCh)
	c.broker.Unsubscribe(c.sub)
}

func (c *Controller) loop(sub events.Subscriber, stopCh chan struct{}) {
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if ev.Type == events.EventCapacityRestored {
				payload, _ := ev.Payload.(events.CapacityRestoredPayload)
				c.onCapacityRestored(payload)
			}
		case <-stopCh:
			return
		}
	}
}

// onCapacityRestored implements spec.md §4.6's two-step resume priority:
// the single highest-priority parent task if one is eligible, otherwise as
// many ordinary paused tasks as the remaining concurrency budget allows.
func (c *Controller) onCapacityRestored(payload events.CapacityRestoredPayload) {
	if parent, err := c.store.FindHighestPriorityParentTask(); err != nil {
		c.logger.Error().Err(err).Msg("failed to query highest priority parent task")
	} else if parent != nil {
		c.resumeTasks([]*types.Task{parent}, "capacity_restored")
		return
	}

	budget := c.usage.GetCurrentUsage().Thresholds.MaxConcurrentTasks - c.running.RunningCount()
	if budget <= 0 {
		return
	}

	candidates, err := c.store.GetPausedTasksForResume()
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to query paused tasks for resume")
		return
	}
	if len(candidates) > budget {
		candidates = candidates[:budget]
	}
	if len(candidates) == 0 {
		return
	}
	c.resumeTasks(candidates, "capacity_restored")
}

// resumeTasks applies the per-task resume algorithm to each candidate and,
// when more than one resumed, emits the aggregate tasks:auto-resumed event.
func (c *Controller) resumeTasks(candidates []*types.Task, reason string) {
	var resumed int
	var errs []string

	for _, task := range candidates {
		if err := c.resumeOne(task, reason); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %s", task.ID, err.Error()))
			continue
		}
		resumed++
	}

	if len(candidates) > 1 {
		c.publish(events.EventTasksAutoResumed, "tasks auto-resumed", events.TasksAutoResumedPayload{
			Reason:       reason,
			TotalTasks:   len(candidates),
			ResumedCount: resumed,
			Errors:       errs,
		})
	}
}

// ResumeTask applies the same per-task resume algorithm onCapacityRestored
// uses, but for a caller-named task rather than a capacity:restored batch
// (spec.md S5's manual resume, and S6's max-resume-attempts-exceeded path).
// Returns apexerr.ErrNotFound if taskID doesn't resolve, and
// apexerr.ErrInvalidTransition if the task isn't currently paused.
func (c *Controller) ResumeTask(taskID string) error {
	task, err := c.store.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("pauseresume: get task: %w", err)
	}
	if task == nil {
		return apexerr.ErrNotFound
	}
	if task.Status != types.StatusPaused {
		return fmt.Errorf("pauseresume: task %s is %s, not paused: %w", taskID, task.Status, apexerr.ErrInvalidTransition)
	}
	return c.resumeOne(task, "manual_resume")
}

// resumeOne applies the resume algorithm for a single task (spec.md §4.6).
func (c *Controller) resumeOne(task *types.Task, reason string) error {
	if task.ResumeAttempts >= task.MaxResumeAttempts {
		const msg = "max resume attempts exceeded"
		if err := c.store.UpdateTaskStatus(task.ID, types.StatusFailed, task.Stage, msg); err != nil {
			return err
		}
		c.publish(events.EventTaskFailed, msg, events.TaskLifecyclePayload{Task: task})
		return errors.New(msg)
	}

	previousStatus := task.Status
	attempts := task.ResumeAttempts + 1
	pending := types.StatusPending
	clearedReason := types.PauseReason("")

	if err := c.store.UpdateTask(task.ID, store.TaskFieldSet{
		Status:           &pending,
		ResumeAttempts:   &attempts,
		PauseReason:      &clearedReason,
		ClearPausedAt:    true,
		ClearResumeAfter: true,
	}); err != nil {
		return err
	}

	var summary string
	var sessionData *types.SessionData
	if task.SessionData != nil {
		summary = task.SessionData.ContextSummary
		sessionData = task.SessionData
	}

	metrics.TasksAutoResumedTotal.Inc()
	c.publish(events.EventTaskSessionResumed, "task session resumed", events.TaskSessionResumedPayload{
		TaskID:         task.ID,
		ResumeReason:   reason,
		ContextSummary: summary,
		PreviousStatus: previousStatus,
		SessionData:    sessionData,
	})
	return nil
}

func (c *Controller) publish(eventType events.EventType, message string, payload any) {
	c.broker.Publish(&events.Event{Type: eventType, Message: message, Payload: payload})
}
