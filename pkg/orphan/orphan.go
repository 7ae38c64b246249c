// Package orphan sweeps for tasks stuck in-progress after an unclean
// restart and recovers them according to a configured policy (spec.md
// §4.7). Grounded on randalmurphal/orc's resumable-task validation branch
// (other_examples/8fb1074f_randalmurphal-orc__internal-orchestrator-
// orchestrator.go.go), translated into a standalone sweep that runs once
// at startup and, optionally, on a periodic timer thereafter.
package orphan

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/joshuaaferguson/apex/pkg/config"
	"github.com/joshuaaferguson/apex/pkg/events"
	"github.com/joshuaaferguson/apex/pkg/log"
	"github.com/joshuaaferguson/apex/pkg/metrics"
	"github.com/joshuaaferguson/apex/pkg/store"
	"github.com/joshuaaferguson/apex/pkg/types"
)

// Policy names one of the three configured recovery actions.
type Policy string

const (
	PolicyPending Policy = "pending"
	PolicyFail    Policy = "fail"
	PolicyRetry   Policy = "retry"
)

const (
	reasonStartupCheck  = "startup_check"
	reasonPeriodicCheck = "periodic_check"
)

// Store is the narrow slice of store.Store the sweep needs.
type Store interface {
	GetOrphanedTasks(staleness time.Duration) ([]*types.Task, error)
	UpdateTask(id string, fields store.TaskFieldSet) error
	UpdateTaskStatus(id string, status types.Status, stage string, message string) error
}

// RunningSet reports the ids the scheduler currently considers in flight,
// so a task that's genuinely still running in this same process is never
// mistaken for an orphan (spec.md §4.7 step 2).
type RunningSet interface {
	IsRunning(taskID string) bool
}

// Sweeper runs the orphan-detection algorithm against a store.
type Sweeper struct {
	store   Store
	running RunningSet
	broker  *events.Broker
	cfg     config.OrphanDetection
	logger  zerolog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	started bool
}

// New creates a Sweeper.
func New(s Store, running RunningSet, broker *events.Broker, cfg config.OrphanDetection) *Sweeper {
	return &Sweeper{
		store:   s,
		running: running,
		broker:  broker,
		cfg:     cfg,
		logger:  log.WithComponent("orphan"),
	}
}

// RecoverOnce runs the sweep a single time, used for the scheduler's
// first-tick hook (spec.md §4.7: "run once at scheduler start, before the
// first poll, gated by config").
func (s *Sweeper) RecoverOnce() error {
	if !s.cfg.Enabled {
		return nil
	}
	return s.sweep(reasonStartupCheck)
}

// StartPeriodic launches the optional periodic re-check timer. Idempotent;
// a no-op when config.PeriodicCheck is false.
func (s *Sweeper) StartPeriodic() {
	if !s.cfg.Enabled || !s.cfg.PeriodicCheck {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	go s.periodicLoop(s.stopCh)
}

// StopPeriodic stops the periodic re-check timer. Idempotent.
func (s *Sweeper) StopPeriodic() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	close(s.stopCh)
}

func (s *Sweeper) periodicLoop(stopCh chan struct{}) {
	interval := time.Duration(s.cfg.PeriodicCheckInterval) * time.Millisecond
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.sweep(reasonPeriodicCheck); err != nil {
				s.logger.Error().Err(err).Msg("periodic orphan sweep failed")
			}
		case <-stopCh:
			return
		}
	}
}

// sweep implements spec.md §4.7's five-step algorithm.
func (s *Sweeper) sweep(reason string) error {
	staleness := time.Duration(s.cfg.StalenessThresholdMs) * time.Millisecond
	if staleness <= 0 {
		staleness = time.Hour
	}

	candidates, err := s.store.GetOrphanedTasks(staleness)
	if err != nil {
		return err
	}

	filtered := candidates[:0]
	for _, task := range candidates {
		if s.running != nil && s.running.IsRunning(task.ID) {
			continue
		}
		filtered = append(filtered, task)
	}
	candidates = filtered

	if len(candidates) == 0 {
		return nil
	}

	metrics.OrphansDetectedTotal.Add(float64(len(candidates)))
	s.publish(events.EventOrphanDetected, "orphaned tasks detected", events.OrphanDetectedPayload{
		Tasks:              candidates,
		DetectedAt:         time.Now().UTC(),
		Reason:             reason,
		StalenessThreshold: staleness,
	})

	for _, task := range candidates {
		s.recoverOne(task)
	}
	return nil
}

func (s *Sweeper) recoverOne(task *types.Task) {
	policy := Policy(s.cfg.RecoveryPolicy)
	var action string
	var newStatus types.Status
	var err error

	switch policy {
	case PolicyFail:
		action = "marked_failed"
		newStatus = types.StatusFailed
		err = s.store.UpdateTaskStatus(task.ID, types.StatusFailed, task.Stage, "orphaned after restart")
	case PolicyRetry:
		action = "retry"
		newStatus = types.StatusPending
		retryCount := task.RetryCount + 1
		pending := types.StatusPending
		err = s.store.UpdateTask(task.ID, store.TaskFieldSet{Status: &pending, RetryCount: &retryCount})
	default: // PolicyPending
		action = "reset_pending"
		newStatus = types.StatusPending
		err = s.store.UpdateTaskStatus(task.ID, types.StatusPending, task.Stage, "")
	}

	if err != nil {
		s.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to recover orphaned task")
		return
	}

	metrics.OrphansRecoveredTotal.WithLabelValues(action).Inc()
	s.publish(events.EventOrphanRecovered, "orphaned task recovered", events.OrphanRecoveredPayload{
		TaskID:         task.ID,
		PreviousStatus: types.StatusInProgress,
		NewStatus:      newStatus,
		Action:         action,
		Timestamp:      time.Now().UTC(),
	})
}

func (s *Sweeper) publish(eventType events.EventType, message string, payload any) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{Type: eventType, Message: message, Payload: payload})
}
