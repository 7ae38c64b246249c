// Package usage tracks in-flight token/cost/concurrency consumption for the
// current process and decides whether a new task may start, following the
// mutex-guarded accumulator shape the teacher uses for its per-cycle
// scheduling counters (pkg/scheduler, pkg/reconciler).
package usage

import (
	"sync"
	"time"

	"github.com/joshuaaferguson/apex/pkg/config"
	"github.com/joshuaaferguson/apex/pkg/events"
	"github.com/joshuaaferguson/apex/pkg/log"
	"github.com/joshuaaferguson/apex/pkg/types"
)

// Tracker accumulates resource usage for the running daemon and classifies
// the active time-based mode.
type Tracker struct {
	mu sync.Mutex

	cfg    config.Config
	broker *events.Broker
	now    func() time.Time

	activeTasks   int
	currentTokens int64
	currentCost   float64
	dailySpent    float64
	dailyResetAt  time.Time

	lastMode types.Mode
}

// NewTracker creates a usage tracker bound to cfg's limits and
// time-based-usage windows, publishing mode-changed events through broker.
func NewTracker(cfg config.Config, broker *events.Broker) *Tracker {
	t := &Tracker{
		cfg:          cfg,
		broker:       broker,
		now:          func() time.Time { return time.Now().Local() },
		dailyResetAt: nextMidnightFrom(time.Now().Local()),
	}
	t.lastMode = t.computeMode(t.now())
	return t
}

// TrackTaskStart records that a task began consuming capacity.
func (t *Tracker) TrackTaskStart(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetDailyIfElapsed()
	t.activeTasks++
	t.checkModeChangeLocked()
}

// TrackTaskCompletion records the final resource usage of a finished task
// and releases its concurrency slot regardless of success/failure.
func (t *Tracker) TrackTaskCompletion(taskID string, usage types.ResourceUsage, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetDailyIfElapsed()
	if t.activeTasks > 0 {
		t.activeTasks--
	}
	t.currentTokens += usage.TotalTokens
	t.currentCost += usage.EstimatedCost
	t.dailySpent += usage.EstimatedCost
	t.checkModeChangeLocked()
}

// GetCurrentUsage returns an immutable snapshot, including the thresholds
// that apply to the mode active at the moment of the call.
func (t *Tracker) GetCurrentUsage() types.UsageSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetDailyIfElapsed()
	now := t.now()
	mode := t.computeMode(now)
	return types.UsageSnapshot{
		CurrentTokens: t.currentTokens,
		CurrentCost:   t.currentCost,
		ActiveTasks:   t.activeTasks,
		DailySpent:    t.dailySpent,
		CurrentMode:   mode,
		Thresholds:    t.thresholdsFor(mode),
		ObservedAt:    now,
	}
}

// CanStartTask reports whether a new task may be dispatched right now,
// applying the three checks from the scheduling sequence: concurrency,
// daily budget, and (best-effort) per-task caps.
func (t *Tracker) CanStartTask() (allowed bool, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetDailyIfElapsed()

	mode := t.computeMode(t.now())
	thresholds := t.thresholdsFor(mode)

	if thresholds.MaxConcurrentTasks > 0 && t.activeTasks >= thresholds.MaxConcurrentTasks {
		return false, "Maximum concurrent tasks reached"
	}
	if thresholds.DailyBudget > 0 && t.dailySpent >= thresholds.DailyBudget {
		return false, "Daily budget exhausted"
	}
	if thresholds.MaxCostPerTask > 0 && thresholds.DailyBudget > 0 &&
		t.dailySpent+thresholds.MaxCostPerTask > thresholds.DailyBudget {
		return false, "Projected cost would exceed daily budget"
	}
	return true, ""
}

// GetCurrentMode evaluates the wall-clock hour against the configured
// day/night windows.
func (t *Tracker) GetCurrentMode() types.Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.computeMode(t.now())
}

// GetNextModeSwitch returns the next hour boundary at which the computed
// mode would differ from the current one, or nil when time-based usage is
// disabled.
func (t *Tracker) GetNextModeSwitch() *time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.cfg.Daemon.TimeBasedUsage.Enabled {
		return nil
	}
	now := t.now()
	current := t.computeMode(now)
	for i := 1; i <= 24; i++ {
		candidate := now.Add(time.Duration(i) * time.Hour).Truncate(time.Hour)
		if t.computeMode(candidate) != current {
			return &candidate
		}
	}
	return nil
}

// GetNextMidnight returns the next local-time daily reset boundary.
func (t *Tracker) GetNextMidnight() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dailyResetAt
}

func nextMidnightFrom(now time.Time) time.Time {
	year, month, day := now.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
}

// resetDailyIfElapsed zeroes dailySpent once the reset boundary passes.
// Caller must hold t.mu.
func (t *Tracker) resetDailyIfElapsed() {
	now := t.now()
	if now.Before(t.dailyResetAt) {
		return
	}
	t.dailySpent = 0
	t.dailyResetAt = nextMidnightFrom(now)
}

// computeMode classifies an hour against the configured windows. It returns
// "day" when time-based usage is disabled; an hour in neither configured
// window is "weekend" on Saturday and Sunday and "day" otherwise.
func (t *Tracker) computeMode(at time.Time) types.Mode {
	cfg := t.cfg.Daemon.TimeBasedUsage
	if !cfg.Enabled {
		return types.ModeDay
	}
	hour := at.Hour()
	if hourIn(hour, cfg.NightModeHours) {
		return types.ModeNight
	}
	if hourIn(hour, cfg.DayModeHours) {
		return types.ModeDay
	}
	if at.Weekday() == time.Saturday || at.Weekday() == time.Sunday {
		return types.ModeWeekend
	}
	return types.ModeDay
}

func hourIn(hour int, hours []int) bool {
	for _, h := range hours {
		if h == hour {
			return true
		}
	}
	return false
}

// thresholdsFor resolves the effective limits for mode, falling back to
// the global limits when no mode-specific override is configured.
func (t *Tracker) thresholdsFor(mode types.Mode) types.ModeThresholds {
	global := types.ModeThresholds{
		MaxTokensPerTask:   t.cfg.Limits.MaxTokensPerTask,
		MaxCostPerTask:     t.cfg.Limits.MaxCostPerTask,
		MaxConcurrentTasks: t.cfg.Limits.MaxConcurrentTasks,
		DailyBudget:        t.cfg.Limits.DailyBudget,
	}

	tb := t.cfg.Daemon.TimeBasedUsage
	if !tb.Enabled {
		return global
	}

	var override *config.ModeThresholds
	switch mode {
	case types.ModeDay:
		override = tb.DayModeThresholds
	case types.ModeNight:
		override = tb.NightModeThresholds
	}
	if override == nil {
		return global
	}
	result := global
	if override.MaxTokensPerTask > 0 {
		result.MaxTokensPerTask = override.MaxTokensPerTask
	}
	if override.MaxCostPerTask > 0 {
		result.MaxCostPerTask = override.MaxCostPerTask
	}
	if override.MaxConcurrentTasks > 0 {
		result.MaxConcurrentTasks = override.MaxConcurrentTasks
	}
	return result
}

// checkModeChangeLocked compares the freshly computed mode against the
// last observed one and publishes mode-changed when they differ. Caller
// must hold t.mu.
func (t *Tracker) checkModeChangeLocked() {
	current := t.computeMode(t.now())
	if current == t.lastMode {
		return
	}
	previous := t.lastMode
	t.lastMode = current
	if t.broker == nil {
		return
	}
	t.broker.Publish(&events.Event{
		Type:    events.EventUsageModeChanged,
		Message: "usage mode changed",
		Payload: events.UsageModeChangedPayload{
			PreviousMode: previous,
			CurrentMode:  current,
			Timestamp:    t.now(),
		},
	})
	log.WithComponent("usage").Info().Str("previous_mode", string(previous)).
		Str("current_mode", string(current)).Msg("usage mode changed")
}
