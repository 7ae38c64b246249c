// Package capacity periodically samples the usage tracker and publishes a
// capacity:restored event whenever a previously exhausted resource axis
// clears, following the teacher's ticker+stopCh loop shape
// (pkg/scheduler/scheduler.go, pkg/reconciler/reconciler.go).
package capacity

import (
	"sync"
	"time"

	"github.com/joshuaaferguson/apex/pkg/events"
	"github.com/joshuaaferguson/apex/pkg/log"
	"github.com/joshuaaferguson/apex/pkg/metrics"
	"github.com/joshuaaferguson/apex/pkg/types"
)

const sampleInterval = 30 * time.Second

// UsageSource is the narrow slice of pkg/usage.Tracker the monitor needs.
type UsageSource interface {
	GetCurrentUsage() types.UsageSnapshot
	GetNextModeSwitch() *time.Time
	GetNextMidnight() time.Time
}

// Monitor samples a UsageSource on a fixed interval plus two scheduled
// alarms (next mode switch, next midnight) and emits capacity:restored
// through the broker when any previously exhausted axis clears.
type Monitor struct {
	usage  UsageSource
	broker *events.Broker

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}

	exhausted map[types.CapacityAxis]bool
	lastUsage *types.UsageSnapshot

	hasModeSwitchTimer bool
	hasMidnightTimer   bool
}

// NewMonitor creates a capacity monitor over usage, publishing restore
// events on broker.
func NewMonitor(usage UsageSource, broker *events.Broker) *Monitor {
	return &Monitor{
		usage:     usage,
		broker:    broker,
		exhausted: make(map[types.CapacityAxis]bool),
	}
}

// Start begins the sampling loop. Idempotent: a second call is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	go m.run(m.stopCh)
}

// Stop halts the sampling loop. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stopCh)
}

// Status reports the monitor's externally-visible state.
func (m *Monitor) Status() types.CapacityStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := types.CapacityStatus{
		Running:            m.running,
		LastUsage:          m.lastUsage,
		HasModeSwitchTimer: m.hasModeSwitchTimer,
		HasMidnightTimer:   m.hasMidnightTimer,
	}
	if next := m.usage.GetNextModeSwitch(); next != nil {
		status.NextModeSwitch = next
	}
	midnight := m.usage.GetNextMidnight()
	status.NextMidnight = &midnight
	return status
}

func (m *Monitor) run(stopCh chan struct{}) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	modeSwitchTimer, midnightTimer := m.armTimers()
	defer modeSwitchTimer.Stop()
	defer midnightTimer.Stop()

	for {
		select {
		case <-ticker.C:
			m.sample(types.RestoreReasonCapacityDropped)
		case <-modeSwitchTimer.C:
			m.sample(types.RestoreReasonModeSwitch)
			modeSwitchTimer.Stop()
			modeSwitchTimer, _ = m.armTimers()
		case <-midnightTimer.C:
			m.sample(types.RestoreReasonMidnightReset)
			midnightTimer.Stop()
			_, midnightTimer = m.armTimers()
		case <-stopCh:
			return
		}
	}
}

// armTimers creates fresh timers for the next mode switch and the next
// midnight, recording whether each alarm is actually scheduled.
func (m *Monitor) armTimers() (*time.Timer, *time.Timer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var modeSwitchTimer *time.Timer
	if next := m.usage.GetNextModeSwitch(); next != nil {
		m.hasModeSwitchTimer = true
		modeSwitchTimer = time.NewTimer(time.Until(*next))
	} else {
		m.hasModeSwitchTimer = false
		modeSwitchTimer = time.NewTimer(24 * time.Hour)
	}

	midnight := m.usage.GetNextMidnight()
	m.hasMidnightTimer = true
	midnightTimer := time.NewTimer(time.Until(midnight))

	return modeSwitchTimer, midnightTimer
}

// sample compares current usage against its mode's thresholds across the
// four tracked axes and publishes capacity:restored for any axis that
// flips from exhausted to clear.
func (m *Monitor) sample(reason types.RestoreReason) {
	snap := m.usage.GetCurrentUsage()

	current := map[types.CapacityAxis]bool{
		types.CapacityAxisToken:       snap.Thresholds.MaxTokensPerTask > 0 && snap.CurrentTokens >= snap.Thresholds.MaxTokensPerTask,
		types.CapacityAxisCost:        snap.Thresholds.MaxCostPerTask > 0 && snap.CurrentCost >= snap.Thresholds.MaxCostPerTask,
		types.CapacityAxisConcurrency: snap.Thresholds.MaxConcurrentTasks > 0 && snap.ActiveTasks >= snap.Thresholds.MaxConcurrentTasks,
		types.CapacityAxisDailyBudget: snap.Thresholds.DailyBudget > 0 && snap.DailySpent >= snap.Thresholds.DailyBudget,
	}

	m.mu.Lock()
	previous := m.lastUsage
	var restoredAny bool
	for axis, isExhausted := range current {
		wasExhausted := m.exhausted[axis]
		if wasExhausted && !isExhausted {
			restoredAny = true
		}
		m.exhausted[axis] = isExhausted
		value := 0.0
		if isExhausted {
			value = 1.0
		}
		metrics.CapacityExhaustedAxes.WithLabelValues(string(axis)).Set(value)
	}
	m.lastUsage = &snap
	m.mu.Unlock()

	metrics.CurrentMode.Reset()
	metrics.CurrentMode.WithLabelValues(string(snap.CurrentMode)).Set(1)
	metrics.DailySpent.Set(snap.DailySpent)

	if !restoredAny || previous == nil {
		return
	}

	metrics.CapacityRestoredTotal.WithLabelValues(string(reason)).Inc()
	if m.broker != nil {
		m.broker.Publish(&events.Event{
			Type:    events.EventCapacityRestored,
			Message: "capacity restored",
			Payload: events.CapacityRestoredPayload{
				Reason:        reason,
				Timestamp:     time.Now(),
				PreviousUsage: *previous,
				CurrentUsage:  snap,
				ModeInfo:      snap.CurrentMode,
			},
		})
	}
	log.WithComponent("capacity").Info().Str("reason", string(reason)).Msg("capacity restored")
}
