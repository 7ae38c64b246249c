// Package watchdog restarts the daemon supervisor when a fatal error or a
// run of failed health checks qualifies under a restart-window policy
// (spec.md §4.8/C9). Grounded on the teacher's watchdog-less but
// state-machine-guarded Stop/Start pattern in
// cuemby-warren/pkg/manager/manager.go, generalized into a standalone
// component instead of a method pair on the cluster manager.
package watchdog

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/joshuaaferguson/apex/pkg/config"
	"github.com/joshuaaferguson/apex/pkg/health"
	"github.com/joshuaaferguson/apex/pkg/log"
)

// Supervisor is the narrow interface the watchdog restarts. Satisfied by
// pkg/daemon.Supervisor; never imported directly to avoid a cycle.
type Supervisor interface {
	Stop() error
	Start() error
}

// HealthRecorder is the narrow slice of health.Monitor the watchdog
// reports restarts to.
type HealthRecorder interface {
	RecordRestart(reason string, exitCode *int, byWatchdog bool)
}

// Watchdog enforces the restart-window/maxRestarts policy described in
// spec.md §4.8. It never holds the scheduler's lock, by design: a
// restart request is handled entirely out-of-band from the poll loop.
type Watchdog struct {
	supervisor Supervisor
	health     HealthRecorder
	cfg        config.Watchdog
	logger     zerolog.Logger

	mu           sync.Mutex
	restartCount int
	lastRestart  time.Time
}

// New creates a Watchdog.
func New(supervisor Supervisor, healthRecorder HealthRecorder, cfg config.Watchdog) *Watchdog {
	return &Watchdog{
		supervisor: supervisor,
		health:     healthRecorder,
		cfg:        cfg,
		logger:     log.WithComponent("watchdog"),
	}
}

// canRestart implements spec.md §4.8's exact policy: true iff the restart
// window has elapsed since the last restart, or the restart budget for
// the current window hasn't been used up yet.
func (w *Watchdog) canRestart() bool {
	if w.lastRestart.IsZero() {
		return true
	}
	window := time.Duration(w.cfg.RestartWindow) * time.Millisecond
	if time.Since(w.lastRestart) > window {
		return true
	}
	return w.restartCount < w.cfg.MaxRestarts
}

// OnFatalError is called whenever a component raises a qualifying fatal
// error. It restarts the supervisor if the policy allows it.
func (w *Watchdog) OnFatalError(reason string) {
	if !w.cfg.Enabled {
		return
	}
	w.restart(reason, false)
}

// OnHealthCheckFailed is called by the health check loop whenever a
// liveness probe fails. It restarts the supervisor only if the watchdog
// is enabled and the restart policy currently allows it.
func (w *Watchdog) OnHealthCheckFailed() {
	if !w.cfg.Enabled {
		return
	}
	w.mu.Lock()
	allowed := w.canRestart()
	w.mu.Unlock()
	if !allowed {
		w.logger.Warn().Msg("health check failed but restart budget exhausted")
		return
	}
	w.restart("health check failed", true)
}

func (w *Watchdog) restart(reason string, byWatchdog bool) {
	w.mu.Lock()
	if !w.canRestart() {
		w.mu.Unlock()
		w.logger.Warn().Str("reason", reason).Msg("restart suppressed, budget exhausted")
		return
	}
	window := time.Duration(w.cfg.RestartWindow) * time.Millisecond
	if w.lastRestart.IsZero() || time.Since(w.lastRestart) > window {
		w.restartCount = 0
	}
	w.restartCount++
	w.lastRestart = time.Now()
	w.mu.Unlock()

	delay := time.Duration(w.cfg.RestartDelay) * time.Millisecond
	if delay > 0 {
		time.Sleep(delay)
	}

	w.logger.Warn().Str("reason", reason).Bool("by_watchdog", byWatchdog).Msg("restarting supervisor")

	if err := w.supervisor.Stop(); err != nil {
		w.logger.Error().Err(err).Msg("watchdog stop failed")
	}
	if err := w.supervisor.Start(); err != nil {
		w.logger.Error().Err(err).Msg("watchdog start failed")
	}

	if w.health != nil {
		w.health.RecordRestart(reason, nil, byWatchdog)
	}
}

var _ HealthRecorder = (*health.Monitor)(nil)
