package daemon

import "time"

// startHealthLoop launches the periodic liveness probe spec.md §4.8
// describes ("can I reach the store?"), feeding every outcome to the
// health monitor and, on failure, to the watchdog. Mirrors the ticker +
// stopCh goroutine shape used throughout this package set
// (pkg/capacity.Monitor, pkg/orphan.Sweeper's periodic mode).
func (s *Supervisor) startHealthLoop() {
	s.mu.Lock()
	if s.healthStopCh != nil {
		s.mu.Unlock()
		return
	}
	stopCh := make(chan struct{})
	s.healthStopCh = stopCh
	s.mu.Unlock()

	interval := time.Duration(s.cfg.Daemon.HealthCheck.Interval) * time.Millisecond
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.probeOnce()
			case <-stopCh:
				return
			}
		}
	}()
}

func (s *Supervisor) stopHealthLoop() {
	s.mu.Lock()
	stopCh := s.healthStopCh
	s.healthStopCh = nil
	s.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
	}
}

// probeOnce performs one liveness check against the store and reports the
// outcome, triggering a watchdog restart attempt on failure.
func (s *Supervisor) probeOnce() {
	_, err := s.store.ListTasks(noopProbeFilter)
	success := err == nil
	s.healthMon.PerformHealthCheck(success)
	if !success {
		s.logger.Warn().Err(err).Msg("liveness probe failed")
		s.wd.OnHealthCheckFailed()
	}
}
