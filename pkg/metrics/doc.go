/*
Package metrics provides Prometheus metrics collection and exposition for
apexd, plus the liveness/readiness HTTP surface used by the supervisor.

Metrics are registered at package init and exposed via Handler() for
scraping; the Collector periodically recomputes gauges that need a full
store scan (task counts by status, queue depth), while the scheduler,
capacity monitor, session store and watchdog increment their own
counters/histograms directly as they observe transitions.

# Usage

	http.Handle("/metrics", metrics.Handler())
	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

	metrics.RegisterComponent("store", true, "")
	metrics.RegisterComponent("scheduler", true, "")
	http.HandleFunc("/health", metrics.HealthHandler())
	http.HandleFunc("/ready", metrics.ReadyHandler())
*/
package metrics
