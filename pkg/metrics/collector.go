package metrics

import (
	"time"

	"github.com/joshuaaferguson/apex/pkg/types"
)

// TaskCounter is satisfied by pkg/store's Store; it is the minimal surface
// the collector needs, kept narrow so tests can fake it without an
// on-disk database.
type TaskCounter interface {
	ListTasks(filter types.TaskFilter) ([]*types.Task, error)
	GetReadyTasks(limit int, orderByPriority bool) ([]*types.Task, error)
}

// Collector periodically samples the store and publishes gauge metrics.
// Counters (tasks dispatched/completed/failed, etc.) are incremented
// directly by the components that observe the transitions; this collector
// only fills in point-in-time gauges that are cheap to recompute from a
// full scan.
type Collector struct {
	store  TaskCounter
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over store.
func NewCollector(store TaskCounter) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s interval. Safe to call again
// after a Stop, since the daemon supervisor may cycle through several
// start/stop rounds over one process's lifetime.
func (c *Collector) Start() {
	c.stopCh = make(chan struct{})
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectTaskMetrics()
	c.collectQueueDepth()
}

func (c *Collector) collectTaskMetrics() {
	statuses := []types.Status{
		types.StatusPending, types.StatusInProgress, types.StatusPaused,
		types.StatusCompleted, types.StatusFailed, types.StatusCancelled,
	}
	for _, status := range statuses {
		tasks, err := c.store.ListTasks(types.TaskFilter{Status: status, HasStatus: true})
		if err != nil {
			continue
		}
		TasksTotal.WithLabelValues(string(status)).Set(float64(len(tasks)))
	}
}

func (c *Collector) collectQueueDepth() {
	ready, err := c.store.GetReadyTasks(0, true)
	if err != nil {
		return
	}
	QueueDepth.Set(float64(len(ready)))
}
