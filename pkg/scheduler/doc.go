/*
Package scheduler runs the single poll loop that moves pending tasks to
in-progress and dispatches them to an executor.

Each tick, at most one ready task is claimed and dispatched: the scheduler
asks the store for the highest-priority ready task, checks the usage
tracker's CanStartTask gate, marks it in-progress, and launches its
executor in a goroutine. The first tick after Start additionally runs a
one-shot orphan recovery sweep before any dispatch decision is made.

# Usage

	sched := scheduler.New(scheduler.Config{
		Store:       boltStore,
		Usage:       usageTracker,
		Checkpoints: sessionManager,
		Executor:    myExecutor,
		Broker:      broker,
		Orphan:      orphanRecoverer,
	})
	sched.Start()
	defer sched.Stop()

# Outcomes

An executor's Result.Outcome drives exactly one terminal transition per
task: OutcomeCompleted records usage and marks the task completed,
OutcomeFailed records usage and marks it failed, and OutcomePaused writes a
checkpoint of the in-flight conversation and stage state before marking it
paused. A task that pauses this way leaves the scheduler's running set
immediately; pkg/pauseresume is responsible for bringing it back.

Stop cancels every in-flight execution's context and returns without
waiting for them to unwind; tasks still mid-execution at process exit are
left in-progress for the next startup's orphan recovery sweep to heal.
*/
package scheduler
