/*
Package log provides structured logging for apexd using zerolog.

The package wraps zerolog to give every component a JSON- or console-formatted
logger tagged with a component name, plus a handful of context helpers for the
identifiers that show up across the task-lifecycle engine.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	schedulerLog := log.WithComponent("scheduler")
	schedulerLog.Info().Str("task_id", taskID).Msg("dispatching task")

	taskLog := log.WithTaskID(taskID)
	taskLog.Warn().Msg("pause reason: usage_limit")

Do not log secrets or executor stdout verbatim; prefer typed fields
(.Str, .Int, .Err) over string concatenation so logs stay queryable.
*/
package log
