// Package executor models the opaque task-execution function the
// scheduler dispatches to (spec.md §1's "execute(taskId, stageIndex,
// resumeContext) -> result"). Modeled as an interface, following the
// teacher's preference for small interfaces over concrete manager types
// (pkg/storage.Store, pkg/health.Checker), so the scheduler can be driven
// by a deterministic Mock in tests without a real agent process.
package executor

import (
	"context"

	"github.com/joshuaaferguson/apex/pkg/types"
)

// Outcome is the terminal classification of one execution attempt.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomePaused    Outcome = "paused"
)

// ResumeContext carries the state execution should continue from; nil
// means a fresh start.
type ResumeContext struct {
	ResumePoint  *types.ResumePoint
	Conversation []types.Message
	StageState   map[string]any
}

// Result is the outcome of a single execute() call.
type Result struct {
	Outcome     Outcome
	Stage       string
	StageIndex  int
	Usage       types.ResourceUsage
	PauseReason types.PauseReason
	Error       string

	Conversation []types.Message
	StageState   map[string]any

	Artifacts []types.Artifact
	Logs      []types.LogEntry
}

// Executor dispatches one stage of one task and blocks until it completes,
// fails, pauses, or ctx is cancelled.
type Executor interface {
	Execute(ctx context.Context, taskID string, stageIndex int, resume *ResumeContext) (Result, error)
}

// Func adapts a plain function to the Executor interface, mirroring the
// standard library's http.HandlerFunc pattern.
type Func func(ctx context.Context, taskID string, stageIndex int, resume *ResumeContext) (Result, error)

// Execute implements Executor.
func (f Func) Execute(ctx context.Context, taskID string, stageIndex int, resume *ResumeContext) (Result, error) {
	return f(ctx, taskID, stageIndex, resume)
}
