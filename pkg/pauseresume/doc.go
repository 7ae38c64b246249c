/*
Package pauseresume brings paused tasks back to pending as capacity frees
up. It subscribes to pkg/events' capacity:restored and, on each
notification, resumes the single highest-priority parent task if one is
eligible, or otherwise as many ordinary paused tasks as the scheduler's
remaining concurrency budget allows.

A task that has already exhausted its resume attempts is instead
transitioned straight to failed. Every other resumed task has its
resumeAttempts counter incremented and its pause bookkeeping cleared, then
is left for the scheduler's own poll loop to pick up and re-dispatch with
its latest checkpoint.
*/
package pauseresume
