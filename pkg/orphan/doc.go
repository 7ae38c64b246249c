/*
Package orphan detects tasks left in-progress by an unclean restart and
recovers them according to a configured policy.

RecoverOnce runs the sweep a single time — wired as the scheduler's
first-tick hook so it always completes before the first dispatch decision.
StartPeriodic additionally arms a re-check timer when configured, for
long-running daemons that want orphan detection to catch tasks that go
stale mid-run rather than only at startup.

Recovery policy is one of three: pending resets the task for a fresh
dispatch, fail gives up on it outright, and retry resets it after bumping
its retry counter. Every recovered task gets its own orphan:recovered
event in addition to the batch-level orphan:detected fired before
recovery begins.
*/
package orphan
