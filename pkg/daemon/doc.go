/*
Package daemon is the single entry point that owns every other package's
lifecycle for one project directory.

New wires the store, usage tracker, capacity monitor, session manager,
scheduler, pause/resume controller, orphan sweeper, health monitor, and
watchdog together, threading one shared event broker through all of them.
Start and Stop drive an explicit stopped/starting/running/stopping state
machine: calling either from the wrong state is a no-op that returns
apexerr.ErrInvalidState rather than silently double-starting a component.

The Supervisor also implements watchdog.Supervisor and health.RunnerInfo
itself, so the watchdog can restart the whole daemon by calling Stop then
Start on the same instance it was constructed with, and the health monitor
can sample the daemon's own memory and running-task count.
*/
package daemon
