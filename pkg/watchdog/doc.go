/*
Package watchdog restarts the daemon supervisor when something decides it
must, governed by a restart-window/maxRestarts budget rather than an
unconditional retry loop.

canRestart is true whenever the configured restart window has elapsed
since the last restart (the budget resets), or the window hasn't elapsed
but fewer than maxRestarts restarts have happened inside it. Anything
else is suppressed — a crash loop inside one window stops restarting once
the budget is spent, rather than thrashing the process indefinitely.

OnFatalError and OnHealthCheckFailed are the two call sites: one for
components raising a qualifying fatal error directly, one for the health
check loop's own liveness probe failing repeatedly. Neither call ever
takes the scheduler's lock — restart handling runs entirely out-of-band
from the poll loop it's restarting.
*/
package watchdog
