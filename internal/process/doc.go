// Package process supervises external child processes.
//
// It covers two shapes of work. Long-running daemons are started with
// Start and monitored until Stop, with optional restart-on-failure.
// Bounded one-shot tools (such as firmware flashers) use Run, which
// starts the process, streams its output line by line, and waits for
// exit or context cancellation.
//
// Child processes get their own process group so that a graceful stop
// can signal the whole tree: SIGTERM first, SIGKILL after the
// configured timeout.
package process
