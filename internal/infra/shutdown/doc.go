// Package shutdown provides graceful shutdown for long-running vmsnap
// commands.
//
// This package handles process termination:
//
//   - Signal handling (SIGINT, SIGTERM) or context cancellation
//   - Timeout-bounded cleanup hooks run in reverse registration order
//
// Usage:
//
//	h := shutdown.NewHandler(5 * time.Second)
//	h.OnShutdown(watcher.Stop)
//	err := h.Wait(ctx)
package shutdown
