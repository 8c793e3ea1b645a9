// Package shutdown coordinates orderly exit of long-running commands.
//
// A Handler collects cleanup hooks and runs them, newest first, once the
// context it waits on is done. WithSignals derives that context from
// SIGINT and SIGTERM.
//
// Usage:
//
//	ctx, stop := shutdown.WithSignals(context.Background())
//	defer stop()
//	h := shutdown.NewHandler(5 * time.Second)
//	h.OnShutdown(func(ctx context.Context) error { ... })
//	err := h.Wait(ctx)
package shutdown
