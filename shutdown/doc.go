// Package shutdown coordinates graceful termination of a network service.
//
// # Overview
//
// A Coordinator owns the connection registry, the resource tracker and the
// drain controller. The first trigger (a signal, an escaped fault, a remote
// request or a programmatic call) starts the shutdown sequence; every later
// trigger is logged and ignored.
//
// # Sequence
//
//	ACTIVE ──trigger──▶ PENDING ──stop accept──▶ DRAINING
//	                                               │ bounded by grace period
//	                                               ▼
//	                TERMINATED ◀──callbacks── CLEANUP
//
//  1. Stop accepting: the listener is closed. Existing connections stay open.
//  2. Drain: wait for tracked connections to close, force-closing stragglers
//     once the grace period elapses.
//  3. Cleanup: release tracked timers, intervals and subscriptions, and run
//     resource-cleanup callbacks.
//  4. Callbacks: run user shutdown callbacks concurrently and wait for all.
//  5. Terminate: log the outcome and exit with its status.
//
// A failure in one phase task never prevents later tasks or phases from
// running. A fault that escapes the sequence itself takes the forced path:
// connections are destroyed, resources released, and the process exits with
// ExitSignalError after the force timeout.
//
// # Exit Status
//
//   - ExitClean (0): every phase completed without error
//   - ExitDrainTimeout (1): the grace period was exceeded
//   - ExitCleanupFailure (2): a cleanup or callback task failed
//   - ExitSignalError (3): a signal-level or sequence-level fault
//
// # Usage
//
//	coord, err := shutdown.New(shutdown.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	coord.OnShutdown("flush-queue", func(ctx context.Context) error {
//	    return queue.Flush(ctx)
//	})
//
//	d := shutdown.NewDispatcher(coord)
//	d.Listen() // SIGTERM, SIGINT, SIGUSR2
//	defer d.Recover()
//
//	<-coord.Done()
package shutdown
