// Package subscription owns the lifecycle of an entity's subscribe stream.
//
// A Controller runs at most one stream at a time for its identity. Start
// binds the requested device keys through the gateway, then runs a
// stream.Subscriber on its own goroutine; Stop cancels it and waits for the
// goroutine to exit.
//
// # States
//
//	Idle ──Start──▶ Running ──Stop──▶ Stopping ──▶ Stopped
//	                   │
//	                   ├── stream ends cleanly ──▶ Stopped
//	                   └── stream fails ─────────▶ Failed
//
// Start is accepted from Idle, Stopped and Failed. While Running it fails
// with apierr.ErrAlreadySubscribed; while Stopping with ErrStopInProgress.
//
// # Stopping
//
// Stop is idempotent and may be called from any goroutine. It cancels the
// stream, which closes the connection, and waits up to the grace period
// for the stream goroutine to finish. If the goroutine has not finished by
// then (for example because an OnChunk callback is blocked), the connection
// is force-closed, the goroutine is abandoned with a warning, and the
// controller moves to Stopped anyway.
//
// # Latest value
//
// All streams of a controller publish into the same stream.Cell, so Latest
// keeps returning the last chunk received after a stream stops or fails.
package subscription
