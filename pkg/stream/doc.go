// Package stream consumes the middleware's subscribe endpoint.
//
// The subscribe endpoint answers a single GET with a chunked response that
// never ends on its own: each chunk carries data published by an entity the
// subscriber has bound to. A Subscriber runs that request once, turning every
// chunk into an immutable Chunk and publishing it into a Cell. The Cell holds
// only the most recent chunk; readers poll it from any goroutine.
//
// A Subscriber does not reconnect. Run returns when the stream ends, fails,
// or its context is cancelled, and the error says which:
//
//	nil                      server closed the stream cleanly
//	apierr.ErrCancelled      ctx was cancelled or Close was called
//	apierr.ErrAuthRejected   the middleware refused the entity key
//	apierr.ErrProtocol       unexpected HTTP status
//	apierr.ErrNetwork        connect timeout, TLS failure, connection reset
//
// Lifecycle and restart policy belong to package subscription.
package stream
