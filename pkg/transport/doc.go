// Package transport builds the HTTP clients used to talk to the IDEAM
// middleware.
//
// Each gateway or stream owns its own *http.Client built from a Config.
// TLS verification is a per-client setting: skipping it for a middleware
// instance with a self-signed or otherwise unverifiable certificate never
// affects any other client in the process.
//
// # Timeouts
//
// Two client shapes are provided:
//
//   - NewRequestClient bounds the whole exchange with RequestTimeout. Used
//     for the single-shot register, publish, bind, unbind and historic
//     data calls.
//   - NewStreamClient bounds only connection setup (dial, TLS handshake and
//     waiting for response headers) with ConnectTimeout. The response body
//     of the subscribe endpoint is unbounded, so no overall timeout applies;
//     the stream ends on end-of-body, a transport error, or cancellation.
package transport
