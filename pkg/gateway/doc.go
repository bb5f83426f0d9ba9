// Package gateway implements the single-shot operations of the IDEAM
// middleware API: register, publish, bind, unbind and historic data.
//
// Each operation is one HTTP request. The middleware signals success with
// marker strings in the response body rather than with status codes, so
// every endpoint has its own decoder (decode.go) that recognises the
// documented markers and fails closed with a PROTOCOL_ERROR on anything
// else. No request is retried.
//
// Every operation except Register needs the entity API key and fails with
// apierr.ErrAuthNotReady, without touching the network, when it is unset.
package gateway
