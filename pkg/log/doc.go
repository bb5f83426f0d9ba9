// Package log provides protocol capture for IDEAM subscription streams.
//
// This package defines the Logger interface and Event types for recording
// what happened on a stream: every chunk read off the wire, every
// lifecycle transition of a subscription, and every error. It is separate
// from operational logging (slog) - protocol capture provides a complete
// machine-readable trace for debugging a feed after the fact.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For long-running collectors: write to a binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/ideam/feed.ilog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at three layers:
//   - Transport: raw chunk bytes as read from the response body (ChunkEvent)
//   - Stream: chunk decode outcome and stream open/close (StateChangeEvent)
//   - Controller: subscription state machine transitions (StateChangeEvent)
//
// Errors at any layer use ErrorEventData.
//
// # File Format
//
// Log files are a concatenation of CBOR-encoded events, conventionally with
// the .ilog extension. The ideam-log command views and summarizes them.
package log
