package log

import "time"

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// StreamID identifies one subscription attempt (UUID).
	StreamID string `cbor:"2,keyasint"`

	// EntityID is the subscribing entity.
	EntityID string `cbor:"3,keyasint,omitempty"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the middleware host.
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Chunk       *ChunkEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"` // Stream/controller state
	Error       *ErrorEventData   `cbor:"12,keyasint,omitempty"` // Errors at any layer
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the HTTP body (raw chunk bytes).
	LayerTransport Layer = 0
	// LayerStream is the subscriber's decode loop.
	LayerStream Layer = 1
	// LayerController is the subscription controller.
	LayerController Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerStream:
		return "STREAM"
	case LayerController:
		return "CONTROLLER"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryChunk indicates a data chunk.
	CategoryChunk Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryChunk:
		return "CHUNK"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ChunkEvent captures one chunk read off the stream.
type ChunkEvent struct {
	// Seq is the 1-based position of the chunk within its stream.
	Seq uint64 `cbor:"1,keyasint"`

	// Size is the chunk size in bytes.
	Size int `cbor:"2,keyasint"`

	// Data is the raw chunk bytes (may be truncated for large chunks).
	Data []byte `cbor:"3,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"4,keyasint,omitempty"`

	// Skipped indicates the chunk failed to decode and was not published.
	Skipped bool `cbor:"5,keyasint,omitempty"`
}

// StateChangeEvent captures stream and subscription lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what changed state.
type StateEntity uint8

const (
	// StateEntityStream indicates the HTTP stream (connecting, open, closed).
	StateEntityStream StateEntity = 0
	// StateEntitySubscription indicates the controller's subscription state.
	StateEntitySubscription StateEntity = 1
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityStream:
		return "STREAM"
	case StateEntitySubscription:
		return "SUBSCRIPTION"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Kind is the error classification (see package apierr), if any.
	Kind string `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}

// MaxLogChunkDataSize is the maximum chunk data included in a ChunkEvent.
// Larger chunks are truncated to bound log size.
const MaxLogChunkDataSize = 4096

// NewChunkEvent builds a ChunkEvent for data, truncating the copy kept in
// the log to MaxLogChunkDataSize.
func NewChunkEvent(seq uint64, data []byte) *ChunkEvent {
	ev := &ChunkEvent{Seq: seq, Size: len(data)}
	if len(data) > MaxLogChunkDataSize {
		ev.Data = append([]byte(nil), data[:MaxLogChunkDataSize]...)
		ev.Truncated = true
	} else {
		ev.Data = append([]byte(nil), data...)
	}
	return ev
}
