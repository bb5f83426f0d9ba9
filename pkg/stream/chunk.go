package stream

import (
	"bytes"
	"time"
)

// Chunk is one decoded piece of the subscribe stream. It is immutable.
type Chunk struct {
	payload    []byte
	receivedAt time.Time
}

// NewChunk returns a chunk holding a private copy of payload.
func NewChunk(payload []byte, receivedAt time.Time) Chunk {
	return Chunk{
		payload:    bytes.Clone(payload),
		receivedAt: receivedAt,
	}
}

// Payload returns a copy of the chunk data.
func (c Chunk) Payload() []byte {
	return bytes.Clone(c.payload)
}

// Text returns the chunk data as a string.
func (c Chunk) Text() string {
	return string(c.payload)
}

// Len returns the payload size in bytes.
func (c Chunk) Len() int {
	return len(c.payload)
}

// ReceivedAt returns when the chunk was read off the wire.
func (c Chunk) ReceivedAt() time.Time {
	return c.receivedAt
}

// ReceivedAtMillis returns ReceivedAt as Unix milliseconds.
func (c Chunk) ReceivedAtMillis() int64 {
	return c.receivedAt.UnixMilli()
}
