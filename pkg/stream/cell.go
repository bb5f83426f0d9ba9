package stream

import "sync/atomic"

// Cell holds the most recently published chunk. Publish replaces the held
// chunk; it never queues. A Cell has one writer and any number of readers,
// and its zero value is empty and ready to use.
type Cell struct {
	latest atomic.Pointer[Chunk]
}

// Publish makes c the current chunk. Every Read that starts after Publish
// returns sees c or a chunk published later.
func (cell *Cell) Publish(c Chunk) {
	cell.latest.Store(&c)
}

// Read returns the current chunk, or false if nothing was published yet.
func (cell *Cell) Read() (Chunk, bool) {
	c := cell.latest.Load()
	if c == nil {
		return Chunk{}, false
	}
	return *c, true
}
