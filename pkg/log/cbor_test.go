package log

import (
	"bytes"
	"testing"
	"time"
)

func TestEncodeDecodeChunkEvent(t *testing.T) {
	ts := time.Date(2026, 10, 16, 9, 30, 0, 123456789, time.UTC)
	event := Event{
		Timestamp:  ts,
		StreamID:   "5f0c7b2e-0d1a-4c1e-9d59-3f4a8c2b1e77",
		EntityID:   "sensor-01",
		Layer:      LayerTransport,
		Category:   CategoryChunk,
		RemoteAddr: "smartcity.rbccps.org",
		Chunk:      NewChunkEvent(7, []byte(`{"temp":21.5}`)),
	}

	data, err := EncodeEvent(event)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}

	if !decoded.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v (nanoseconds must survive)", decoded.Timestamp, ts)
	}
	if decoded.Chunk == nil || decoded.Chunk.Seq != 7 || string(decoded.Chunk.Data) != `{"temp":21.5}` {
		t.Errorf("Chunk = %+v", decoded.Chunk)
	}
	if decoded.StateChange != nil || decoded.Error != nil {
		t.Error("unset payloads must decode as nil")
	}
}

func TestDecodeAll(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for i := 1; i <= 3; i++ {
		if err := enc.Encode(Event{StreamID: "s", Chunk: &ChunkEvent{Seq: uint64(i)}}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	events, err := DecodeAll(&buf)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[2].Chunk.Seq != 3 {
		t.Errorf("last Seq = %d, want 3", events[2].Chunk.Seq)
	}
}

func TestDecodeAllTruncatedInput(t *testing.T) {
	data, err := EncodeEvent(Event{StreamID: "s"})
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	good, _ := EncodeEvent(Event{StreamID: "first"})
	input := append(good, data[:len(data)-2]...)

	events, err := DecodeAll(bytes.NewReader(input))
	if err == nil {
		t.Fatal("expected error for truncated trailing event")
	}
	if len(events) != 1 || events[0].StreamID != "first" {
		t.Errorf("events before the damage should be returned, got %+v", events)
	}
}
