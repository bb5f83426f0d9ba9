package commands

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rbccps-iisc/ideam-go/pkg/log"
)

// createTestLogFile creates a temporary log file with the given events.
func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.ilog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}
	return path
}

func sampleEvents() []log.Event {
	ts := time.Date(2026, 3, 4, 10, 15, 32, 0, time.UTC)
	return []log.Event{
		{
			Timestamp: ts,
			StreamID:  "stream-aaaa-1111",
			EntityID:  "demo-app",
			Layer:     log.LayerStream,
			Category:  log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityStream,
				NewState: "OPEN",
			},
		},
		{
			Timestamp: ts.Add(time.Second),
			StreamID:  "stream-aaaa-1111",
			EntityID:  "demo-app",
			Layer:     log.LayerTransport,
			Category:  log.CategoryChunk,
			Chunk:     log.NewChunkEvent(1, []byte("hello")),
		},
		{
			Timestamp: ts.Add(2 * time.Second),
			StreamID:  "stream-aaaa-1111",
			EntityID:  "demo-app",
			Layer:     log.LayerTransport,
			Category:  log.CategoryChunk,
			Chunk:     &log.ChunkEvent{Seq: 2, Size: 2, Data: []byte{0xff, 0xfe}, Skipped: true},
		},
		{
			Timestamp: ts.Add(3 * time.Second),
			StreamID:  "stream-bbbb-2222",
			Layer:     log.LayerStream,
			Category:  log.CategoryError,
			Error: &log.ErrorEventData{
				Layer:   log.LayerStream,
				Message: "connection reset by peer",
				Kind:    "NETWORK",
				Context: "read",
			},
		},
	}
}

func TestViewFormatsAllEventTypes(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"2026-03-04T10:15:32.000000Z [stream:stream-a] STREAM State",
		"-> OPEN",
		"TRANSPORT Chunk",
		`Data: "hello"`,
		"Data: fffe",
		"Skipped: undecodable",
		"Message: connection reset by peer",
		"Kind: NETWORK",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("view output missing %q\n%s", want, out)
		}
	}
}

func TestViewFilterByCategory(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	cat := log.CategoryChunk

	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{Category: &cat}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}

	out := buf.String()
	if strings.Count(out, " Chunk\n") != 2 {
		t.Errorf("expected 2 chunk events, got:\n%s", out)
	}
	if strings.Contains(out, "State") || strings.Contains(out, "Error") {
		t.Errorf("filter let through other categories:\n%s", out)
	}
}

func TestViewMissingFile(t *testing.T) {
	err := RunView(filepath.Join(t.TempDir(), "missing.ilog"), ViewFilter{}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseFlags(t *testing.T) {
	if l, err := ParseLayerFlag("Controller"); err != nil || l != log.LayerController {
		t.Errorf("ParseLayerFlag(Controller) = %v, %v", l, err)
	}
	if _, err := ParseLayerFlag("wire"); err == nil {
		t.Error("expected error for unknown layer")
	}
	if c, err := ParseCategoryFlag("ERROR"); err != nil || c != log.CategoryError {
		t.Errorf("ParseCategoryFlag(ERROR) = %v, %v", c, err)
	}
	if _, err := ParseCategoryFlag("message"); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestExportJSONL(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.jsonl")

	if err := RunExport(path, "jsonl", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	data := readFile(t, out)
	lines := strings.Split(strings.TrimSpace(data), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(lines))
	}

	var first log.Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line 0 is not JSON: %v", err)
	}
	if first.StreamID != "stream-aaaa-1111" {
		t.Errorf("StreamID = %q", first.StreamID)
	}
}

func TestExportCSV(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.csv")

	if err := RunExport(path, "csv", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(readFile(t, out))).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("expected header + 4 rows, got %d", len(records))
	}
	if records[0][1] != "stream_id" {
		t.Errorf("header = %v", records[0])
	}
	chunk := records[2]
	if chunk[5] != "Chunk" || chunk[6] != "1" || chunk[7] != "5" {
		t.Errorf("chunk row = %v", chunk)
	}
	if records[4][9] != "connection reset by peer" {
		t.Errorf("error row = %v", records[4])
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	if err := RunExport(path, "xml", filepath.Join(t.TempDir(), "x")); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestFilterByStream(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "filtered.ilog")

	n, err := RunFilter(path, FilterOptions{Output: out, StreamID: "stream-bbbb-2222"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 event, got %d", n)
	}

	stats, err := CollectStats(out)
	if err != nil {
		t.Fatalf("CollectStats failed: %v", err)
	}
	if stats.TotalEvents != 1 || stats.Errors != 1 {
		t.Errorf("filtered stats = %+v", stats)
	}
}

func TestFilterTimeWindow(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "filtered.ilog")

	n, err := RunFilter(path, FilterOptions{
		Output:    out,
		TimeStart: "2026-03-04T10:15:33Z",
		TimeEnd:   "2026-03-04T10:15:35Z",
	})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	// End is exclusive: events at +1s and +2s only.
	if n != 2 {
		t.Errorf("expected 2 events, got %d", n)
	}
}

func TestFilterRejectsBadOptions(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "filtered.ilog")

	if _, err := RunFilter(path, FilterOptions{Output: out, TimeStart: "yesterday"}); err == nil {
		t.Error("expected error for bad time-start")
	}
	if _, err := RunFilter(path, FilterOptions{Output: out, Layer: "wire"}); err == nil {
		t.Error("expected error for bad layer")
	}
}

func TestStatsPerStream(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	stats, err := CollectStats(path)
	if err != nil {
		t.Fatalf("CollectStats failed: %v", err)
	}

	if stats.TotalEvents != 4 {
		t.Errorf("TotalEvents = %d, want 4", stats.TotalEvents)
	}
	if len(stats.Streams) != 2 {
		t.Fatalf("Streams = %d, want 2", len(stats.Streams))
	}
	a := stats.Streams["stream-aaaa-1111"]
	if a.Chunks != 2 || a.Bytes != 7 || a.Skipped != 1 {
		t.Errorf("stream a = %+v", a)
	}
	if a.EntityID != "demo-app" || a.FinalState != "OPEN" {
		t.Errorf("stream a = %+v", a)
	}
	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
}

func TestRunStatsOutput(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{"Total Events: 4", "TRANSPORT:", "CHUNK:", "Streams: 2", "[stream-a]", "Chunks: 2 (7 bytes, 1 skipped)", "Errors: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats output missing %q\n%s", want, out)
		}
	}
}
