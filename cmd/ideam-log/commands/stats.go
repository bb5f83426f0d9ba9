package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/rbccps-iisc/ideam-go/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents      int
	EventsByLayer    map[log.Layer]int
	EventsByCategory map[log.Category]int
	Streams          map[string]*StreamStats
	Errors           int
	TimeRange        struct {
		Start time.Time
		End   time.Time
	}
}

// StreamStats holds statistics for a single subscription stream.
type StreamStats struct {
	FirstSeen  time.Time
	LastSeen   time.Time
	Events     int
	EntityID   string
	Chunks     int
	Bytes      int
	Skipped    int
	FinalState string
}

// CollectStats reads the log file and aggregates its events.
func CollectStats(path string) (*Stats, error) {
	reader, err := log.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:    make(map[log.Layer]int),
		EventsByCategory: make(map[log.Category]int),
		Streams:          make(map[string]*StreamStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}

		stats.TotalEvents++
		stats.EventsByLayer[event.Layer]++
		stats.EventsByCategory[event.Category]++

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		stream, ok := stats.Streams[event.StreamID]
		if !ok {
			stream = &StreamStats{
				FirstSeen: event.Timestamp,
				LastSeen:  event.Timestamp,
			}
			stats.Streams[event.StreamID] = stream
		}
		stream.Events++
		if event.Timestamp.After(stream.LastSeen) {
			stream.LastSeen = event.Timestamp
		}
		if event.EntityID != "" && stream.EntityID == "" {
			stream.EntityID = event.EntityID
		}

		switch {
		case event.Chunk != nil:
			stream.Chunks++
			stream.Bytes += event.Chunk.Size
			if event.Chunk.Skipped {
				stream.Skipped++
			}
		case event.StateChange != nil:
			stream.FinalState = event.StateChange.NewState
		case event.Error != nil:
			stats.Errors++
		}
	}

	return stats, nil
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := CollectStats(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== IDEAM Subscription Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerStream, log.LayerController} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryChunk, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Streams: %d\n", len(stats.Streams))
	if len(stats.Streams) > 0 {
		type streamInfo struct {
			id    string
			stats *StreamStats
		}
		streams := make([]streamInfo, 0, len(stats.Streams))
		for id, ss := range stats.Streams {
			streams = append(streams, streamInfo{id, ss})
		}
		sort.Slice(streams, func(i, j int) bool {
			return streams[i].stats.FirstSeen.Before(streams[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, s := range streams {
			duration := s.stats.LastSeen.Sub(s.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenStreamID(s.id), s.stats.Events, duration)
			if s.stats.EntityID != "" {
				fmt.Fprintf(w, "           Entity: %s\n", s.stats.EntityID)
			}
			if s.stats.Chunks > 0 {
				fmt.Fprintf(w, "           Chunks: %d (%d bytes, %d skipped)\n", s.stats.Chunks, s.stats.Bytes, s.stats.Skipped)
			}
			if s.stats.FinalState != "" {
				fmt.Fprintf(w, "           Final state: %s\n", s.stats.FinalState)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
