// Command ideam-log is a tool for viewing and analyzing IDEAM subscription
// protocol logs.
//
// Log files are written by "ideam subscribe -protocol-log <file>" (or the
// protocol_log config key) and hold one CBOR record per stream event.
//
// Usage:
//
//	ideam-log <command> [flags] <file.ilog>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSON or CSV format
//	filter   Filter log file and write to new file
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View only chunk events
//	ideam-log view -category chunk sub.ilog
//
//	# Keep one stream and save to new file
//	ideam-log filter -stream-id 3f2a9c1e-... -o one.ilog sub.ilog
//
//	# Show per-stream statistics
//	ideam-log stats sub.ilog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rbccps-iisc/ideam-go/cmd/ideam-log/commands"
)

const usage = `ideam-log - IDEAM Subscription Log Analyzer

Usage:
  ideam-log <command> [flags] <file.ilog>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSON or CSV format
  filter   Filter log file and write to new file
  stats    Show statistics about the log file

Use "ideam-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// newFlagSet returns a flag set whose usage prints the command synopsis.
func newFlagSet(name, synopsis string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "ideam-log %s - %s\n\nUsage:\n  ideam-log %s [flags] <file.ilog>\n\nFlags:\n", name, synopsis, name)
		fs.PrintDefaults()
	}
	return fs
}

// logPath parses args and returns the single positional log path.
func logPath(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runView(args []string) {
	fs := newFlagSet("view", "View log file in human-readable format")
	streamID := fs.String("stream-id", "", "Filter by stream ID")
	layer := fs.String("layer", "", "Filter by layer (transport, stream, controller)")
	category := fs.String("category", "", "Filter by category (chunk, state, error)")
	path := logPath(fs, args)

	filter := commands.ViewFilter{StreamID: *streamID}

	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			fail(err)
		}
		filter.Layer = &l
	}

	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fail(err)
		}
		filter.Category = &c
	}

	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := newFlagSet("export", "Export log file to JSON or CSV format")
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	path := logPath(fs, args)

	if err := commands.RunExport(path, *format, *output); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := newFlagSet("filter", "Filter log file and write to new file")
	output := fs.String("o", "", "Output file (required)")
	streamID := fs.String("stream-id", "", "Filter by stream ID")
	entityID := fs.String("entity-id", "", "Filter by entity ID")
	timeStart := fs.String("time-start", "", "Filter by start time (RFC3339, inclusive)")
	timeEnd := fs.String("time-end", "", "Filter by end time (RFC3339, exclusive)")
	layer := fs.String("layer", "", "Filter by layer (transport, stream, controller)")
	category := fs.String("category", "", "Filter by category (chunk, state, error)")
	path := logPath(fs, args)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	n, err := commands.RunFilter(path, commands.FilterOptions{
		Output:    *output,
		StreamID:  *streamID,
		EntityID:  *entityID,
		TimeStart: *timeStart,
		TimeEnd:   *timeEnd,
		Layer:     *layer,
		Category:  *category,
	})
	if err != nil {
		fail(err)
	}
	fmt.Printf("Filtered %d events to %s\n", n, *output)
}

func runStats(args []string) {
	fs := newFlagSet("stats", "Show statistics about the log file")
	path := logPath(fs, args)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
