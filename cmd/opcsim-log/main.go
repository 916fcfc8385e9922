// Command opcsim-log views and analyzes protocol capture files written by
// opcsim-server -protocol-log.
//
// Usage:
//
//	opcsim-log <command> [flags] <file.olog>
//
// Commands:
//
//	view     View events in human-readable format
//	export   Export events to JSON lines or CSV
//	filter   Copy matching events to a new capture file
//	stats    Show statistics about the capture
//
// Examples:
//
//	# View all client writes
//	opcsim-log view -op write server.olog
//
//	# Everything that touched one node
//	opcsim-log view -node "ns=1;i=205" server.olog
//
//	# Export wire-layer events to CSV
//	opcsim-log export -layer wire -format csv server.olog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mash-protocol/opcsim-go/cmd/opcsim-log/commands"
)

const usage = `opcsim-log - Protocol Capture Analyzer

Usage:
  opcsim-log <command> [flags] <file.olog>

Commands:
  view     View events in human-readable format
  export   Export events to JSON lines or CSV
  filter   Copy matching events to a new capture file
  stats    Show statistics about the capture

Use "opcsim-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "view":
		err = runView(args)
	case "export":
		err = runExport(args)
	case "filter":
		err = runFilter(args)
	case "stats":
		err = runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newFlagSet creates a flag set with the shared filter flags.
func newFlagSet(name, summary string) (*flag.FlagSet, *commands.FilterOptions) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "opcsim-log %s - %s\n\nUsage:\n  opcsim-log %s [flags] <file.olog>\n\nFlags:\n", name, summary, name)
		fs.PrintDefaults()
	}

	opts := &commands.FilterOptions{}
	fs.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection ID")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, wire, service)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (message, state, error)")
	fs.StringVar(&opts.Operation, "op", "", "Filter by operation (read, write, browse)")
	fs.StringVar(&opts.NodeID, "node", "", "Filter by node id (ns=<n>;i=<key>)")
	return fs, opts
}

// parse parses the flags and returns the capture path and filter.
func parse(fs *flag.FlagSet, opts *commands.FilterOptions, args []string) (string, commands.FilterOptions, error) {
	if err := fs.Parse(args); err != nil {
		return "", *opts, err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return "", *opts, fmt.Errorf("log file path required")
	}
	return fs.Arg(0), *opts, nil
}

func runView(args []string) error {
	fs, opts := newFlagSet("view", "View events in human-readable format")
	path, o, err := parse(fs, opts, args)
	if err != nil {
		return err
	}
	filter, err := o.Build()
	if err != nil {
		return err
	}
	return commands.RunView(path, filter, os.Stdout)
}

func runExport(args []string) error {
	fs, opts := newFlagSet("export", "Export events to JSON lines or CSV")
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	path, o, err := parse(fs, opts, args)
	if err != nil {
		return err
	}
	filter, err := o.Build()
	if err != nil {
		return err
	}
	return commands.RunExport(path, filter, *format, *output)
}

func runFilter(args []string) error {
	fs, opts := newFlagSet("filter", "Copy matching events to a new capture file")
	output := fs.String("o", "", "Output file (required)")
	path, o, err := parse(fs, opts, args)
	if err != nil {
		return err
	}
	if *output == "" {
		fs.Usage()
		return fmt.Errorf("output file (-o) required")
	}
	filter, err := o.Build()
	if err != nil {
		return err
	}
	count, err := commands.RunFilter(path, filter, *output)
	if err != nil {
		return err
	}
	fmt.Printf("Filtered %d events to %s\n", count, *output)
	return nil
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, "opcsim-log stats - Show statistics about the capture\n\nUsage:\n  opcsim-log stats <file.olog>\n")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("log file path required")
	}
	return commands.RunStats(fs.Arg(0), os.Stdout)
}
