// Command livehub-log views and analyzes protocol capture files.
//
// Capture files are written by livehub-watch -protocol-log.
//
// Usage:
//
//	livehub-log <command> [flags] <file.cbor>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSONL or CSV format
//	filter   Filter log file and write to new file
//	stats    Show statistics about the log file (-json for machine-readable output)
//
// Every command accepts the filter flags -conn-id, -endpoint, -entity,
// -time-start, -time-end, -layer, -direction and -category.
//
// Examples:
//
//	# Show the subscription history of one device
//	livehub-log view -entity press-1 -category state watch.cbor
//
//	# Count reconnects and rejected entities
//	livehub-log stats watch.cbor
//
//	# Keep only the machine hub traffic
//	livehub-log filter -endpoint ws://hub:5080/hubs/machines -o machines.cbor watch.cbor
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/opsboard/livehub-go/cmd/livehub-log/commands"
	"github.com/opsboard/livehub-go/pkg/log"
)

// command is one livehub-log subcommand. setup registers its own flags and
// returns the function that runs it on the capture path.
type command struct {
	name    string
	summary string
	setup   func(fs *flag.FlagSet) func(path string, filter log.Filter) error
}

var commandList = []command{
	{"view", "View log file in human-readable format", func(*flag.FlagSet) func(string, log.Filter) error {
		return func(path string, filter log.Filter) error {
			_, err := commands.RunView(path, filter, os.Stdout)
			return err
		}
	}},
	{"export", "Export log file to JSONL or CSV format", func(fs *flag.FlagSet) func(string, log.Filter) error {
		format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
		output := fs.String("o", "", "Output file (default: stdout)")
		return func(path string, filter log.Filter) error {
			return commands.RunExport(path, filter, *format, *output)
		}
	}},
	{"filter", "Filter log file and write to new file", func(fs *flag.FlagSet) func(string, log.Filter) error {
		output := fs.String("o", "", "Output file (required)")
		return func(path string, filter log.Filter) error {
			if *output == "" {
				return errUsage("output file (-o) required")
			}
			n, err := commands.RunFilter(path, filter, *output)
			if err == nil {
				fmt.Printf("Filtered %d events to %s\n", n, *output)
			}
			return err
		}
	}},
	{"stats", "Show statistics about the log file", func(fs *flag.FlagSet) func(string, log.Filter) error {
		asJSON := fs.Bool("json", false, "Print statistics as JSON")
		return func(path string, filter log.Filter) error {
			stats, err := commands.ComputeStats(path, filter)
			if err != nil {
				return err
			}
			if *asJSON {
				return stats.WriteJSON(os.Stdout)
			}
			return stats.WriteReport(os.Stdout)
		}
	}},
}

type errUsage string

func (e errUsage) Error() string { return string(e) }

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	name, args := os.Args[1], os.Args[2:]

	switch name {
	case "-h", "-help", "--help", "help":
		printUsage(os.Stdout)
		return
	}
	for _, c := range commandList {
		if c.name == name {
			if err := c.run(args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}
	fmt.Fprintf(os.Stderr, "Unknown command: %s\n", name)
	printUsage(os.Stderr)
	os.Exit(1)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, "livehub-log - livehub protocol log analyzer\n\nUsage:\n  livehub-log <command> [flags] <file.cbor>\n\nCommands:\n")
	for _, c := range commandList {
		fmt.Fprintf(w, "  %-8s %s\n", c.name, c.summary)
	}
	fmt.Fprint(w, "\nUse \"livehub-log <command> -help\" for more information about a command.\n")
}

// run parses the shared filter flags plus the command's own, then runs it.
func (c command) run(args []string) error {
	var opts commands.FilterOptions
	fs := flag.NewFlagSet(c.name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "livehub-log %s - %s\n\nUsage:\n  livehub-log %s [flags] <file.cbor>\n\nFlags:\n", c.name, c.summary, c.name)
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection ID")
	fs.StringVar(&opts.Endpoint, "endpoint", "", "Filter by hub URL")
	fs.StringVar(&opts.EntityID, "entity", "", "Filter by entity ID")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, wire, client)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (message, control, state, error)")
	exec := c.setup(fs)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return errUsage("log file path required")
	}
	filter, err := opts.Filter()
	if err != nil {
		return err
	}
	err = exec(fs.Arg(0), filter)
	var u errUsage
	if errors.As(err, &u) {
		fs.Usage()
	}
	return err
}
