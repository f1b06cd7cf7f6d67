// Command livehub-watch subscribes to live device and machine hubs and
// prints every state update.
//
// Entities are given as kind:id arguments. Without arguments, or with
// -interactive, a command shell is started instead.
//
// Usage:
//
//	livehub-watch [flags] [device:<id>|machine:<id>]...
//
// Flags:
//
//	-config string        Configuration file path
//	-device-url string    Device hub websocket URL
//	-machine-url string   Machine hub websocket URL
//	-codec string         Wire codec: json, cbor
//	-log-level string     Log level: debug, info, warn, error
//	-interactive          Start the command shell
//	-discover             Find hubs over mDNS instead of using the URLs
//	-protocol-log string  Record protocol events to a CBOR file
//	-cache-file string    Load and save the state cache
//	-replay string        Print a recorded protocol log and exit
//	-replay-entity string Only replay events of this entity
//
// Examples:
//
//	# Watch two devices
//	livehub-watch device:press-1 device:press-2
//
//	# Find the hubs on the LAN and open the shell
//	livehub-watch -discover -interactive
//
//	# Show what a previous session sent and received
//	livehub-watch -replay watch.cbor
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/opsboard/livehub-go/cmd/livehub-log/commands"
	"github.com/opsboard/livehub-go/cmd/livehub-watch/interactive"
	"github.com/opsboard/livehub-go/internal/config"
	"github.com/opsboard/livehub-go/pkg/discovery"
	"github.com/opsboard/livehub-go/pkg/log"
)

// Flags holds the command line settings. Only flags that were set on the
// command line override the configuration file.
type Flags struct {
	ConfigFile   string
	DeviceURL    string
	MachineURL   string
	Codec        string
	LogLevel     string
	Interactive  bool
	Discover     bool
	ProtocolLog  string
	CacheFile    string
	Replay       string
	ReplayEntity string
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path")
	flag.StringVar(&flags.DeviceURL, "device-url", "", "Device hub websocket URL")
	flag.StringVar(&flags.MachineURL, "machine-url", "", "Machine hub websocket URL")
	flag.StringVar(&flags.Codec, "codec", "json", "Wire codec: json, cbor")
	flag.StringVar(&flags.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&flags.Interactive, "interactive", false, "Start the command shell")
	flag.BoolVar(&flags.Discover, "discover", false, "Find hubs over mDNS instead of using the URLs")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Record protocol events to a CBOR file")
	flag.StringVar(&flags.CacheFile, "cache-file", "", "Load and save the state cache")
	flag.StringVar(&flags.Replay, "replay", "", "Print a recorded protocol log and exit")
	flag.StringVar(&flags.ReplayEntity, "replay-entity", "", "Only replay events of this entity")
}

func main() {
	flag.Parse()

	if flags.Replay != "" {
		if err := replay(os.Stdout, flags.Replay, log.Filter{EntityID: flags.ReplayEntity}); err != nil {
			fmt.Fprintf(os.Stderr, "livehub-watch: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "livehub-watch: %v\n", err)
		os.Exit(2)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "livehub-watch: %v\n", err)
		os.Exit(2)
	}

	targets, err := parseTargets(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "livehub-watch: %v\n", err)
		os.Exit(2)
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if err := run(cfg, targets, logger); err != nil {
		logger.Error("livehub-watch failed", "error", err)
		os.Exit(1)
	}
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device-url":
			cfg.Hubs.DeviceURL = flags.DeviceURL
		case "machine-url":
			cfg.Hubs.MachineURL = flags.MachineURL
		case "codec":
			cfg.Codec = flags.Codec
		case "log-level":
			cfg.Logging.Level = flags.LogLevel
		case "discover":
			cfg.Discovery.Enabled = flags.Discover
		case "protocol-log":
			cfg.Logging.ProtocolFile = flags.ProtocolLog
		case "cache-file":
			cfg.Cache.File = flags.CacheFile
		}
	})
}

// watchTarget is one kind:id argument.
type watchTarget struct {
	Kind string
	ID   string
}

func parseTargets(args []string) ([]watchTarget, error) {
	out := make([]watchTarget, 0, len(args))
	for _, arg := range args {
		kind, id, ok := strings.Cut(arg, ":")
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid target %q: expected kind:id", arg)
		}
		switch kind {
		case interactive.KindDevice, interactive.KindMachine:
		default:
			return nil, fmt.Errorf("invalid target %q: unknown kind %q", arg, kind)
		}
		out = append(out, watchTarget{Kind: kind, ID: id})
	}
	return out, nil
}

func run(cfg *config.Config, targets []watchTarget, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Discovery.Enabled {
		browser := discovery.NewMDNSBrowser(discovery.DefaultBrowserConfig())
		defer browser.Stop()
		discoverHubs(ctx, cfg, browser, logger)
	}

	plog, closeLog, err := protocolLogger(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLog()

	s, err := newSession(cfg, logger, plog)
	if err != nil {
		return err
	}
	defer s.close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	if flags.Interactive || len(targets) == 0 {
		shell, err := interactive.New(s.devices, s.machines)
		if err != nil {
			return err
		}
		shell.Run(ctx, cancel)
		return nil
	}

	if err := s.watch(ctx, targets, os.Stdout); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// discoverHubs replaces the configured URLs with hubs found over mDNS. A
// kind that is not found keeps its configured URL.
func discoverHubs(ctx context.Context, cfg *config.Config, browser discovery.Browser, logger *slog.Logger) {
	for _, k := range []struct {
		kind discovery.HubKind
		url  *string
	}{
		{discovery.KindDevice, &cfg.Hubs.DeviceURL},
		{discovery.KindMachine, &cfg.Hubs.MachineURL},
	} {
		filters := []discovery.FilterFunc{
			discovery.FilterByKind(k.kind),
			discovery.FilterByCodec(cfg.Codec),
			discovery.FilterCompatible(),
		}
		if d := cfg.Discovery.Deployment; d != "" {
			filters = append(filters, discovery.FilterByName(discovery.InstanceName(d, k.kind)))
		}
		svc, err := discovery.Find(ctx, browser, cfg.Discovery.Timeout, filters...)
		if err != nil {
			logger.Warn("hub not discovered, using configured URL", "kind", k.kind, "url", *k.url, "error", err)
			continue
		}
		*k.url = svc.URL()
		logger.Info("hub discovered", "kind", k.kind, "instance", svc.InstanceName, "url", *k.url)
	}
}

// protocolLogger records protocol events to the configured file and, at
// debug level, to the operational log.
func protocolLogger(cfg *config.Config, logger *slog.Logger) (log.Logger, func(), error) {
	loggers := []log.Logger{log.NewSlogAdapter(logger)}
	closeFn := func() {}

	if path := cfg.Logging.ProtocolFile; path != "" {
		fl, err := log.NewFileLogger(path)
		if err != nil {
			return nil, nil, fmt.Errorf("protocol log: %w", err)
		}
		loggers = append(loggers, fl)
		closeFn = func() {
			if err := fl.Close(); err != nil {
				logger.Warn("closing protocol log failed", "path", path, "error", err)
			}
			if err := fl.Err(); err != nil {
				logger.Warn("protocol log incomplete", "path", path, "error", err)
			}
			logger.Info("protocol log closed", "path", path, "events", fl.Count())
		}
		logger.Info("recording protocol events", "path", path)
	}
	return log.NewMultiLogger(loggers...), closeFn, nil
}

// replay prints every event of a protocol log that matches filter.
func replay(w io.Writer, path string, filter log.Filter) error {
	n, err := commands.RunView(path, filter, w)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d events\n", n)
	return nil
}
