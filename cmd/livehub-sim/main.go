// Command livehub-sim runs a simulated device hub and machine hub.
//
// Both hubs are served by one HTTP server on the same port:
//   - /hubs/devices   device hub, pushes StateUpdate(deviceId, state)
//   - /hubs/machines  machine hub, pushes StateUpdate(oee)
//   - /healthz        liveness probe
//   - /debug/hubs     sessions and subscriptions as JSON
//
// Device states are published periodically. Machine OEE data is only
// generated when -mock-machines is given; without it the machine hub
// answers with no state.
//
// Usage:
//
//	livehub-sim [flags]
//
// Flags:
//
//	-config string      Configuration file path
//	-listen string      Listen address (default ":5080")
//	-interval duration  Publish interval (default 2s)
//	-devices int        Number of simulated devices (default 5)
//	-machines int       Number of mock machines (default 3)
//	-mock-machines      Generate mock machine OEE data
//	-advertise          Advertise both hubs over mDNS
//	-name string        mDNS instance name prefix (default "livehub-sim")
//	-seed int           Mock data seed (default 1)
//	-log-level string   Log level: debug, info, warn, error
//
// Examples:
//
//	# Device hub only, publishing every second
//	livehub-sim -interval 1s
//
//	# Both hubs with mock machines, discoverable on the LAN
//	livehub-sim -mock-machines -advertise
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opsboard/livehub-go/internal/config"
	"github.com/opsboard/livehub-go/internal/hubsim"
	"github.com/opsboard/livehub-go/pkg/discovery"
	"github.com/opsboard/livehub-go/pkg/transport"
	"github.com/opsboard/livehub-go/pkg/version"
	"github.com/opsboard/livehub-go/pkg/wire"
)

// Flags holds the command line settings. Only flags that were set on the
// command line override the configuration file.
type Flags struct {
	ConfigFile   string
	Listen       string
	Interval     time.Duration
	Devices      int
	Machines     int
	MockMachines bool
	Advertise    bool
	Name         string
	Seed         int64
	LogLevel     string
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path")
	flag.StringVar(&flags.Listen, "listen", fmt.Sprintf(":%d", discovery.DefaultPort), "Listen address")
	flag.DurationVar(&flags.Interval, "interval", 2*time.Second, "Publish interval")
	flag.IntVar(&flags.Devices, "devices", 5, "Number of simulated devices")
	flag.IntVar(&flags.Machines, "machines", 3, "Number of mock machines")
	flag.BoolVar(&flags.MockMachines, "mock-machines", false, "Generate mock machine OEE data")
	flag.BoolVar(&flags.Advertise, "advertise", false, "Advertise both hubs over mDNS")
	flag.StringVar(&flags.Name, "name", "livehub-sim", "mDNS instance name prefix")
	flag.Int64Var(&flags.Seed, "seed", 1, "Mock data seed")
	flag.StringVar(&flags.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "livehub-sim: %v\n", err)
		os.Exit(2)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "livehub-sim: %v\n", err)
		os.Exit(2)
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("livehub-sim failed", "error", err)
		os.Exit(1)
	}
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Sim.Listen = flags.Listen
		case "interval":
			cfg.Sim.PublishInterval = flags.Interval
		case "devices":
			cfg.Sim.Devices = flags.Devices
		case "machines":
			cfg.Sim.Machines = flags.Machines
		case "mock-machines":
			cfg.Sim.MockMachines = flags.MockMachines
		case "advertise":
			cfg.Sim.Advertise = flags.Advertise
		case "name":
			cfg.Sim.InstanceName = flags.Name
		case "seed":
			cfg.Sim.Seed = flags.Seed
		case "log-level":
			cfg.Logging.Level = flags.LogLevel
		}
	})
}

func run(cfg *config.Config, logger *slog.Logger) error {
	devices := hubsim.New(hubsim.Config{Name: "devices", PushStyle: hubsim.PushKeyed, Logger: logger})
	machines := hubsim.New(hubsim.Config{Name: "machines", PushStyle: hubsim.PushEmbedded, Logger: logger})

	ws := transport.WebSocketConfig{
		Codecs: []string{wire.CodecNameJSON, wire.CodecNameCBOR},
		Logger: logger,
	}
	router := hubsim.NewRouter(hubsim.RouterConfig{
		Devices:   devices,
		Machines:  machines,
		WebSocket: ws,
		Logger:    logger,
	})

	ln, err := net.Listen("tcp", cfg.Sim.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Sim.Listen, err)
	}
	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	logger.Info("hub simulator listening",
		"addr", ln.Addr().String(),
		"devices", hubsim.DevicePath,
		"machines", hubsim.MachinePath,
		"mock_machines", cfg.Sim.MockMachines,
	)

	if cfg.Sim.Advertise {
		adv := discovery.NewMDNSAdvertiser(discovery.DefaultAdvertiserConfig())
		defer adv.StopAll()
		if err := advertise(ctx, adv, cfg.Sim.InstanceName, ln.Addr()); err != nil {
			logger.Warn("mDNS advertising failed", "error", err)
		}
	}

	sim := newSimulation(cfg.Sim, devices, machines, logger)
	go sim.run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	devices.DropAll()
	machines.DropAll()
	return srv.Shutdown(shutdownCtx)
}

// advertise registers one mDNS instance per hub, named after the
// deployment with discovery.InstanceName.
func advertise(ctx context.Context, adv discovery.Advertiser, name string, addr net.Addr) error {
	port := uint16(discovery.DefaultPort)
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = uint16(tcp.Port)
	}
	codecs := []string{wire.CodecNameJSON, wire.CodecNameCBOR}

	hubs := []discovery.HubInfo{
		{InstanceName: discovery.InstanceName(name, discovery.KindDevice), Kind: discovery.KindDevice, Path: hubsim.DevicePath},
		{InstanceName: discovery.InstanceName(name, discovery.KindMachine), Kind: discovery.KindMachine, Path: hubsim.MachinePath},
	}
	for i := range hubs {
		info := &hubs[i]
		info.Port = port
		info.Codecs = codecs
		info.Version = version.Current
		if err := adv.Advertise(ctx, info); err != nil {
			return fmt.Errorf("advertise %s (port %d): %w", info.InstanceName, port, err)
		}
	}
	return nil
}
