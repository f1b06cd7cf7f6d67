// Package config loads livehub settings from a YAML file and LIVEHUB_*
// environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opsboard/livehub-go/pkg/connection"
	"github.com/opsboard/livehub-go/pkg/discovery"
	"github.com/opsboard/livehub-go/pkg/transport"
	"github.com/opsboard/livehub-go/pkg/wire"
)

// Environment variables read by ApplyEnv.
const (
	EnvDeviceURL  = "LIVEHUB_DEVICE_URL"
	EnvMachineURL = "LIVEHUB_MACHINE_URL"
	EnvCodec      = "LIVEHUB_CODEC"
	EnvLogLevel   = "LIVEHUB_LOG_LEVEL"
	EnvLogFormat  = "LIVEHUB_LOG_FORMAT"
	EnvCacheFile  = "LIVEHUB_CACHE_FILE"
	EnvMaxRetries = "LIVEHUB_MAX_ATTEMPTS"
)

// Config is the complete client and simulator configuration.
type Config struct {
	Hubs       HubsConfig       `yaml:"hubs"`
	Codec      string           `yaml:"codec"`
	Connection ConnectionConfig `yaml:"connection"`
	Logging    LoggingConfig    `yaml:"logging"`
	Cache      CacheConfig      `yaml:"cache"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Sim        SimConfig        `yaml:"sim"`
}

// HubsConfig holds the hub endpoints.
type HubsConfig struct {
	DeviceURL  string `yaml:"device_url"`
	MachineURL string `yaml:"machine_url"`
}

// ConnectionConfig tunes the connection manager.
type ConnectionConfig struct {
	InvokeTimeout time.Duration   `yaml:"invoke_timeout"`
	DialTimeout   time.Duration   `yaml:"dial_timeout"`
	MaxAttempts   int             `yaml:"max_attempts"`
	Backoff       BackoffConfig   `yaml:"backoff"`
	KeepAlive     KeepAliveConfig `yaml:"keepalive"`
}

// BackoffConfig mirrors connection.BackoffConfig.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
}

// KeepAliveConfig enables websocket ping/pong monitoring.
type KeepAliveConfig struct {
	Enabled        bool          `yaml:"enabled"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	MaxMissedPongs int           `yaml:"max_missed_pongs"`
}

// LoggingConfig selects the slog handler and the protocol capture file.
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	ProtocolFile string `yaml:"protocol_file"`
}

// CacheConfig controls the state cache.
type CacheConfig struct {
	File          string `yaml:"file"`
	EvictOnRemove bool   `yaml:"evict_on_remove"`
}

// DiscoveryConfig controls mDNS lookup of hub endpoints.
type DiscoveryConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
	// Deployment restricts discovery to the hubs of one deployment, as
	// advertised by livehub-sim -name. Empty accepts any hub.
	Deployment string `yaml:"deployment"`
}

// SimConfig configures livehub-sim.
type SimConfig struct {
	Listen          string        `yaml:"listen"`
	PublishInterval time.Duration `yaml:"publish_interval"`
	Devices         int           `yaml:"devices"`
	Machines        int           `yaml:"machines"`
	Advertise       bool          `yaml:"advertise"`
	InstanceName    string        `yaml:"instance_name"`
	MockMachines    bool          `yaml:"mock_machines"`
	Seed            int64         `yaml:"seed"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Hubs: HubsConfig{
			DeviceURL:  "ws://localhost:5080/hubs/devices",
			MachineURL: "ws://localhost:5080/hubs/machines",
		},
		Codec: wire.CodecNameJSON,
		Connection: ConnectionConfig{
			InvokeTimeout: 10 * time.Second,
			DialTimeout:   connection.DefaultDialTimeout,
			Backoff: BackoffConfig{
				Initial:    connection.InitialBackoff,
				Max:        connection.MaxBackoff,
				Multiplier: connection.BackoffMultiplier,
				Jitter:     connection.JitterFactor,
			},
			KeepAlive: KeepAliveConfig{
				PingInterval:   transport.DefaultPingInterval,
				PongTimeout:    transport.DefaultPongTimeout,
				MaxMissedPongs: transport.DefaultMaxMissedPongs,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Discovery: DiscoveryConfig{
			Timeout: discovery.BrowseTimeout,
		},
		Sim: SimConfig{
			Listen:          fmt.Sprintf(":%d", discovery.DefaultPort),
			PublishInterval: 2 * time.Second,
			Devices:         5,
			Machines:        3,
			InstanceName:    "livehub-sim",
			Seed:            1,
		},
	}
}

// Parse decodes YAML on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	return cfg, nil
}

// Load reads path (if not empty), applies the environment and validates the
// result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
		}
		cfg, err = Parse(data)
		if err != nil {
			if le, ok := err.(*LoadError); ok {
				le.File = path
			}
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDeviceURL); ok {
		c.Hubs.DeviceURL = v
	}
	if v, ok := lookup(EnvMachineURL); ok {
		c.Hubs.MachineURL = v
	}
	if v, ok := lookup(EnvCodec); ok {
		c.Codec = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.Logging.Level = v
	}
	if v, ok := lookup(EnvLogFormat); ok {
		c.Logging.Format = v
	}
	if v, ok := lookup(EnvCacheFile); ok {
		c.Cache.File = v
	}
	if v, ok := lookup(EnvMaxRetries); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: "connection.max_attempts", Message: fmt.Sprintf("%s=%q is not a number", EnvMaxRetries, v)}
		}
		c.Connection.MaxAttempts = n
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	for field, url := range map[string]string{"hubs.device_url": c.Hubs.DeviceURL, "hubs.machine_url": c.Hubs.MachineURL} {
		if url != "" && !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
			return &ConfigError{Field: field, Message: fmt.Sprintf("%q is not a ws:// or wss:// URL", url)}
		}
	}
	if _, err := wire.CodecByName(c.Codec); err != nil {
		return &ConfigError{Field: "codec", Message: err.Error()}
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return &ConfigError{Field: "logging.level", Message: err.Error()}
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return &ConfigError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q (use text or json)", c.Logging.Format)}
	}
	if c.Connection.InvokeTimeout < 0 {
		return &ConfigError{Field: "connection.invoke_timeout", Message: "must not be negative"}
	}
	if c.Connection.MaxAttempts < 0 {
		return &ConfigError{Field: "connection.max_attempts", Message: "must not be negative"}
	}
	if c.Connection.Backoff.Max > 0 && c.Connection.Backoff.Initial > c.Connection.Backoff.Max {
		return &ConfigError{Field: "connection.backoff", Message: "initial is larger than max"}
	}
	if c.Sim.PublishInterval < 0 {
		return &ConfigError{Field: "sim.publish_interval", Message: "must not be negative"}
	}
	if len(c.Sim.InstanceName) > discovery.MaxInstanceNameLen {
		return &ConfigError{Field: "sim.instance_name", Message: discovery.ErrInstanceNameTooLong.Error()}
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// NewLogger builds the slog logger described by the logging section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := ParseLevel(c.Logging.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// WebSocket returns the dialer settings.
func (c *Config) WebSocket() transport.WebSocketConfig {
	ws := transport.WebSocketConfig{Codecs: []string{c.Codec}}
	if ka := c.Connection.KeepAlive; ka.Enabled {
		ws.KeepAlive = &transport.KeepAliveConfig{
			PingInterval:   ka.PingInterval,
			PongTimeout:    ka.PongTimeout,
			MaxMissedPongs: ka.MaxMissedPongs,
		}
	}
	return ws
}

// Manager returns the connection manager settings for endpoint. Dialer and
// loggers are left to the caller.
func (c *Config) Manager(endpoint string) connection.Config {
	return connection.Config{
		Endpoint:      endpoint,
		InvokeTimeout: c.Connection.InvokeTimeout,
		DialTimeout:   c.Connection.DialTimeout,
		MaxAttempts:   c.Connection.MaxAttempts,
		Backoff: connection.BackoffConfig{
			Initial:    c.Connection.Backoff.Initial,
			Max:        c.Connection.Backoff.Max,
			Multiplier: c.Connection.Backoff.Multiplier,
			Jitter:     c.Connection.Backoff.Jitter,
		},
	}
}
