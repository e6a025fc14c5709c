// Package config loads drainkit configuration from a TOML file.
//
// Every field has a default, so a missing file or an empty document yields a
// usable configuration. Unknown keys are rejected to catch typos.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	dkerrors "github.com/vinayprograms/drainkit/errors"
	"github.com/vinayprograms/drainkit/logging"
	"github.com/vinayprograms/drainkit/shutdown"
)

// Duration is a time.Duration that decodes from strings like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Shutdown  ShutdownConfig  `toml:"shutdown"`
	Log       LogConfig       `toml:"log"`
	Bus       BusConfig       `toml:"bus"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// ServerConfig configures the HTTP listener and admission control.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `toml:"addr"`
	// MaxConnections caps tracked connections. 0 = unlimited.
	MaxConnections int `toml:"max_connections"`
	// AcceptRate is the sustained accepts per second. 0 = unlimited.
	AcceptRate float64 `toml:"accept_rate"`
	// AcceptBurst is the accept burst size.
	AcceptBurst int `toml:"accept_burst"`
	// ReadHeaderTimeout bounds reading request headers.
	ReadHeaderTimeout Duration `toml:"read_header_timeout"`
}

// ShutdownConfig configures the shutdown sequence.
type ShutdownConfig struct {
	// GracePeriod bounds the drain wait.
	GracePeriod Duration `toml:"grace_period"`
	// ForceTimeout is the delay before exit on the forced path.
	ForceTimeout Duration `toml:"force_timeout"`
	// IdleTimeout closes connections idle this long between requests.
	IdleTimeout Duration `toml:"idle_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error. Reloaded live.
	Level string `toml:"level"`
	// Format is json or console.
	Format string `toml:"format"`
	// File enables rotated file output. Empty logs to stderr.
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// BusConfig configures lifecycle announcements and remote shutdown.
type BusConfig struct {
	// URL is the NATS server URL. Empty disables the bus.
	URL string `toml:"url"`
	// Service names the lifecycle and control subjects.
	Service string `toml:"service"`
	// Token for token-based auth.
	Token string `toml:"token"`
	// RemoteShutdown subscribes to the control subject.
	RemoteShutdown bool `toml:"remote_shutdown"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	// Endpoint is the OTLP endpoint. Empty disables tracing.
	Endpoint    string  `toml:"endpoint"`
	Protocol    string  `toml:"protocol"`
	Insecure    bool    `toml:"insecure"`
	SampleRatio float64 `toml:"sample_ratio"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Path      string `toml:"path"`
	Namespace string `toml:"namespace"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":8080",
			AcceptBurst:       64,
			ReadHeaderTimeout: Duration{10 * time.Second},
		},
		Shutdown: ShutdownConfig{
			GracePeriod:  Duration{30 * time.Second},
			ForceTimeout: Duration{time.Second},
			IdleTimeout:  Duration{30 * time.Second},
		},
		Log: LogConfig{
			Level:      string(logging.LevelInfo),
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Bus: BusConfig{
			Service: "drainkit",
		},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "drainkit",
		},
	}
}

// Load reads path over the defaults. An empty path or a missing file yields
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a TOML document over the defaults and validates it.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, dkerrors.InvalidConfig("unknown keys: " + strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return dkerrors.InvalidConfig(err.Error())
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return dkerrors.InvalidConfig(fmt.Sprintf("log format must be json or console, got %q", c.Log.Format))
	}
	if c.Server.AcceptRate < 0 || c.Server.AcceptBurst < 0 {
		return dkerrors.InvalidConfig("accept rate and burst must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return dkerrors.InvalidConfig("telemetry sample ratio must be within [0, 1]")
	}
	if c.Bus.RemoteShutdown && c.Bus.URL == "" {
		return dkerrors.InvalidConfig("remote shutdown requires a bus url")
	}
	sc := c.ShutdownConfig()
	return sc.Validate()
}

// ShutdownConfig returns the coordinator configuration.
func (c Config) ShutdownConfig() shutdown.Config {
	return shutdown.Config{
		GracePeriod:    c.Shutdown.GracePeriod.Duration,
		ForceTimeout:   c.Shutdown.ForceTimeout.Duration,
		IdleTimeout:    c.Shutdown.IdleTimeout.Duration,
		MaxConnections: c.Server.MaxConnections,
		ServiceName:    c.Bus.Service,
	}
}

// LoggingConfig returns the logger configuration.
func (c Config) LoggingConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Log.Level)
	return logging.Config{
		Level:      level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}
