// Package config – config.go defines the Retrywatch configuration surface.
// Config is loaded from YAML, with environment-variable expansion so values
// like "${IDE_DEBUG_PORT}" can be resolved at load time.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration consumed by the watcher.
type Config struct {
	// Enabled turns the whole watcher on/off.
	Enabled bool `yaml:"enabled"`

	// BasePort is the center of the remote-debugging port scan.
	BasePort int `yaml:"base_port"`

	// PortRadius widens the scan to [base_port-radius, base_port+radius].
	PortRadius int `yaml:"port_radius"`

	// PollInterval is how often the injected monitor rescans a document.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Cooldown is the minimum time between two clicks on the same document.
	Cooldown time.Duration `yaml:"cooldown"`

	// MaxConnections caps the connection pool; the oldest connection is
	// evicted when a new target would exceed it.
	MaxConnections int `yaml:"max_connections"`

	// AcceptAll also clicks "Accept All" buttons when present.
	AcceptAll bool `yaml:"accept_all"`

	// BannedCommands overrides the built-in banned-command list used by the
	// danger gate. Leave empty to keep the defaults.
	BannedCommands []string `yaml:"banned_commands"`

	// ResetStatsCron is an optional cron expression (robfig/cron syntax)
	// that resets monitor counters, e.g. "0 0 * * *" for midnight.
	ResetStatsCron string `yaml:"reset_stats_cron"`

	// HistoryRetention is how long stats-history samples are kept before the
	// nightly prune removes them.
	HistoryRetention time.Duration `yaml:"history_retention"`

	// Logging configures the slog handler.
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:          true,
		BasePort:         31905,
		PortRadius:       3,
		PollInterval:     3 * time.Second,
		Cooldown:         2 * time.Second,
		MaxConnections:   10,
		AcceptAll:        false,
		HistoryRetention: 7 * 24 * time.Hour,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads, expands and validates a config file. Missing optional fields
// fall back to their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand ${VAR} references before parsing.
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML, creating parent directories as needed.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks ranges and fixes up zero values the way the rest of the
// codebase expects them.
func (c *Config) Validate() error {
	if c.BasePort <= 0 || c.BasePort > 65535 {
		return fmt.Errorf("base_port %d out of range", c.BasePort)
	}
	if c.PortRadius < 0 {
		return fmt.Errorf("port_radius must not be negative")
	}
	if c.PortRadius > 50 {
		return fmt.Errorf("port_radius %d too wide (max 50)", c.PortRadius)
	}
	if c.BasePort-c.PortRadius < 1 {
		return fmt.Errorf("port scan range extends below port 1")
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultConfig().PollInterval
	}
	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultConfig().MaxConnections
	}
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = DefaultConfig().HistoryRetention
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}
