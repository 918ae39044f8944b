// Package config holds the settings of the lock manager process.
package config

import (
	"encoding/json"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// Config is the complete process configuration.
type Config struct {
	// Diagnostics server
	Host     string `json:"host"`
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`

	// Lock manager
	DeadlockCheckInterval string `json:"deadlock_check_interval"`
	CleanupInterval       string `json:"cleanup_interval"`
	LabelCacheSize        int    `json:"label_cache_size"`
	FlushLock             bool   `json:"flush_lock"`

	// Admission control, 0 disables a gate.
	ReadTickets  int `json:"read_tickets"`
	WriteTickets int `json:"write_tickets"`
}

// DefaultConfig returns a configuration with the default settings.
func DefaultConfig() *Config {
	return &Config{
		Host:                  "127.0.0.1",
		Port:                  61111,
		LogLevel:              "info",
		DeadlockCheckInterval: "500ms",
		CleanupInterval:       "1m",
		LabelCacheSize:        1024,
		ReadTickets:           128,
		WriteTickets:          128,
	}
}

// LoadFromFile reads a JSON file on top of the defaults and validates the
// result.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config file %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// LoadFromFlags overrides the settings that were given on the command line.
func (c *Config) LoadFromFlags(host string, port int, logLevel string) {
	if host != "" {
		c.Host = host
	}
	if port > 0 {
		c.Port = port
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errors.Newf("invalid port: %d", c.Port)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(err, "invalid log level %q", c.LogLevel)
	}
	if d, err := time.ParseDuration(c.DeadlockCheckInterval); err != nil {
		return errors.Wrap(err, "invalid deadlock check interval")
	} else if d <= 0 {
		return errors.Newf("deadlock check interval must be positive: %s", d)
	}
	if d, err := time.ParseDuration(c.CleanupInterval); err != nil {
		return errors.Wrap(err, "invalid cleanup interval")
	} else if d <= 0 {
		return errors.Newf("cleanup interval must be positive: %s", d)
	}
	if c.LabelCacheSize < 1 {
		return errors.New("label cache size must be at least 1")
	}
	if c.ReadTickets < 0 || c.WriteTickets < 0 {
		return errors.New("ticket counts cannot be negative")
	}
	return nil
}

// Addr returns the address of the diagnostics server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Level returns the parsed log level.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// DeadlockCheck returns the parsed deadlock check interval.
func (c *Config) DeadlockCheck() time.Duration {
	d, _ := time.ParseDuration(c.DeadlockCheckInterval)
	return d
}

// Cleanup returns the parsed cleanup interval.
func (c *Config) Cleanup() time.Duration {
	d, _ := time.ParseDuration(c.CleanupInterval)
	return d
}
