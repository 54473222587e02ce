package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/multierr"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the top-level file format read by the eventbus command.
type Config struct {
	Bus      BusConfig    `json:"bus"`
	Bridge   BridgeConfig `json:"bridge"`
	LogLevel string       `json:"log_level,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Bus:      DefaultBusConfig(),
		Bridge:   DefaultBridgeConfig(),
		LogLevel: "info",
	}
}

func (c *Config) Merge(source *Config) {
	c.Bus.Merge(&source.Bus)
	c.Bridge.Merge(&source.Bridge)

	if source.LogLevel != "" {
		c.LogLevel = source.LogLevel
	}
}

// Validate reports every problem found, combined into one error.
func (c *Config) Validate() error {
	var err error

	if c.Bus.Name == "" {
		err = multierr.Append(err, fmt.Errorf("%w: bus name is empty", ErrInvalidConfig))
	}
	if c.Bus.DefaultReplyTimeout < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: default_reply_timeout is negative", ErrInvalidConfig))
	}
	if _, lerr := ParseLevel(c.LogLevel); lerr != nil {
		err = multierr.Append(err, fmt.Errorf("%w: %v", ErrInvalidConfig, lerr))
	}
	if c.Bridge.MaxMessageSize < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: max_message_size is negative", ErrInvalidConfig))
	}
	for i, rule := range c.Bridge.Inbound {
		if rerr := rule.validate(); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("%w: inbound[%d]: %v", ErrInvalidConfig, i, rerr))
		}
	}
	for i, rule := range c.Bridge.Outbound {
		if rerr := rule.validate(); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("%w: outbound[%d]: %v", ErrInvalidConfig, i, rerr))
		}
	}

	return err
}

// ParseLevel maps a textual log level to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// LoadConfig reads a JSON config file, merges it with defaults, and
// validates the result.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
