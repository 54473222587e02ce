// Package config defines the configuration of the event bus and its bridge.
//
// Every section follows the same pattern: a Default constructor with
// working values, and Merge, which copies the non-zero fields of a loaded
// section over the defaults.
package config

import (
	"log/slog"
	"time"
)

// BusConfig defines configuration for a Bus instance.
type BusConfig struct {
	// Name labels log records, events and metrics of this bus.
	Name string `json:"name,omitempty"`

	// DefaultReplyTimeout applies to reply-expecting sends that give no
	// timeout of their own. Zero waits without limit.
	DefaultReplyTimeout Duration `json:"default_reply_timeout,omitempty"`

	// Observer is a comma-separated list of observer names resolved by the
	// observability package.
	Observer string `json:"observer,omitempty"`

	Logger *slog.Logger `json:"-"`
}

func DefaultBusConfig() BusConfig {
	return BusConfig{
		Name:     "eventbus",
		Observer: "noop",
		Logger:   slog.Default(),
	}
}

func (c *BusConfig) Merge(source *BusConfig) {
	if source.Name != "" {
		c.Name = source.Name
	}

	if source.DefaultReplyTimeout > 0 {
		c.DefaultReplyTimeout = source.DefaultReplyTimeout
	}

	if source.Observer != "" {
		c.Observer = source.Observer
	}

	if source.Logger != nil {
		c.Logger = source.Logger
	}
}

// ReplyTimeout returns DefaultReplyTimeout as a time.Duration.
func (c BusConfig) ReplyTimeout() time.Duration {
	return c.DefaultReplyTimeout.Duration()
}
