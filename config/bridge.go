package config

import (
	"fmt"
	"regexp"
	"time"
)

// PermitRule matches traffic crossing the bridge. A rule matches when every
// field it sets matches: Address exactly, AddressRegex as a regular
// expression over the whole address, and Match as a subset of the fields of
// a map body.
type PermitRule struct {
	Address      string         `json:"address,omitempty"`
	AddressRegex string         `json:"address_re,omitempty"`
	Match        map[string]any `json:"match,omitempty"`
}

func (r PermitRule) validate() error {
	if r.AddressRegex == "" {
		return nil
	}
	if _, err := regexp.Compile(r.AddressRegex); err != nil {
		return fmt.Errorf("address_re %q: %w", r.AddressRegex, err)
	}
	return nil
}

// BridgeConfig configures the network bridge that exposes the bus to
// websocket and RPC clients.
type BridgeConfig struct {
	ListenAddress string `json:"listen_address,omitempty"`

	// Inbound rules filter what clients may send or publish, Outbound rules
	// what they may register for and receive. No rules means no traffic.
	Inbound  []PermitRule `json:"inbound,omitempty"`
	Outbound []PermitRule `json:"outbound,omitempty"`

	// AuthSecret enables HS256 bearer token checks when set.
	AuthSecret  string   `json:"auth_secret,omitempty"`
	TokenExpiry Duration `json:"token_expiry,omitempty"`

	ReplyTimeout   Duration `json:"reply_timeout,omitempty"`
	PingInterval   Duration `json:"ping_interval,omitempty"`
	MaxMessageSize int64    `json:"max_message_size,omitempty"`
}

func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		ListenAddress:  ":7070",
		TokenExpiry:    Duration(24 * time.Hour),
		ReplyTimeout:   Duration(30 * time.Second),
		PingInterval:   Duration(25 * time.Second),
		MaxMessageSize: 1 << 20,
	}
}

func (c *BridgeConfig) Merge(source *BridgeConfig) {
	if source.ListenAddress != "" {
		c.ListenAddress = source.ListenAddress
	}

	if len(source.Inbound) > 0 {
		c.Inbound = source.Inbound
	}

	if len(source.Outbound) > 0 {
		c.Outbound = source.Outbound
	}

	if source.AuthSecret != "" {
		c.AuthSecret = source.AuthSecret
	}

	if source.TokenExpiry > 0 {
		c.TokenExpiry = source.TokenExpiry
	}

	if source.ReplyTimeout > 0 {
		c.ReplyTimeout = source.ReplyTimeout
	}

	if source.PingInterval > 0 {
		c.PingInterval = source.PingInterval
	}

	if source.MaxMessageSize > 0 {
		c.MaxMessageSize = source.MaxMessageSize
	}
}
