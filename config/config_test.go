package config_test

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/multierr"

	"github.com/tailored-agentic-units/eventbus/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	if cfg.Bus.Name != "eventbus" {
		t.Errorf("got Bus.Name %q, want eventbus", cfg.Bus.Name)
	}
	if cfg.Bus.ReplyTimeout() != 0 {
		t.Errorf("got default reply timeout %v, want 0", cfg.Bus.ReplyTimeout())
	}
	if cfg.Bridge.TokenExpiry.Duration() != 24*time.Hour {
		t.Errorf("got TokenExpiry %v, want 24h", cfg.Bridge.TokenExpiry)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestBusConfig_Merge(t *testing.T) {
	cfg := config.DefaultBusConfig()
	logger := slog.New(slog.DiscardHandler)

	cfg.Merge(&config.BusConfig{
		Name:                "merged",
		DefaultReplyTimeout: config.Duration(5 * time.Second),
		Logger:              logger,
	})

	if cfg.Name != "merged" {
		t.Errorf("got Name %q, want merged", cfg.Name)
	}
	if cfg.ReplyTimeout() != 5*time.Second {
		t.Errorf("got ReplyTimeout %v, want 5s", cfg.ReplyTimeout())
	}
	if cfg.Observer != "noop" {
		t.Errorf("got Observer %q, want noop (preserved default)", cfg.Observer)
	}
	if cfg.Logger != logger {
		t.Error("Logger was not merged")
	}
}

func TestConfig_Merge_ZeroValuesPreserveDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	original := cfg

	cfg.Merge(&config.Config{})

	if cfg.Bridge.ListenAddress != original.Bridge.ListenAddress {
		t.Errorf("got ListenAddress %q, want %q", cfg.Bridge.ListenAddress, original.Bridge.ListenAddress)
	}
	if cfg.Bridge.MaxMessageSize != original.Bridge.MaxMessageSize {
		t.Errorf("got MaxMessageSize %d, want %d", cfg.Bridge.MaxMessageSize, original.Bridge.MaxMessageSize)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("got LogLevel %q, want info", cfg.LogLevel)
	}
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "string", input: `"250ms"`, want: 250 * time.Millisecond},
		{name: "compound string", input: `"1m30s"`, want: 90 * time.Second},
		{name: "milliseconds", input: `5000`, want: 5 * time.Second},
		{name: "bad string", input: `"soon"`, wantErr: true},
		{name: "bool", input: `true`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d config.Duration
			err := json.Unmarshal([]byte(tt.input), &d)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && d.Duration() != tt.want {
				t.Errorf("Unmarshal(%s) = %v, want %v", tt.input, d.Duration(), tt.want)
			}
		})
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Bus.Name = ""
	cfg.LogLevel = "loud"
	cfg.Bridge.Inbound = []config.PermitRule{{AddressRegex: "("}}

	err := cfg.Validate()
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("Validate() error = %v, want ErrInvalidConfig", err)
	}
	if got := len(multierr.Errors(err)); got != 3 {
		t.Errorf("Validate() reported %d problems, want 3: %v", got, err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "INFO", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "warning", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := config.ParseLevel(tt.input)
			if err != nil {
				t.Fatalf("ParseLevel(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	content := `{
		"bus": {
			"name": "node-1",
			"default_reply_timeout": "2s"
		},
		"bridge": {
			"listen_address": "127.0.0.1:9000",
			"inbound": [{"address": "echo"}, {"address_re": "news\\..+"}],
			"outbound": [{"address": "news-feed", "match": {"kind": "headline"}}],
			"reply_timeout": 1500
		},
		"log_level": "debug"
	}`

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Bus.Name != "node-1" {
		t.Errorf("got Bus.Name %q, want node-1", cfg.Bus.Name)
	}
	if cfg.Bus.ReplyTimeout() != 2*time.Second {
		t.Errorf("got DefaultReplyTimeout %v, want 2s", cfg.Bus.ReplyTimeout())
	}
	if cfg.Bridge.ReplyTimeout.Duration() != 1500*time.Millisecond {
		t.Errorf("got Bridge.ReplyTimeout %v, want 1.5s", cfg.Bridge.ReplyTimeout)
	}
	if len(cfg.Bridge.Inbound) != 2 || cfg.Bridge.Inbound[1].AddressRegex != `news\..+` {
		t.Errorf("got Inbound %+v", cfg.Bridge.Inbound)
	}
	if cfg.Bridge.Outbound[0].Match["kind"] != "headline" {
		t.Errorf("got Outbound match %v", cfg.Bridge.Outbound[0].Match)
	}
	if cfg.Bridge.PingInterval.Duration() != 25*time.Second {
		t.Errorf("got PingInterval %v, want 25s (preserved default)", cfg.Bridge.PingInterval)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := config.LoadConfig(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("LoadConfig should fail for a missing file")
	}

	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte(`{"bus": `), 0644)
	if _, err := config.LoadConfig(bad); err == nil {
		t.Error("LoadConfig should fail for malformed JSON")
	}

	invalid := filepath.Join(dir, "invalid.json")
	os.WriteFile(invalid, []byte(`{"log_level": "loud"}`), 0644)
	if _, err := config.LoadConfig(invalid); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("LoadConfig error = %v, want ErrInvalidConfig", err)
	}
}
