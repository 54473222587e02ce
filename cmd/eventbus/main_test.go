package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	"github.com/tailored-agentic-units/eventbus/bridge"
	"github.com/tailored-agentic-units/eventbus/bus"
	"github.com/tailored-agentic-units/eventbus/config"
	"github.com/tailored-agentic-units/eventbus/observability"
	"github.com/tailored-agentic-units/eventbus/value"
)

var permitAll = []config.PermitRule{{AddressRegex: ".*"}}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer

	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func runBridge(t *testing.T) (*bus.Bus, string) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	busConfig := config.DefaultBusConfig()
	busConfig.Logger = logger
	b := bus.New(context.Background(), busConfig)
	t.Cleanup(func() { b.Close(context.Background()) })

	srv, err := bridge.New(b, config.BridgeConfig{Inbound: permitAll}, bridge.WithLogger(logger))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return b, ts.URL
}

func TestTokenCommand(t *testing.T) {
	out, err := execute(t, "token", "--subject", "cli-user", "--secret", "s3cret")
	require.NoError(t, err)

	claims, err := bridge.NewAuth("s3cret", 0).ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "cli-user", claims.Subject)
}

func TestTokenCommand_Errors(t *testing.T) {
	_, err := execute(t, "token", "--subject", "cli-user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no secret")

	_, err = execute(t, "token", "--secret", "s3cret")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subject")
}

func TestSendCommand_Reply(t *testing.T) {
	b, url := runBridge(t)
	_, err := b.RegisterHandler(context.Background(), "echo", replyWithBody)
	require.NoError(t, err)

	out, err := execute(t, "--server", url, "send", "--address", "echo", "--body", `{"b":1,"a":[true,"x"]}`, "--reply")
	require.NoError(t, err)
	assert.Equal(t, `{"b":1,"a":[true,"x"]}`+"\n", out)
}

func TestSendCommand_Failures(t *testing.T) {
	_, url := runBridge(t)

	_, err := execute(t, "--server", url, "--timeout", "2s", "send", "--address", "nobody", "--reply")
	require.Error(t, err)
	assert.ErrorIs(t, err, bus.ErrNoHandlers)

	_, err = execute(t, "--server", url, "send", "--address", "echo", "--body", "{broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON body")
}

func TestSendAndPublishCommands(t *testing.T) {
	b, url := runBridge(t)

	got := make(chan any, 4)
	for range 2 {
		_, err := b.RegisterHandler(context.Background(), "feed", func(_ context.Context, msg *bus.Message) error {
			got <- msg.Body()
			return nil
		})
		require.NoError(t, err)
	}

	out, err := execute(t, "--server", url, "publish", "--address", "feed", "--body", `"story"`)
	require.NoError(t, err)
	assert.Equal(t, "published to feed\n", out)
	assert.Equal(t, "story", receive(t, got))
	assert.Equal(t, "story", receive(t, got))

	out, err = execute(t, "--server", url, "send", "--address", "feed", "--body", "7")
	require.NoError(t, err)
	assert.Equal(t, "sent to feed\n", out)
	assert.Equal(t, int64(7), receive(t, got))
}

func TestServeApp(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Bridge.ListenAddress = "127.0.0.1:0"
	cfg.Bridge.Inbound = permitAll

	var srv *bridge.Server
	app := newServeApp(&cfg, slog.New(slog.DiscardHandler), echoAddresses{"echo"}, fx.Populate(&srv))
	require.NoError(t, app.Err())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Start(ctx))

	client := bridge.NewClient(http.DefaultClient, "http://"+srv.Addr())
	resp, err := client.Request(ctx, "echo", value.String("hello"), nil, time.Second)
	require.NoError(t, err)
	assert.True(t, value.Equal(value.String("hello"), resp.Body))

	require.NoError(t, app.Stop(ctx))
}

func TestProvideObserver(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	tests := []struct {
		names string
		want  observability.Observer
	}{
		{"noop", observability.NoOpObserver{}},
		{"slog, noop", observability.NewSlogObserver(logger)},
		{"slog,missing", observability.NewSlogObserver(logger)},
		{"missing", observability.NoOpObserver{}},
	}

	for _, tt := range tests {
		t.Run(tt.names, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Bus.Observer = tt.names
			assert.Equal(t, tt.want, provideObserver(&cfg, logger))
		})
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
		var zero T
		return zero
	}
}
