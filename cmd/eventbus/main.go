package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/eventbus/bridge"
	"github.com/tailored-agentic-units/eventbus/config"
)

// cli holds the persistent flags shared by every command.
type cli struct {
	configFile string
	verbose    bool
	serverURL  string
	token      string
	timeout    time.Duration

	stderr io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	c := &cli{stderr: os.Stderr}

	root := &cobra.Command{
		Use:   "eventbus",
		Short: "Addressable event bus with a websocket and RPC bridge",
		Long: `eventbus runs an in-process event bus behind a network bridge and talks
to running bridges: send or publish messages, wait for replies, and mint
client tokens.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&c.configFile, "config", "", "Path to config JSON file")
	root.PersistentFlags().BoolVar(&c.verbose, "verbose", false, "Enable debug logging to stderr")
	root.PersistentFlags().StringVar(&c.serverURL, "server", "http://localhost:7070", "Bridge URL for client commands")
	root.PersistentFlags().StringVar(&c.token, "token", "", "Bearer token for client commands")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 30*time.Second, "Request timeout")

	root.AddCommand(newServeCommand(c))
	root.AddCommand(newSendCommand(c))
	root.AddCommand(newPublishCommand(c))
	root.AddCommand(newTokenCommand(c))

	return root
}

// loadConfig reads --config when given and falls back to defaults.
func (c *cli) loadConfig() (*config.Config, error) {
	if c.configFile == "" {
		cfg := config.DefaultConfig()
		return &cfg, nil
	}

	cfg, err := config.LoadConfig(c.configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (c *cli) logger(cfg *config.Config) *slog.Logger {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	if c.verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

func (c *cli) client() *bridge.Client {
	httpClient := &http.Client{Timeout: c.timeout + 5*time.Second}
	return bridge.NewClient(httpClient, c.serverURL, bridge.WithToken(c.token))
}
