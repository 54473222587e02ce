package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/tailored-agentic-units/eventbus/bridge"
	"github.com/tailored-agentic-units/eventbus/bus"
	"github.com/tailored-agentic-units/eventbus/config"
	"github.com/tailored-agentic-units/eventbus/observability"
)

type echoAddresses []string

func newServeCommand(c *cli) *cobra.Command {
	var (
		listen string
		echo   []string
		permit []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an event bus behind a bridge",
		Long: `Run an event bus and expose it through the websocket and RPC bridge.
Handlers given with --echo answer every request with its own body.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Bridge.ListenAddress = listen
			}
			for _, pattern := range permit {
				rule := config.PermitRule{AddressRegex: pattern}
				cfg.Bridge.Inbound = append(cfg.Bridge.Inbound, rule)
				cfg.Bridge.Outbound = append(cfg.Bridge.Outbound, rule)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := c.logger(cfg)
			app := newServeApp(cfg, logger, echoAddresses(echo))
			return runApp(cmd.Context(), app)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Bridge listen address (overrides config)")
	cmd.Flags().StringSliceVar(&echo, "echo", nil, "Register an echo handler on this address (repeatable)")
	cmd.Flags().StringSliceVar(&permit, "permit", nil, "Permit traffic in both directions for addresses matching this regex (repeatable)")

	return cmd
}

func newServeApp(cfg *config.Config, logger *slog.Logger, echo echoAddresses, extra ...fx.Option) *fx.App {
	options := []fx.Option{
		fx.Supply(cfg, logger, echo),
		fx.Provide(
			provideObserver,
			provideBus,
			provideBridge,
		),
		fx.Invoke(registerEcho, startBridge),
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: l.With(slog.String("component", "fx"))}
		}),
	}
	return fx.New(append(options, extra...)...)
}

func runApp(ctx context.Context, app *fx.App) error {
	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	select {
	case <-ctx.Done():
	case <-app.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancel()
	return app.Stop(stopCtx)
}

// provideObserver resolves the configured observer list with "slog" bound
// to the command's logger.
func provideObserver(cfg *config.Config, logger *slog.Logger) observability.Observer {
	observer, err := observability.Resolve(cfg.Bus.Observer, logger)
	if err != nil {
		logger.Warn("observer not found, skipped", slog.String("error", err.Error()))
	}
	return observer
}

func provideBus(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger, observer observability.Observer) *bus.Bus {
	busConfig := cfg.Bus
	busConfig.Logger = logger

	b := bus.New(context.Background(), busConfig, bus.WithObserver(observer))
	lc.Append(fx.Hook{
		OnStop: b.Close,
	})
	return b
}

func provideBridge(b *bus.Bus, cfg *config.Config, logger *slog.Logger, observer observability.Observer) (*bridge.Server, error) {
	return bridge.New(b, cfg.Bridge,
		bridge.WithLogger(logger),
		bridge.WithObserver(observer),
	)
}

func registerEcho(lc fx.Lifecycle, b *bus.Bus, echo echoAddresses, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			for _, address := range echo {
				if _, err := b.RegisterHandler(ctx, address, replyWithBody); err != nil {
					return fmt.Errorf("echo handler %s: %w", address, err)
				}
				logger.InfoContext(ctx, "echo handler registered", slog.String("address", address))
			}
			return nil
		},
	})
}

func replyWithBody(ctx context.Context, msg *bus.Message) error {
	return msg.Reply(ctx, msg.Value(), bus.WithHeaders(msg.Headers()))
}

func startBridge(lc fx.Lifecycle, srv *bridge.Server) {
	lc.Append(fx.Hook{
		OnStart: srv.Start,
		OnStop:  srv.Shutdown,
	})
}
