package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/tailored-agentic-units/eventbus/bus"
	"github.com/tailored-agentic-units/eventbus/config"
	"github.com/tailored-agentic-units/eventbus/observability"
)

// SocketPath is where the websocket endpoint is mounted.
const SocketPath = "/eventbus"

// Server exposes a bus to remote clients over websockets and connect RPC.
type Server struct {
	bus         bus.EventBus
	cfg         config.BridgeConfig
	permissions *Permissions
	hooks       Hooks
	auth        *Auth

	logger   *slog.Logger
	observer observability.Observer
	registry *prometheus.Registry

	upgrader websocket.Upgrader
	handler  http.Handler

	mu       sync.Mutex
	sockets  map[string]*Socket
	wg       sync.WaitGroup
	listener net.Listener

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

func WithHooks(h Hooks) Option {
	return func(s *Server) {
		if h != nil {
			s.hooks = h
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithObserver(o observability.Observer) Option {
	return func(s *Server) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithRegistry serves /metrics from reg instead of a private registry with
// the Go and process collectors. The bus collector is added either way.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		if reg != nil {
			s.registry = reg
		}
	}
}

// New creates a bridge for b. cfg is merged over DefaultBridgeConfig.
func New(b bus.EventBus, cfg config.BridgeConfig, opts ...Option) (*Server, error) {
	merged := config.DefaultBridgeConfig()
	merged.Merge(&cfg)

	permissions, err := NewPermissions(merged.Inbound, merged.Outbound)
	if err != nil {
		return nil, fmt.Errorf("bridge permissions: %w", err)
	}

	s := &Server{
		bus:         b,
		cfg:         merged,
		permissions: permissions,
		hooks:       NopHooks{},
		logger:      slog.Default(),
		observer:    observability.NoOpObserver{},
		sockets:     make(map[string]*Socket),
		upgrader: websocket.Upgrader{
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
		},
	}
	if merged.AuthSecret != "" {
		s.auth = NewAuth(merged.AuthSecret, merged.TokenExpiry.Duration())
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if err := s.registry.Register(bus.NewCollector(b)); err != nil {
		return nil, fmt.Errorf("register bus collector: %w", err)
	}

	s.handler = s.setupRoutes()
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

// Handler returns the bridge routes for mounting in another server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Auth is nil unless an auth secret is configured.
func (s *Server) Auth() *Auth {
	return s.auth
}

func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+SocketPath, s.serveSocket)
	s.rpcRoutes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return s.recovery(mux)
}

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.ErrorContext(
					r.Context(),
					"bridge handler panicked",
					slog.String("path", r.URL.Path),
					slog.Any("panic", err),
				)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return ErrServerRunning
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("bridge listen %s: %w", s.cfg.ListenAddress, err)
	}
	s.listener = ln

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("bridge server stopped", slog.String("error", err.Error()))
		}
	}()

	s.logger.InfoContext(
		ctx,
		"bridge listening",
		slog.String("address", ln.Addr().String()),
		slog.Bool("auth", s.auth != nil),
	)
	return nil
}

// Addr is the bound address once Start returned.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Sockets returns the number of open websocket connections.
func (s *Server) Sockets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sockets)
}

// Shutdown stops accepting connections, closes every socket and waits for
// their cleanup or ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	s.mu.Lock()
	open := make([]*Socket, 0, len(s.sockets))
	for _, sock := range s.sockets {
		open = append(open, sock)
	}
	s.mu.Unlock()

	for _, sock := range open {
		err = multierr.Append(err, sock.Close())
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, fmt.Errorf("waiting for sockets: %w", ctx.Err()))
	}

	s.logger.InfoContext(ctx, "bridge stopped", slog.Int("closed_sockets", len(open)))
	return err
}

func (s *Server) track(sock *Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets[sock.id] = sock
}

func (s *Server) untrack(sock *Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sockets, sock.id)
}

func (s *Server) emit(ctx context.Context, eventType observability.EventType, level observability.Level, data map[string]any) {
	s.observer.OnEvent(ctx, observability.Event{
		Type:      eventType,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "bridge." + s.bus.Name(),
		Data:      data,
	})
}

type claimsKey struct{}

func withClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the token claims of an authenticated RPC.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}
