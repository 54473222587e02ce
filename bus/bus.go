package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tailored-agentic-units/eventbus/config"
	"github.com/tailored-agentic-units/eventbus/eventloop"
	"github.com/tailored-agentic-units/eventbus/observability"
	"github.com/tailored-agentic-units/eventbus/registry"
)

// Handler processes a delivered message on the context it was registered
// from. A returned error is reported to the sender as a recipient failure
// when the message expects a reply, and logged otherwise.
type Handler func(ctx context.Context, msg *Message) error

// ReplyHandler receives the outcome of a reply-expecting send: either the
// reply message, or a *ReplyError describing why none arrived.
type ReplyHandler func(ctx context.Context, reply *Message, err error)

// EventBus is the surface the bridge and applications program against.
type EventBus interface {
	Name() string

	RegisterHandler(ctx context.Context, address string, handler Handler, opts ...registry.Option) (registry.ID, error)
	RegisterLocalHandler(ctx context.Context, address string, handler Handler, opts ...registry.Option) (registry.ID, error)
	UnregisterHandler(id registry.ID) bool

	Send(ctx context.Context, address string, body any, opts ...SendOption) error
	SendWithReply(ctx context.Context, address string, body any, onReply ReplyHandler, opts ...SendOption) error
	SendWithTimeout(ctx context.Context, address string, body any, timeout time.Duration, onReply ReplyHandler, opts ...SendOption) error
	Publish(ctx context.Context, address string, body any, opts ...SendOption) error
	Fail(ctx context.Context, address string, code int, message string) error

	DefaultReplyTimeout() time.Duration
	SetDefaultReplyTimeout(timeout time.Duration)

	Metrics() MetricsSnapshot
	Close(ctx context.Context) error
}

var _ EventBus = (*Bus)(nil)

// Bus is an in-process event bus. Create one with New and share it; there is
// no package-level instance.
type Bus struct {
	name string

	registry    *registry.Registry[Handler]
	defaultLoop *eventloop.Loop
	scheduler   eventloop.Scheduler

	pending      map[string]*pendingReply
	pendingMutex sync.Mutex

	replyTimeout atomic.Int64
	closed       atomic.Bool

	logger   *slog.Logger
	observer observability.Observer
	metrics  *Metrics

	ctx context.Context
}

// Option configures a Bus.
type Option func(*Bus)

// WithScheduler replaces the wall-clock scheduler used for reply timeouts.
func WithScheduler(s eventloop.Scheduler) Option {
	return func(b *Bus) {
		if s != nil {
			b.scheduler = s
		}
	}
}

// WithObserver overrides the observer named in the configuration, which is
// then never looked up.
func WithObserver(o observability.Observer) Option {
	return func(b *Bus) {
		if o != nil {
			b.observer = o
		}
	}
}

// New creates a bus. Handlers registered from a context without a current
// execution context run on the bus's default loop.
func New(ctx context.Context, busConfig config.BusConfig, opts ...Option) *Bus {
	cfg := config.DefaultBusConfig()
	cfg.Merge(&busConfig)

	b := &Bus{
		name:      cfg.Name,
		registry:  registry.New[Handler](),
		scheduler: eventloop.NewScheduler(nil),
		pending:   make(map[string]*pendingReply),
		logger:    cfg.Logger,
		metrics:   NewMetrics(),
		ctx:       context.WithoutCancel(ctx),
	}
	b.replyTimeout.Store(int64(cfg.ReplyTimeout()))

	for _, opt := range opts {
		opt(b)
	}

	// WithObserver takes precedence over the configured name
	if b.observer == nil {
		observer, err := observability.Resolve(cfg.Observer, b.logger)
		if err != nil {
			b.logger.WarnContext(
				ctx,
				"observer not found",
				slog.String("bus_name", b.name),
				slog.String("observer", cfg.Observer),
				slog.String("error", err.Error()),
			)
		}
		b.observer = observer
	}

	b.defaultLoop = eventloop.NewLoop(b.name+".default", b.logger)

	return b
}

func (b *Bus) Name() string {
	return b.name
}

// RegisterHandler registers handler for address on the caller's execution
// context and returns the id to unregister it with. Pass registry.OneShot to
// have the handler removed when it is selected for the first time.
func (b *Bus) RegisterHandler(ctx context.Context, address string, handler Handler, opts ...registry.Option) (registry.ID, error) {
	return b.register(ctx, address, handler, opts)
}

// RegisterLocalHandler is like RegisterHandler but the handler only receives
// messages sent from this process, never from bridge clients.
func (b *Bus) RegisterLocalHandler(ctx context.Context, address string, handler Handler, opts ...registry.Option) (registry.ID, error) {
	return b.register(ctx, address, handler, append(opts, registry.LocalOnly()))
}

func (b *Bus) register(ctx context.Context, address string, handler Handler, opts []registry.Option) (registry.ID, error) {
	if b.closed.Load() {
		return "", ErrClosed
	}
	if handler == nil {
		return "", fmt.Errorf("%w: %s", ErrNilHandler, address)
	}

	reg, err := b.registry.Register(address, b.current(ctx), handler, opts...)
	if err != nil {
		return "", err
	}

	b.logger.DebugContext(
		ctx,
		"handler registered",
		slog.String("bus_name", b.name),
		slog.String("address", address),
		slog.String("handler_id", string(reg.ID)),
		slog.String("context", reg.Target.Name()),
	)
	b.emit(ctx, EventRegister, observability.LevelVerbose, map[string]any{
		"address":    address,
		"handler_id": string(reg.ID),
		"visibility": reg.Visibility.String(),
	})

	return reg.ID, nil
}

// UnregisterHandler removes a registration. Unknown ids, including ids of
// one-shot handlers that already fired, are ignored.
func (b *Bus) UnregisterHandler(id registry.ID) bool {
	reg, ok := b.registry.Unregister(id)
	if !ok {
		return false
	}

	b.logger.DebugContext(
		b.ctx,
		"handler unregistered",
		slog.String("bus_name", b.name),
		slog.String("address", reg.Address),
		slog.String("handler_id", string(id)),
	)
	b.emit(b.ctx, EventUnregister, observability.LevelVerbose, map[string]any{
		"address":    reg.Address,
		"handler_id": string(id),
	})

	return true
}

// Send delivers body to one handler of address. Without a handler the
// message is dropped.
func (b *Bus) Send(ctx context.Context, address string, body any, opts ...SendOption) error {
	return b.send(ctx, address, body, nil, 0, opts)
}

// SendWithReply sends body and calls onReply with the reply, or with a
// *ReplyError. The bus default reply timeout applies.
func (b *Bus) SendWithReply(ctx context.Context, address string, body any, onReply ReplyHandler, opts ...SendOption) error {
	if onReply == nil {
		return fmt.Errorf("%w: reply handler for %s", ErrNilHandler, address)
	}
	return b.send(ctx, address, body, onReply, b.DefaultReplyTimeout(), opts)
}

// SendWithTimeout is SendWithReply with an explicit timeout.
func (b *Bus) SendWithTimeout(ctx context.Context, address string, body any, timeout time.Duration, onReply ReplyHandler, opts ...SendOption) error {
	if onReply == nil {
		return fmt.Errorf("%w: reply handler for %s", ErrNilHandler, address)
	}
	if timeout <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidTimeout, timeout)
	}
	return b.send(ctx, address, body, onReply, timeout, opts)
}

// Publish delivers body to every handler registered on address.
func (b *Bus) Publish(ctx context.Context, address string, body any, opts ...SendOption) error {
	return b.publish(ctx, address, body, opts)
}

// Fail answers a reply address with an explicit recipient failure.
func (b *Bus) Fail(ctx context.Context, address string, code int, message string) error {
	b.metrics.RecordRecipientFailure()
	return b.fail(ctx, address, &ReplyError{Type: FailureRecipient, Code: code, Message: message}, nil)
}

func (b *Bus) DefaultReplyTimeout() time.Duration {
	return time.Duration(b.replyTimeout.Load())
}

// SetDefaultReplyTimeout changes the timeout used by SendWithReply. Zero or
// a negative value disables it.
func (b *Bus) SetDefaultReplyTimeout(timeout time.Duration) {
	if timeout < 0 {
		timeout = 0
	}
	b.replyTimeout.Store(int64(timeout))
}

func (b *Bus) Metrics() MetricsSnapshot {
	snapshot := b.metrics.Snapshot()
	snapshot.Handlers = int64(b.registry.Persistent())
	return snapshot
}

// Close stops accepting work, fails every outstanding reply with
// NO_HANDLERS and drains the default loop. Loops owned by callers are left
// running.
func (b *Bus) Close(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.logger.DebugContext(
		ctx,
		"shutting down event bus",
		slog.String("bus_name", b.name),
	)

	b.pendingMutex.Lock()
	outstanding := make([]*pendingReply, 0, len(b.pending))
	for _, p := range b.pending {
		outstanding = append(outstanding, p)
	}
	b.pendingMutex.Unlock()

	for _, p := range outstanding {
		p.close(ctx)
	}

	b.emit(ctx, EventClose, observability.LevelInfo, map[string]any{
		"failed_replies": len(outstanding),
	})

	// a handler on the default loop closing the bus cannot wait for itself
	if current, ok := eventloop.Current(ctx); ok && current == eventloop.Context(b.defaultLoop) {
		done, cancel := context.WithCancel(ctx)
		cancel()
		b.defaultLoop.Close(done)
		return nil
	}

	if err := b.defaultLoop.Close(ctx); err != nil {
		return fmt.Errorf("event bus %s shutdown: %w", b.name, err)
	}
	return nil
}

// current resolves the execution context of the caller.
func (b *Bus) current(ctx context.Context) eventloop.Context {
	if c, ok := eventloop.Current(ctx); ok {
		return c
	}
	return b.defaultLoop
}

func (b *Bus) emit(ctx context.Context, eventType observability.EventType, level observability.Level, data map[string]any) {
	if data == nil {
		data = make(map[string]any, 1)
	}
	data["bus_name"] = b.name

	b.observer.OnEvent(ctx, observability.Event{
		Type:      eventType,
		Level:     level,
		Timestamp: b.scheduler.Now(),
		Source:    "bus." + b.name,
		Data:      data,
	})
}
