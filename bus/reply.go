package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tailored-agentic-units/eventbus/eventloop"
	"github.com/tailored-agentic-units/eventbus/observability"
	"github.com/tailored-agentic-units/eventbus/registry"
)

type replyState int32

const (
	stateArmed replyState = iota
	stateFulfilled
	stateFailed
	stateTimedOut
	stateNoHandlers
	stateClosed
)

func (s replyState) String() string {
	switch s {
	case stateArmed:
		return "armed"
	case stateFulfilled:
		return "fulfilled"
	case stateFailed:
		return "failed"
	case stateTimedOut:
		return "timed_out"
	case stateNoHandlers:
		return "no_handlers"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// pendingReply tracks one reply-expecting send. It leaves stateArmed exactly
// once; the goroutine that wins that transition releases the ephemeral
// registration and the timer, and is the only one to report to onReply.
type pendingReply struct {
	bus *Bus

	address string
	target  string
	id      registry.ID
	sender  eventloop.Context
	onReply ReplyHandler
	created time.Time

	state atomic.Int32

	timerMutex sync.Mutex
	timer      eventloop.Cancellable
}

func (b *Bus) newPending(ctx context.Context, sender eventloop.Context, target string, onReply ReplyHandler) (*pendingReply, error) {
	p := &pendingReply{
		bus:     b,
		address: string(registry.NewID()),
		target:  target,
		sender:  sender,
		onReply: onReply,
		created: b.scheduler.Now(),
	}

	// the reply runs on the sender's context, so receive reports directly
	reg, err := b.registry.Register(p.address, sender, p.receive, registry.OneShot(), registry.Ephemeral())
	if err != nil {
		return nil, err
	}
	p.id = reg.ID

	b.pendingMutex.Lock()
	b.pending[p.address] = p
	b.pendingMutex.Unlock()
	b.metrics.RecordPendingReply(1)

	// Close may have taken its snapshot before the insert above
	if b.closed.Load() && p.finish(ctx, stateClosed) {
		return nil, ErrClosed
	}

	return p, nil
}

// arm starts the timeout. It does nothing once the reply left stateArmed.
func (p *pendingReply) arm(timeout time.Duration) {
	if timeout <= 0 {
		return
	}

	p.timerMutex.Lock()
	defer p.timerMutex.Unlock()

	if replyState(p.state.Load()) != stateArmed {
		return
	}
	p.timer = p.bus.scheduler.Schedule(timeout, func() {
		p.expire(timeout)
	})
}

// receive is the handler behind the ephemeral reply address.
func (p *pendingReply) receive(ctx context.Context, msg *Message) error {
	if msg.failure != nil {
		if p.finish(ctx, stateFailed) {
			p.onReply(ctx, nil, msg.failure)
		}
		return nil
	}

	if p.finish(ctx, stateFulfilled) {
		p.onReply(ctx, msg, nil)
	}
	return nil
}

func (p *pendingReply) expire(timeout time.Duration) {
	ctx := p.bus.ctx
	if !p.finish(ctx, stateTimedOut) {
		return
	}
	p.report(ctx, &ReplyError{
		Type:    FailureTimeout,
		Code:    DefaultFailureCode,
		Message: fmt.Sprintf("timed out after %v waiting for a reply from %s", timeout, p.target),
	})
}

func (p *pendingReply) noHandlers(ctx context.Context) {
	if !p.finish(ctx, stateNoHandlers) {
		return
	}
	p.report(ctx, &ReplyError{
		Type:    FailureNoHandler,
		Code:    DefaultFailureCode,
		Message: fmt.Sprintf("no handlers for address %s", p.target),
	})
}

func (p *pendingReply) close(ctx context.Context) {
	if !p.finish(ctx, stateClosed) {
		return
	}
	p.report(ctx, &ReplyError{
		Type:    FailureNoHandler,
		Code:    DefaultFailureCode,
		Message: ErrClosed.Error(),
	})
}

// finish moves the reply out of stateArmed. Only the first caller wins.
func (p *pendingReply) finish(ctx context.Context, to replyState) bool {
	if !p.state.CompareAndSwap(int32(stateArmed), int32(to)) {
		return false
	}

	b := p.bus
	b.registry.Unregister(p.id)

	p.timerMutex.Lock()
	if p.timer != nil {
		p.timer.Cancel()
		p.timer = nil
	}
	p.timerMutex.Unlock()

	b.pendingMutex.Lock()
	delete(b.pending, p.address)
	b.pendingMutex.Unlock()

	b.metrics.RecordPendingReply(-1)
	b.metrics.recordOutcome(to)

	elapsed := b.scheduler.Now().Sub(p.created)
	b.logger.DebugContext(
		ctx,
		"reply settled",
		slog.String("bus_name", b.name),
		slog.String("address", p.target),
		slog.String("reply_address", p.address),
		slog.String("outcome", to.String()),
		slog.Duration("elapsed", elapsed),
	)

	eventType, level := EventReplyFulfilled, observability.LevelVerbose
	switch to {
	case stateFailed:
		eventType, level = EventRecipientFailure, observability.LevelWarning
	case stateTimedOut:
		eventType, level = EventReplyTimeout, observability.LevelWarning
	case stateNoHandlers, stateClosed:
		eventType, level = EventReplyNoHandlers, observability.LevelWarning
	}
	b.emit(ctx, eventType, level, map[string]any{
		"address":       p.target,
		"reply_address": p.address,
		"outcome":       to.String(),
		"elapsed_ms":    elapsed.Milliseconds(),
	})

	return true
}

// report delivers a failure on the sender's context.
func (p *pendingReply) report(ctx context.Context, failure *ReplyError) {
	err := p.sender.Post(func() {
		p.onReply(eventloop.WithCurrent(p.bus.ctx, p.sender), nil, failure)
	})
	if err != nil {
		p.bus.logger.WarnContext(
			ctx,
			"reply handler context closed, outcome lost",
			slog.String("bus_name", p.bus.name),
			slog.String("address", p.target),
			slog.String("failure", failure.Error()),
		)
	}
}
