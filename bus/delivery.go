package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tailored-agentic-units/eventbus/eventloop"
	"github.com/tailored-agentic-units/eventbus/observability"
	"github.com/tailored-agentic-units/eventbus/registry"
	"github.com/tailored-agentic-units/eventbus/value"
)

func (b *Bus) send(ctx context.Context, address string, body any, onReply ReplyHandler, timeout time.Duration, opts []SendOption) error {
	msg, err := b.newMessage(ctx, address, body, opts)
	if err != nil {
		return err
	}

	var pending *pendingReply
	if onReply != nil {
		if pending, err = b.newPending(ctx, msg.sender, address, onReply); err != nil {
			return err
		}
		msg.replyAddress = pending.address
	}

	b.metrics.RecordSent()

	if reg, ok := b.registry.Next(address, msg.remote); ok {
		if pending != nil {
			pending.arm(timeout)
		}
		if b.post(ctx, reg, msg) {
			b.emit(ctx, EventSend, observability.LevelVerbose, map[string]any{
				"address":       address,
				"handler_id":    string(reg.ID),
				"expects_reply": pending != nil,
			})
			return nil
		}
	}

	if pending != nil {
		pending.noHandlers(ctx)
		return nil
	}

	b.drop(ctx, address)
	return nil
}

func (b *Bus) publish(ctx context.Context, address string, body any, opts []SendOption) error {
	template, err := b.newMessage(ctx, address, body, opts)
	if err != nil {
		return err
	}

	registrations := b.registry.Snapshot(address, template.remote)
	b.metrics.RecordPublished()

	delivered := 0
	for _, reg := range registrations {
		// unregistered after the snapshot; consumed one-shots still fire
		if !reg.OneShot && reg.Removed() {
			continue
		}

		msg := *template
		if b.post(ctx, reg, &msg) {
			delivered++
		}
	}

	b.logger.DebugContext(
		ctx,
		"message published",
		slog.String("bus_name", b.name),
		slog.String("address", address),
		slog.Int("recipients", len(registrations)),
		slog.Int("delivered", delivered),
	)
	b.emit(ctx, EventPublish, observability.LevelVerbose, map[string]any{
		"address":    address,
		"recipients": len(registrations),
		"delivered":  delivered,
	})

	return nil
}

// fail routes a recipient failure to the one-shot handler behind a reply
// address.
func (b *Bus) fail(ctx context.Context, address string, failure *ReplyError, cause *Message) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if address == "" {
		return registry.ErrEmptyAddress
	}

	msg := &Message{
		bus:     b,
		address: address,
		sender:  b.current(ctx),
		failure: failure,
	}
	if cause != nil {
		msg.remote = cause.remote
	}

	if reg, ok := b.registry.Next(address, false); ok && b.post(ctx, reg, msg) {
		return nil
	}

	b.drop(ctx, address)
	return nil
}

func (b *Bus) newMessage(ctx context.Context, address string, body any, opts []SendOption) (*Message, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if address == "" {
		return nil, registry.ErrEmptyAddress
	}

	encoded, err := value.Encode(body)
	if err != nil {
		return nil, fmt.Errorf("message to %s: %w", address, err)
	}

	o := newSendOptions(opts)
	return &Message{
		bus:     b,
		address: address,
		body:    encoded,
		headers: o.headers,
		sender:  b.current(ctx),
		remote:  o.remote,
	}, nil
}

// post queues the invocation on the registration's context. It reports
// false when that context no longer accepts work.
func (b *Bus) post(ctx context.Context, reg *registry.Registration[Handler], msg *Message) bool {
	err := reg.Target.Post(func() {
		b.invoke(reg, msg)
	})
	if err != nil {
		b.logger.WarnContext(
			ctx,
			"failed to deliver message",
			slog.String("bus_name", b.name),
			slog.String("address", msg.address),
			slog.String("handler_id", string(reg.ID)),
			slog.String("error", err.Error()),
		)
		return false
	}

	b.metrics.RecordDelivered()
	return true
}

func (b *Bus) drop(ctx context.Context, address string) {
	b.metrics.RecordDropped()
	b.logger.DebugContext(
		ctx,
		"no handlers for address, message dropped",
		slog.String("bus_name", b.name),
		slog.String("address", address),
	)
	b.emit(ctx, EventDrop, observability.LevelVerbose, map[string]any{
		"address": address,
	})
}

// invoke runs on the registration's context.
func (b *Bus) invoke(reg *registry.Registration[Handler], msg *Message) {
	ctx := eventloop.WithCurrent(b.ctx, reg.Target)

	b.emit(ctx, EventDeliver, observability.LevelVerbose, map[string]any{
		"address":    msg.address,
		"handler_id": string(reg.ID),
		"context":    reg.Target.Name(),
	})

	if err := callHandler(ctx, reg.Handler, msg); err != nil {
		b.recipientFailed(ctx, reg, msg, err)
	}
}

func callHandler(ctx context.Context, handler Handler, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	return handler(ctx, msg)
}

func (b *Bus) recipientFailed(ctx context.Context, reg *registry.Registration[Handler], msg *Message, err error) {
	b.metrics.RecordRecipientFailure()

	failure := &ReplyError{Type: FailureRecipient, Code: DefaultFailureCode, Message: err.Error()}
	var explicit *ReplyError
	if errors.As(err, &explicit) && explicit.Type == FailureRecipient {
		failure.Code = explicit.Code
		failure.Message = explicit.Message
	}

	if msg.replyAddress == "" {
		b.logger.ErrorContext(
			ctx,
			"message handler failed",
			slog.String("bus_name", b.name),
			slog.String("address", msg.address),
			slog.String("handler_id", string(reg.ID)),
			slog.String("error", err.Error()),
		)
		b.emit(ctx, EventRecipientFailure, observability.LevelError, map[string]any{
			"address":    msg.address,
			"handler_id": string(reg.ID),
			"error":      err.Error(),
		})
		return
	}

	if ferr := b.fail(ctx, msg.replyAddress, failure, msg); ferr != nil {
		b.logger.WarnContext(
			ctx,
			"failed to report recipient failure",
			slog.String("bus_name", b.name),
			slog.String("address", msg.address),
			slog.String("error", ferr.Error()),
		)
	}
}
