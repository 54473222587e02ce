package bus

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/tailored-agentic-units/eventbus/eventloop"
	"github.com/tailored-agentic-units/eventbus/value"
)

// Message is a single delivery handed to a handler. Every delivery gets its
// own Message; publish fan-out shares only the immutable body.
type Message struct {
	bus *Bus

	address      string
	body         value.Value
	replyAddress string
	headers      map[string]string
	sender       eventloop.Context
	remote       bool
	failure      *ReplyError
}

func (m *Message) Address() string {
	return m.address
}

// Body decodes the message body into fresh native data. Repeated calls
// return independent copies.
func (m *Message) Body() any {
	return value.Decode(m.body)
}

// Value returns the body without decoding it.
func (m *Message) Value() value.Value {
	return m.body
}

// ReplyAddress is empty unless the sender expects a reply.
func (m *Message) ReplyAddress() string {
	return m.replyAddress
}

// Headers returns a copy of the message headers.
func (m *Message) Headers() map[string]string {
	return maps.Clone(m.headers)
}

// Sender is the execution context the message was sent from.
func (m *Message) Sender() eventloop.Context {
	return m.sender
}

// Remote reports whether the message entered the bus through the bridge.
func (m *Message) Remote() bool {
	return m.remote
}

// Failure is non-nil when the message carries a recipient failure instead of
// a reply body.
func (m *Message) Failure() *ReplyError {
	return m.failure
}

// Reply answers the sender. It is a no-op when no reply is expected.
func (m *Message) Reply(ctx context.Context, body any, opts ...SendOption) error {
	if m.replyAddress == "" {
		return nil
	}
	return m.bus.send(ctx, m.replyAddress, body, nil, 0, opts)
}

// ReplyWithHandler answers the sender and expects a reply back, continuing
// the conversation. The bus default reply timeout applies.
func (m *Message) ReplyWithHandler(ctx context.Context, body any, onReply ReplyHandler, opts ...SendOption) error {
	if m.replyAddress == "" {
		return nil
	}
	if onReply == nil {
		return fmt.Errorf("%w: reply handler for %s", ErrNilHandler, m.replyAddress)
	}
	return m.bus.send(ctx, m.replyAddress, body, onReply, m.bus.DefaultReplyTimeout(), opts)
}

// ReplyWithTimeout is ReplyWithHandler with an explicit timeout.
func (m *Message) ReplyWithTimeout(ctx context.Context, body any, timeout time.Duration, onReply ReplyHandler, opts ...SendOption) error {
	if m.replyAddress == "" {
		return nil
	}
	if onReply == nil {
		return fmt.Errorf("%w: reply handler for %s", ErrNilHandler, m.replyAddress)
	}
	if timeout <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidTimeout, timeout)
	}
	return m.bus.send(ctx, m.replyAddress, body, onReply, timeout, opts)
}

// Fail reports a recipient failure to the sender.
func (m *Message) Fail(ctx context.Context, code int, message string) error {
	if m.replyAddress == "" {
		return nil
	}
	return m.bus.Fail(ctx, m.replyAddress, code, message)
}

// SendOption adjusts a single send or publish.
type SendOption func(*sendOptions)

type sendOptions struct {
	headers map[string]string
	remote  bool
}

func newSendOptions(opts []SendOption) sendOptions {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithHeaders attaches headers to the message. The map is copied.
func WithHeaders(headers map[string]string) SendOption {
	return func(o *sendOptions) {
		if len(headers) == 0 {
			return
		}
		if o.headers == nil {
			o.headers = make(map[string]string, len(headers))
		}
		maps.Copy(o.headers, headers)
	}
}

// FromRemote marks traffic arriving through the bridge. Such messages are
// never delivered to handlers registered with RegisterLocalHandler.
func FromRemote() SendOption {
	return func(o *sendOptions) { o.remote = true }
}
