// Package bus provides an addressable, asynchronous event bus.
//
// Handlers register on string addresses and run on the execution context
// they were registered from (see package eventloop). Three delivery
// patterns are supported:
//
//   - Point-to-point: Send delivers to one handler, rotating round robin
//     through the handlers of the address.
//   - Publish-subscribe: Publish delivers to every handler of the address.
//   - Request-reply: SendWithReply and SendWithTimeout attach an ephemeral
//     reply address; the handler answers with Message.Reply.
//
// # Registration
//
//	b := bus.New(ctx, config.DefaultBusConfig())
//	defer b.Close(ctx)
//
//	id, err := b.RegisterHandler(ctx, "echo", func(ctx context.Context, msg *bus.Message) error {
//	    return msg.Reply(ctx, msg.Body())
//	})
//
// Unregistering an unknown id is a no-op, so a handler may unregister
// itself after it fired once.
//
// # Request-Reply
//
//	err := b.SendWithTimeout(ctx, "echo", map[string]any{"message": "Hello world!"}, time.Second,
//	    func(ctx context.Context, reply *bus.Message, err error) {
//	        if errors.Is(err, bus.ErrTimeout) {
//	            // no reply in time
//	        }
//	    })
//
// Every reply-expecting send ends in exactly one call of its ReplyHandler:
// the reply, a TIMEOUT, a NO_HANDLERS when nothing listens on the address,
// or a RECIPIENT_FAILURE when the handler returned an error, panicked or
// called Message.Fail. Timeouts do not unregister the receiving handler.
//
// # Errors
//
// Bodies are converted with value.Encode before anything is delivered, so
// unsupported or cyclic bodies fail the call synchronously with a
// *value.EncodingError. Delivery outcomes are only reported through reply
// handlers; fire-and-forget sends never surface them.
//
// # Observability
//
// The bus logs through the configured slog.Logger, emits observability
// events (EventSend, EventReplyTimeout, ...) and keeps counters available
// from Metrics and, for prometheus, from NewCollector.
package bus
