package bus

import "github.com/tailored-agentic-units/eventbus/observability"

const (
	EventRegister         observability.EventType = "bus.register"
	EventUnregister       observability.EventType = "bus.unregister"
	EventSend             observability.EventType = "bus.send"
	EventPublish          observability.EventType = "bus.publish"
	EventDeliver          observability.EventType = "bus.deliver"
	EventDrop             observability.EventType = "bus.drop"
	EventReplyFulfilled   observability.EventType = "reply.fulfilled"
	EventReplyTimeout     observability.EventType = "reply.timeout"
	EventReplyNoHandlers  observability.EventType = "reply.no_handlers"
	EventRecipientFailure observability.EventType = "reply.recipient_failure"
	EventClose            observability.EventType = "bus.close"
)
