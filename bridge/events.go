package bridge

import "github.com/tailored-agentic-units/eventbus/observability"

const (
	EventSocketOpen  observability.EventType = "bridge.socket.open"
	EventSocketClose observability.EventType = "bridge.socket.close"
	EventDenied      observability.EventType = "bridge.denied"
)
