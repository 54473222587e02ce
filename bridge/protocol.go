package bridge

import "github.com/tailored-agentic-units/eventbus/value"

// Frame types exchanged over the websocket.
const (
	FrameSend       = "send"
	FramePublish    = "publish"
	FrameRegister   = "register"
	FrameUnregister = "unregister"
	FrameFail       = "fail"
	FramePing       = "ping"

	FrameMessage = "message"
	FrameError   = "error"
	FramePong    = "pong"
)

// Frame is one JSON websocket message in either direction.
//
// A client that sets ReplyAddress on a send frame receives the reply as a
// message frame addressed to that ReplyAddress, or an error frame carrying
// the failure. Messages the bridge pushes may carry a ReplyAddress of their
// own; the client answers with a send or fail frame to it.
type Frame struct {
	Type         string            `json:"type"`
	Address      string            `json:"address,omitempty"`
	Body         value.Value       `json:"body"`
	ReplyAddress string            `json:"replyAddress,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	TimeoutMs    int64             `json:"timeout,omitempty"`

	FailureType string `json:"failureType,omitempty"`
	FailureCode int    `json:"failureCode,omitempty"`
	Error       string `json:"error,omitempty"`
}

const (
	ServiceName = "eventbus.v1.Bridge"

	SendProcedure    = "/" + ServiceName + "/Send"
	PublishProcedure = "/" + ServiceName + "/Publish"
)

type SendRequest struct {
	Address string            `json:"address"`
	Body    value.Value       `json:"body"`
	Headers map[string]string `json:"headers,omitempty"`

	// ExpectReply makes the call wait for the reply. TimeoutMs overrides the
	// server's reply timeout.
	ExpectReply bool  `json:"expect_reply,omitempty"`
	TimeoutMs   int64 `json:"timeout_ms,omitempty"`
}

type SendResponse struct {
	Replied bool              `json:"replied"`
	Body    value.Value       `json:"body"`
	Headers map[string]string `json:"headers,omitempty"`
}

type PublishRequest struct {
	Address string            `json:"address"`
	Body    value.Value       `json:"body"`
	Headers map[string]string `json:"headers,omitempty"`
}

type PublishResponse struct{}
