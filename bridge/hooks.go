package bridge

import "github.com/tailored-agentic-units/eventbus/value"

// Hooks lets an application observe and veto bridge activity. Methods that
// return false reject the operation. Hooks are called from the goroutine
// reading the socket, so they must not block for long.
type Hooks interface {
	SocketCreated(s *Socket) bool
	SocketClosed(s *Socket)
	SendOrPublish(s *Socket, send bool, address string, body value.Value) bool
	PreRegister(s *Socket, address string) bool
	PostRegister(s *Socket, address string)
	Unregister(s *Socket, address string) bool
}

// NopHooks allows everything.
type NopHooks struct{}

func (NopHooks) SocketCreated(*Socket) bool { return true }

func (NopHooks) SocketClosed(*Socket) {}

func (NopHooks) SendOrPublish(*Socket, bool, string, value.Value) bool { return true }

func (NopHooks) PreRegister(*Socket, string) bool { return true }

func (NopHooks) PostRegister(*Socket, string) {}

func (NopHooks) Unregister(*Socket, string) bool { return true }
