package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tailored-agentic-units/eventbus/bus"
	"github.com/tailored-agentic-units/eventbus/eventloop"
	"github.com/tailored-agentic-units/eventbus/observability"
	"github.com/tailored-agentic-units/eventbus/registry"
)

const writeWait = 10 * time.Second

// Socket is one websocket client. Its loop runs every handler registered on
// its behalf and every write to the connection.
type Socket struct {
	id     string
	server *Server
	conn   *websocket.Conn
	loop   *eventloop.Loop
	claims *Claims
	binary bool
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	handlers map[string]registry.ID
	replies  map[string]struct{}

	closing atomic.Bool
}

func (s *Server) serveSocket(w http.ResponseWriter, r *http.Request) {
	var claims *Claims
	if s.auth != nil {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = r.Header.Get("Authorization")
		}
		c, err := s.auth.ValidateToken(token)
		if err != nil {
			s.denied(r.Context(), "", "connect", err.Error())
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		claims = c
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.DebugContext(r.Context(), "websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sock := s.newSocket(conn, claims, r.URL.Query().Get(EncodingParam) == EncodingBinary)
	if !s.hooks.SocketCreated(sock) {
		s.denied(r.Context(), "", "connect", "rejected by hook")
		sock.shutdown()
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()
	s.track(sock)

	s.logger.DebugContext(
		sock.ctx,
		"socket opened",
		slog.String("socket_id", sock.id),
		slog.String("remote_addr", conn.RemoteAddr().String()),
	)
	s.emit(sock.ctx, EventSocketOpen, observability.LevelInfo, map[string]any{
		"socket_id":   sock.id,
		"remote_addr": conn.RemoteAddr().String(),
	})

	if interval := s.cfg.PingInterval.Duration(); interval > 0 {
		conn.SetPongHandler(func(string) error {
			sock.extendDeadline()
			return nil
		})
		sock.extendDeadline()
		go sock.keepalive(interval)
	}

	sock.readLoop()
	sock.cleanup()
}

func (s *Server) newSocket(conn *websocket.Conn, claims *Claims, binary bool) *Socket {
	id := string(registry.NewID())
	loop := eventloop.NewLoop("socket."+id, s.logger)

	ctx, cancel := context.WithCancel(context.Background())
	sock := &Socket{
		id:       id,
		server:   s,
		conn:     conn,
		loop:     loop,
		claims:   claims,
		binary:   binary,
		ctx:      eventloop.WithCurrent(ctx, loop),
		cancel:   cancel,
		handlers: make(map[string]registry.ID),
		replies:  make(map[string]struct{}),
	}
	conn.SetReadLimit(s.cfg.MaxMessageSize)
	return sock
}

func (s *Socket) ID() string {
	return s.id
}

// Claims is nil when the bridge runs without auth.
func (s *Socket) Claims() *Claims {
	return s.claims
}

func (s *Socket) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Close disconnects the client. Registrations are released once the read
// loop notices.
func (s *Socket) Close() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}

func (s *Socket) readLoop() {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !s.closing.Load() {
				s.server.logger.DebugContext(
					s.ctx,
					"socket read failed",
					slog.String("socket_id", s.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		s.extendDeadline()

		var frame Frame
		if messageType == websocket.BinaryMessage {
			err = frame.UnmarshalBinary(data)
		} else {
			err = json.Unmarshal(data, &frame)
		}
		if err != nil {
			s.post(Frame{Type: FrameError, Error: fmt.Sprintf("malformed frame: %v", err)})
			continue
		}
		s.handle(frame)
	}
}

func (s *Socket) handle(f Frame) {
	switch f.Type {
	case FrameSend:
		s.handleSend(f, false)
	case FramePublish:
		s.handleSend(f, true)
	case FrameFail:
		s.handleFail(f)
	case FrameRegister:
		s.handleRegister(f)
	case FrameUnregister:
		s.handleUnregister(f)
	case FramePing:
		s.post(Frame{Type: FramePong})
	default:
		s.post(Frame{Type: FrameError, Error: fmt.Sprintf("unknown frame type %q", f.Type)})
	}
}

func (s *Socket) handleSend(f Frame, publish bool) {
	if f.Address == "" {
		s.post(Frame{Type: FrameError, Error: "missing address"})
		return
	}

	operation := "send"
	if publish {
		operation = "publish"
	}

	// answering a message this socket received needs no inbound rule
	answering := !publish && s.consumeReply(f.Address)
	if !answering && !s.server.permissions.Inbound(f.Address, f.Body) {
		s.deny(f.Address, operation, "no inbound rule")
		return
	}
	if !s.server.hooks.SendOrPublish(s, !publish, f.Address, f.Body) {
		s.deny(f.Address, operation, "rejected by hook")
		return
	}

	b := s.server.bus
	opts := []bus.SendOption{bus.FromRemote(), bus.WithHeaders(f.Headers)}

	var err error
	switch {
	case publish:
		err = b.Publish(s.ctx, f.Address, f.Body, opts...)
	case f.ReplyAddress != "":
		timeout := s.server.cfg.ReplyTimeout.Duration()
		if f.TimeoutMs > 0 {
			timeout = time.Duration(f.TimeoutMs) * time.Millisecond
		}
		err = b.SendWithTimeout(s.ctx, f.Address, f.Body, timeout, s.replyHandler(f.ReplyAddress), opts...)
	default:
		err = b.Send(s.ctx, f.Address, f.Body, opts...)
	}

	if err != nil {
		s.post(Frame{Type: FrameError, Address: f.Address, Error: err.Error()})
	}
}

// replyHandler forwards the outcome of a client's send to its own reply
// address. It runs on the socket loop.
func (s *Socket) replyHandler(clientAddress string) bus.ReplyHandler {
	return func(ctx context.Context, reply *bus.Message, err error) {
		if err != nil {
			frame := Frame{Type: FrameError, Address: clientAddress, Error: err.Error()}
			var replyErr *bus.ReplyError
			if errors.As(err, &replyErr) {
				frame.FailureType = replyErr.Type.String()
				frame.FailureCode = replyErr.Code
				frame.Error = replyErr.Message
			}
			s.write(frame)
			return
		}
		s.write(s.messageFrame(clientAddress, reply))
	}
}

func (s *Socket) handleFail(f Frame) {
	if !s.consumeReply(f.Address) {
		s.deny(f.Address, "fail", "not a pending reply address")
		return
	}
	if err := s.server.bus.Fail(s.ctx, f.Address, f.FailureCode, f.Error); err != nil {
		s.post(Frame{Type: FrameError, Address: f.Address, Error: err.Error()})
	}
}

func (s *Socket) handleRegister(f Frame) {
	if f.Address == "" {
		s.post(Frame{Type: FrameError, Error: "missing address"})
		return
	}
	if !s.server.permissions.CanRegister(f.Address) {
		s.deny(f.Address, "register", "no outbound rule")
		return
	}
	if !s.server.hooks.PreRegister(s, f.Address) {
		s.deny(f.Address, "register", "rejected by hook")
		return
	}

	s.mu.Lock()
	if _, ok := s.handlers[f.Address]; ok {
		s.mu.Unlock()
		return
	}
	id, err := s.server.bus.RegisterHandler(s.ctx, f.Address, s.deliver)
	if err == nil {
		s.handlers[f.Address] = id
	}
	s.mu.Unlock()

	if err != nil {
		s.post(Frame{Type: FrameError, Address: f.Address, Error: err.Error()})
		return
	}
	s.server.hooks.PostRegister(s, f.Address)
}

func (s *Socket) handleUnregister(f Frame) {
	if !s.server.hooks.Unregister(s, f.Address) {
		s.deny(f.Address, "unregister", "rejected by hook")
		return
	}

	s.mu.Lock()
	id, ok := s.handlers[f.Address]
	delete(s.handlers, f.Address)
	s.mu.Unlock()

	if ok {
		s.server.bus.UnregisterHandler(id)
	}
}

// deliver is the bus handler behind every client registration.
func (s *Socket) deliver(ctx context.Context, msg *bus.Message) error {
	if !s.server.permissions.Outbound(msg.Address(), msg.Value()) {
		s.server.denied(ctx, msg.Address(), "receive", "no outbound rule")
		return nil
	}
	s.write(s.messageFrame(msg.Address(), msg))
	return nil
}

func (s *Socket) messageFrame(address string, msg *bus.Message) Frame {
	if reply := msg.ReplyAddress(); reply != "" {
		s.mu.Lock()
		s.replies[reply] = struct{}{}
		s.mu.Unlock()
	}
	return Frame{
		Type:         FrameMessage,
		Address:      address,
		Body:         msg.Value(),
		ReplyAddress: msg.ReplyAddress(),
		Headers:      msg.Headers(),
	}
}

// consumeReply reports whether address is a reply address this socket was
// handed, and forgets it.
func (s *Socket) consumeReply(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.replies[address]; !ok {
		return false
	}
	delete(s.replies, address)
	return true
}

func (s *Socket) deny(address, operation, reason string) {
	s.server.denied(s.ctx, address, operation, reason)
	s.post(Frame{Type: FrameError, Address: address, Error: ErrPermissionDenied.Error()})
}

// post queues a frame from outside the socket loop.
func (s *Socket) post(f Frame) {
	if err := s.loop.Post(func() { s.write(f) }); err != nil {
		s.server.logger.DebugContext(s.ctx, "socket closed, frame dropped",
			slog.String("socket_id", s.id),
			slog.String("type", f.Type))
	}
}

// write must run on the socket loop.
func (s *Socket) write(f Frame) {
	if s.closing.Load() {
		return
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.writeFrame(f); err != nil {
		s.server.logger.DebugContext(
			s.ctx,
			"socket write failed",
			slog.String("socket_id", s.id),
			slog.String("error", err.Error()),
		)
		s.Close()
	}
}

func (s *Socket) writeFrame(f Frame) error {
	if !s.binary {
		return s.conn.WriteJSON(f)
	}
	data, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *Socket) extendDeadline() {
	if interval := s.server.cfg.PingInterval.Duration(); interval > 0 {
		s.conn.SetReadDeadline(time.Now().Add(2 * interval))
	}
}

func (s *Socket) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.Close()
				return
			}
		}
	}
}

// cleanup releases everything the socket registered. It runs once, after
// the read loop ended.
func (s *Socket) cleanup() {
	s.Close()

	s.mu.Lock()
	ids := make([]registry.ID, 0, len(s.handlers))
	for _, id := range s.handlers {
		ids = append(ids, id)
	}
	s.handlers = make(map[string]registry.ID)
	s.replies = make(map[string]struct{})
	s.mu.Unlock()

	for _, id := range ids {
		s.server.bus.UnregisterHandler(id)
	}

	s.server.hooks.SocketClosed(s)
	s.server.untrack(s)
	s.shutdown()

	s.server.logger.DebugContext(
		s.ctx,
		"socket closed",
		slog.String("socket_id", s.id),
		slog.Int("handlers", len(ids)),
	)
	s.server.emit(s.ctx, EventSocketClose, observability.LevelInfo, map[string]any{
		"socket_id": s.id,
		"handlers":  len(ids),
	})
}

// shutdown stops the loop without waiting on queued work that can no longer
// reach the client.
func (s *Socket) shutdown() {
	s.Close()
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := s.loop.Close(ctx); err != nil {
		s.server.logger.WarnContext(ctx, "socket loop did not drain", slog.String("socket_id", s.id))
	}
}
