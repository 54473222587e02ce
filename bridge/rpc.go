package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"connectrpc.com/connect"

	"github.com/tailored-agentic-units/eventbus/bus"
	"github.com/tailored-agentic-units/eventbus/observability"
	"github.com/tailored-agentic-units/eventbus/value"
)

// Error metadata keys carrying the bus failure across the RPC boundary.
const (
	FailureTypeHeader = "Eventbus-Failure-Type"
	FailureCodeHeader = "Eventbus-Failure-Code"
)

// jsonCodec replaces connect's protobuf-only JSON codec so plain Go structs
// can travel as request and response messages.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(message any) ([]byte, error) {
	return json.Marshal(message)
}

func (jsonCodec) Unmarshal(data []byte, message any) error {
	return json.Unmarshal(data, message)
}

func (s *Server) rpcRoutes(mux *http.ServeMux) {
	opts := []connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(s.authInterceptor()),
		connect.WithReadMaxBytes(int(s.cfg.MaxMessageSize)),
	}

	mux.Handle(SendProcedure, connect.NewUnaryHandler(SendProcedure, s.handleSend, opts...))
	mux.Handle(PublishProcedure, connect.NewUnaryHandler(PublishProcedure, s.handlePublish, opts...))
}

func (s *Server) authInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if s.auth == nil {
				return next(ctx, req)
			}

			claims, err := s.auth.ValidateToken(req.Header().Get("Authorization"))
			if err != nil {
				s.denied(ctx, "", req.Spec().Procedure, err.Error())
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}
			return next(withClaims(ctx, claims), req)
		}
	}
}

func (s *Server) handleSend(ctx context.Context, req *connect.Request[SendRequest]) (*connect.Response[SendResponse], error) {
	msg := req.Msg
	if !s.permissions.Inbound(msg.Address, msg.Body) {
		s.denied(ctx, msg.Address, "send", "no inbound rule")
		return nil, connect.NewError(connect.CodePermissionDenied, ErrPermissionDenied)
	}

	opts := []bus.SendOption{bus.FromRemote(), bus.WithHeaders(msg.Headers)}

	if !msg.ExpectReply {
		if err := s.bus.Send(ctx, msg.Address, msg.Body, opts...); err != nil {
			return nil, toConnectError(err)
		}
		return connect.NewResponse(&SendResponse{}), nil
	}

	timeout := s.cfg.ReplyTimeout.Duration()
	if msg.TimeoutMs > 0 {
		timeout = time.Duration(msg.TimeoutMs) * time.Millisecond
	}

	type outcome struct {
		reply *bus.Message
		err   error
	}
	result := make(chan outcome, 1)

	err := s.bus.SendWithTimeout(ctx, msg.Address, msg.Body, timeout, func(_ context.Context, reply *bus.Message, err error) {
		result <- outcome{reply: reply, err: err}
	}, opts...)
	if err != nil {
		return nil, toConnectError(err)
	}

	select {
	case r := <-result:
		if r.err != nil {
			return nil, toConnectError(r.err)
		}
		return connect.NewResponse(&SendResponse{
			Replied: true,
			Body:    r.reply.Value(),
			Headers: r.reply.Headers(),
		}), nil
	case <-ctx.Done():
		return nil, connect.NewError(connect.CodeCanceled, ctx.Err())
	}
}

func (s *Server) handlePublish(ctx context.Context, req *connect.Request[PublishRequest]) (*connect.Response[PublishResponse], error) {
	msg := req.Msg
	if !s.permissions.Inbound(msg.Address, msg.Body) {
		s.denied(ctx, msg.Address, "publish", "no inbound rule")
		return nil, connect.NewError(connect.CodePermissionDenied, ErrPermissionDenied)
	}

	if err := s.bus.Publish(ctx, msg.Address, msg.Body, bus.FromRemote(), bus.WithHeaders(msg.Headers)); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&PublishResponse{}), nil
}

func toConnectError(err error) *connect.Error {
	var replyErr *bus.ReplyError
	if errors.As(err, &replyErr) {
		code := connect.CodeAborted
		switch replyErr.Type {
		case bus.FailureNoHandler:
			code = connect.CodeNotFound
		case bus.FailureTimeout:
			code = connect.CodeDeadlineExceeded
		}

		cerr := connect.NewError(code, errors.New(replyErr.Message))
		cerr.Meta().Set(FailureTypeHeader, replyErr.Type.String())
		cerr.Meta().Set(FailureCodeHeader, strconv.Itoa(replyErr.Code))
		return cerr
	}

	var encErr *value.EncodingError
	switch {
	case errors.As(err, &encErr):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, bus.ErrClosed):
		return connect.NewError(connect.CodeUnavailable, err)
	default:
		return connect.NewError(connect.CodeInvalidArgument, err)
	}
}

// fromConnectError restores the *bus.ReplyError carried in error metadata.
func fromConnectError(err error) error {
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return err
	}

	failureType, ok := bus.ParseReplyFailure(cerr.Meta().Get(FailureTypeHeader))
	if !ok {
		return err
	}

	code := bus.DefaultFailureCode
	if raw := cerr.Meta().Get(FailureCodeHeader); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			code = parsed
		}
	}

	return &bus.ReplyError{Type: failureType, Code: code, Message: cerr.Message()}
}

func (s *Server) denied(ctx context.Context, address, operation, reason string) {
	s.logger.WarnContext(
		ctx,
		"bridge request denied",
		slog.String("address", address),
		slog.String("operation", operation),
		slog.String("reason", reason),
	)
	s.emit(ctx, EventDenied, observability.LevelWarning, map[string]any{
		"address":   address,
		"operation": operation,
		"reason":    reason,
	})
}
