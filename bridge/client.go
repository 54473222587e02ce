package bridge

import (
	"context"
	"strings"
	"time"

	"connectrpc.com/connect"

	"github.com/tailored-agentic-units/eventbus/value"
)

// Client calls a bridge's RPC endpoints.
type Client struct {
	send    *connect.Client[SendRequest, SendResponse]
	publish *connect.Client[PublishRequest, PublishResponse]
}

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	token string
}

// WithToken sends token as the bearer credential on every call.
func WithToken(token string) ClientOption {
	return func(o *clientOptions) { o.token = token }
}

// NewClient creates a client for the bridge at baseURL, for example
// "http://localhost:7070".
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...ClientOption) *Client {
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	baseURL = strings.TrimRight(baseURL, "/")
	callOpts := []connect.ClientOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(bearer(o.token)),
	}

	return &Client{
		send:    connect.NewClient[SendRequest, SendResponse](httpClient, baseURL+SendProcedure, callOpts...),
		publish: connect.NewClient[PublishRequest, PublishResponse](httpClient, baseURL+PublishProcedure, callOpts...),
	}
}

func bearer(token string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if token != "" && req.Spec().IsClient {
				req.Header().Set("Authorization", "Bearer "+token)
			}
			return next(ctx, req)
		}
	}
}

// Send delivers body to one handler of address without waiting for a reply.
func (c *Client) Send(ctx context.Context, address string, body value.Value, headers map[string]string) error {
	_, err := c.send.CallUnary(ctx, connect.NewRequest(&SendRequest{
		Address: address,
		Body:    body,
		Headers: headers,
	}))
	if err != nil {
		return fromConnectError(err)
	}
	return nil
}

// Request sends body and waits for the reply. Bus failures come back as
// *bus.ReplyError. A zero timeout uses the server's reply timeout.
func (c *Client) Request(ctx context.Context, address string, body value.Value, headers map[string]string, timeout time.Duration) (*SendResponse, error) {
	resp, err := c.send.CallUnary(ctx, connect.NewRequest(&SendRequest{
		Address:     address,
		Body:        body,
		Headers:     headers,
		ExpectReply: true,
		TimeoutMs:   timeout.Milliseconds(),
	}))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return resp.Msg, nil
}

// Publish delivers body to every handler of address.
func (c *Client) Publish(ctx context.Context, address string, body value.Value, headers map[string]string) error {
	_, err := c.publish.CallUnary(ctx, connect.NewRequest(&PublishRequest{
		Address: address,
		Body:    body,
		Headers: headers,
	}))
	if err != nil {
		return fromConnectError(err)
	}
	return nil
}
