package bridge_test

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailored-agentic-units/eventbus/bridge"
	"github.com/tailored-agentic-units/eventbus/config"
	"github.com/tailored-agentic-units/eventbus/value"
)

func writeBinary(t *testing.T, conn *websocket.Conn, f bridge.Frame) {
	t.Helper()
	data, err := f.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))
}

func readBinary(t *testing.T, conn *websocket.Conn) bridge.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, messageType)

	var f bridge.Frame
	require.NoError(t, f.UnmarshalBinary(data))
	return f
}

func TestFrame_BinaryRoundTrip(t *testing.T) {
	body := value.MustEncode(map[string]any{"ratio": math.NaN(), "items": []any{int64(1), "two", nil}})
	frame := bridge.Frame{
		Type:         bridge.FrameError,
		Address:      "orders",
		Body:         body,
		ReplyAddress: "client.reply.7",
		Headers:      map[string]string{"trace": "abc", "tenant": "t1"},
		TimeoutMs:    250,
		FailureType:  "RECIPIENT_FAILURE",
		FailureCode:  -3,
		Error:        "nope",
	}

	data, err := frame.MarshalBinary()
	require.NoError(t, err)

	var got bridge.Frame
	require.NoError(t, got.UnmarshalBinary(data))

	assert.True(t, value.Equal(body, got.Body), "body = %v, want %v", got.Body, body)
	got.Body = frame.Body
	assert.Equal(t, frame, got)
}

func TestFrame_UnmarshalBinaryRejects(t *testing.T) {
	notMap, err := value.Int(1).MarshalBinary()
	require.NoError(t, err)
	numericType, err := value.MustEncode(map[string]any{"type": 5}).MarshalBinary()
	require.NoError(t, err)
	badHeader, err := value.MustEncode(map[string]any{"type": "send", "headers": map[string]any{"h": true}}).MarshalBinary()
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "not a map", data: notMap},
		{name: "numeric type", data: numericType},
		{name: "non-string header", data: badHeader},
		{name: "invalid utf8", data: []byte{0x2a, 0x01, 0xff}},
		{name: "garbage", data: []byte{0xff, 0xff}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f bridge.Frame
			assert.ErrorIs(t, f.UnmarshalBinary(tt.data), value.ErrMalformed)
		})
	}
}

func TestSocket_BinaryEncoding(t *testing.T) {
	f := newFixture(t, config.BridgeConfig{Inbound: permitAll})
	_, err := f.bus.RegisterHandler(context.Background(), "echo", echo)
	require.NoError(t, err)

	conn := f.dial(t, "?"+bridge.EncodingParam+"="+bridge.EncodingBinary)

	body := value.MustEncode(map[string]any{"ratio": math.Inf(1), "name": "gopher"})
	writeBinary(t, conn, bridge.Frame{
		Type:         bridge.FrameSend,
		Address:      "echo",
		Body:         body,
		ReplyAddress: "client.reply.1",
		Headers:      map[string]string{"trace": "abc"},
	})

	frame := readBinary(t, conn)
	assert.Equal(t, bridge.FrameMessage, frame.Type)
	assert.Equal(t, "client.reply.1", frame.Address)
	assert.Equal(t, "abc", frame.Headers["trace"])
	assert.True(t, value.Equal(body, frame.Body), "body = %v, want %v", frame.Body, body)

	// text frames are still read; the answer follows the socket's encoding
	writeFrame(t, conn, bridge.Frame{Type: bridge.FramePing})
	assert.Equal(t, bridge.FramePong, readBinary(t, conn).Type)
}

func TestSocket_MalformedBinaryFrame(t *testing.T) {
	f := newFixture(t, config.BridgeConfig{Inbound: permitAll})
	conn := f.dial(t, "")

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0xff, 0xff}))

	frame := readFrame(t, conn)
	assert.Equal(t, bridge.FrameError, frame.Type)
	assert.True(t, strings.HasPrefix(frame.Error, "malformed frame"), "error = %q", frame.Error)
}
