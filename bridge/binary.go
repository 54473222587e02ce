package bridge

import (
	"fmt"
	"slices"

	"github.com/tailored-agentic-units/eventbus/value"
)

// EncodingParam selects the frame encoding the bridge writes to a socket.
// Connecting with ?encoding=binary makes every outbound frame a binary
// websocket message; inbound frames may use either encoding.
const (
	EncodingParam  = "encoding"
	EncodingBinary = "binary"
)

// MarshalBinary encodes f as a map Value in the wire form of
// value.Value.MarshalBinary. Keys match the JSON frame fields, so bodies
// keep floats such as NaN that JSON cannot carry.
func (f Frame) MarshalBinary() ([]byte, error) {
	entries := []value.Entry{
		{Key: "type", Value: value.String(f.Type)},
		{Key: "body", Value: f.Body},
	}
	text := func(key, s string) {
		if s != "" {
			entries = append(entries, value.Entry{Key: key, Value: value.String(s)})
		}
	}
	text("address", f.Address)
	text("replyAddress", f.ReplyAddress)
	text("failureType", f.FailureType)
	text("error", f.Error)

	if f.TimeoutMs != 0 {
		entries = append(entries, value.Entry{Key: "timeout", Value: value.Int(f.TimeoutMs)})
	}
	if f.FailureCode != 0 {
		entries = append(entries, value.Entry{Key: "failureCode", Value: value.Int(int64(f.FailureCode))})
	}
	if len(f.Headers) > 0 {
		keys := make([]string, 0, len(f.Headers))
		for k := range f.Headers {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		headers := make([]value.Entry, 0, len(keys))
		for _, k := range keys {
			headers = append(headers, value.Entry{Key: k, Value: value.String(f.Headers[k])})
		}
		entries = append(entries, value.Entry{Key: "headers", Value: value.FromMap(value.NewMap(headers...))})
	}

	return value.FromMap(value.NewMap(entries...)).MarshalBinary()
}

// UnmarshalBinary decodes a frame written by MarshalBinary. Unknown keys are
// ignored.
func (f *Frame) UnmarshalBinary(data []byte) error {
	var v value.Value
	if err := v.UnmarshalBinary(data); err != nil {
		return err
	}
	m, ok := v.AsMap()
	if !ok {
		return fmt.Errorf("%w: frame is %s, want map", value.ErrMalformed, v.Kind())
	}

	var (
		parsed Frame
		err    error
	)
	wrongKind := func(key string, item value.Value) {
		err = fmt.Errorf("%w: frame field %s is %s", value.ErrMalformed, key, item.Kind())
	}
	text := func(key string, item value.Value, dst *string) {
		if s, ok := item.AsString(); ok {
			*dst = s
			return
		}
		wrongKind(key, item)
	}

	m.Range(func(key string, item value.Value) bool {
		switch key {
		case "type":
			text(key, item, &parsed.Type)
		case "address":
			text(key, item, &parsed.Address)
		case "replyAddress":
			text(key, item, &parsed.ReplyAddress)
		case "failureType":
			text(key, item, &parsed.FailureType)
		case "error":
			text(key, item, &parsed.Error)
		case "body":
			parsed.Body = item
		case "timeout":
			n, ok := item.AsInt()
			if !ok {
				wrongKind(key, item)
			}
			parsed.TimeoutMs = n
		case "failureCode":
			n, ok := item.AsInt()
			if !ok {
				wrongKind(key, item)
			}
			parsed.FailureCode = int(n)
		case "headers":
			headers, ok := item.AsMap()
			if !ok {
				wrongKind(key, item)
				break
			}
			parsed.Headers = make(map[string]string, headers.Len())
			headers.Range(func(name string, h value.Value) bool {
				s, ok := h.AsString()
				if !ok {
					wrongKind(key+"."+name, h)
					return false
				}
				parsed.Headers[name] = s
				return true
			})
		}
		return err == nil
	})
	if err != nil {
		return err
	}

	*f = parsed
	return nil
}
