package value

import (
	"fmt"
	"math"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// Binary layout: a Value is a single protobuf field whose number is the tag.
// Sequences nest their items as repeated field 1; maps nest entries as
// repeated field 1, each entry holding key (1) and value (2).
const (
	fieldNull     protowire.Number = 1
	fieldBool     protowire.Number = 2
	fieldInt      protowire.Number = 3
	fieldFloat    protowire.Number = 4
	fieldString   protowire.Number = 5
	fieldSequence protowire.Number = 6
	fieldMap      protowire.Number = 7

	fieldItem  protowire.Number = 1
	fieldKey   protowire.Number = 1
	fieldEntry protowire.Number = 2
)

// MarshalBinary encodes v using the protobuf wire format.
func (v Value) MarshalBinary() ([]byte, error) {
	return v.appendBinary(nil), nil
}

func (v Value) appendBinary(b []byte) []byte {
	switch v.kind {
	case KindNull:
		b = protowire.AppendTag(b, fieldNull, protowire.VarintType)
		b = protowire.AppendVarint(b, 0)
	case KindBool:
		b = protowire.AppendTag(b, fieldBool, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(v.b))
	case KindInt:
		b = protowire.AppendTag(b, fieldInt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(v.i))
	case KindFloat:
		b = protowire.AppendTag(b, fieldFloat, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v.f))
	case KindString:
		b = protowire.AppendTag(b, fieldString, protowire.BytesType)
		b = protowire.AppendString(b, v.s)
	case KindSequence:
		var body []byte
		for _, item := range v.seq {
			body = protowire.AppendTag(body, fieldItem, protowire.BytesType)
			body = protowire.AppendBytes(body, item.appendBinary(nil))
		}
		b = protowire.AppendTag(b, fieldSequence, protowire.BytesType)
		b = protowire.AppendBytes(b, body)
	case KindMap:
		var body []byte
		v.m.Range(func(key string, item Value) bool {
			var entry []byte
			entry = protowire.AppendTag(entry, fieldKey, protowire.BytesType)
			entry = protowire.AppendString(entry, key)
			entry = protowire.AppendTag(entry, fieldEntry, protowire.BytesType)
			entry = protowire.AppendBytes(entry, item.appendBinary(nil))

			body = protowire.AppendTag(body, fieldItem, protowire.BytesType)
			body = protowire.AppendBytes(body, entry)
			return true
		})
		b = protowire.AppendTag(b, fieldMap, protowire.BytesType)
		b = protowire.AppendBytes(b, body)
	}
	return b
}

// UnmarshalBinary decodes data produced by MarshalBinary.
func (v *Value) UnmarshalBinary(data []byte) error {
	parsed, n, err := consumeValue(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(data)-n)
	}
	*v = parsed
	return nil
}

func consumeValue(b []byte) (Value, int, error) {
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return Value{}, 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	rest := b[n:]

	switch {
	case num == fieldNull && typ == protowire.VarintType:
		_, m := protowire.ConsumeVarint(rest)
		if m < 0 {
			return Value{}, 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
		}
		return Null(), n + m, nil
	case num == fieldBool && typ == protowire.VarintType:
		x, m := protowire.ConsumeVarint(rest)
		if m < 0 {
			return Value{}, 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
		}
		return Bool(protowire.DecodeBool(x)), n + m, nil
	case num == fieldInt && typ == protowire.VarintType:
		x, m := protowire.ConsumeVarint(rest)
		if m < 0 {
			return Value{}, 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
		}
		return Int(protowire.DecodeZigZag(x)), n + m, nil
	case num == fieldFloat && typ == protowire.Fixed64Type:
		x, m := protowire.ConsumeFixed64(rest)
		if m < 0 {
			return Value{}, 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
		}
		return Float(math.Float64frombits(x)), n + m, nil
	case num == fieldString && typ == protowire.BytesType:
		s, m := protowire.ConsumeString(rest)
		if m < 0 {
			return Value{}, 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
		}
		if !utf8.ValidString(s) {
			return Value{}, 0, fmt.Errorf("%w: %w", ErrMalformed, ErrInvalidUTF8)
		}
		return String(s), n + m, nil
	case num == fieldSequence && typ == protowire.BytesType:
		body, m := protowire.ConsumeBytes(rest)
		if m < 0 {
			return Value{}, 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
		}
		items, err := consumeItems(body)
		if err != nil {
			return Value{}, 0, err
		}
		return Value{kind: KindSequence, seq: items}, n + m, nil
	case num == fieldMap && typ == protowire.BytesType:
		body, m := protowire.ConsumeBytes(rest)
		if m < 0 {
			return Value{}, 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
		}
		entries, err := consumeEntries(body)
		if err != nil {
			return Value{}, 0, err
		}
		return FromMap(entries), n + m, nil
	default:
		return Value{}, 0, fmt.Errorf("%w: field %d wire type %d", ErrMalformed, num, typ)
	}
}

func consumeNested(b []byte, want protowire.Number) ([]byte, int, error) {
	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	if num != want || typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("%w: field %d wire type %d", ErrMalformed, num, typ)
	}
	body, m := protowire.ConsumeBytes(b[n:])
	if m < 0 {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
	}
	return body, n + m, nil
}

func consumeItems(b []byte) ([]Value, error) {
	items := make([]Value, 0)
	for len(b) > 0 {
		body, n, err := consumeNested(b, fieldItem)
		if err != nil {
			return nil, err
		}
		var item Value
		if err := item.UnmarshalBinary(body); err != nil {
			return nil, err
		}
		items = append(items, item)
		b = b[n:]
	}
	return items, nil
}

func consumeEntries(b []byte) (*Map, error) {
	m := NewMap()
	for len(b) > 0 {
		entry, n, err := consumeNested(b, fieldItem)
		if err != nil {
			return nil, err
		}
		keyBytes, kn, err := consumeNested(entry, fieldKey)
		if err != nil {
			return nil, err
		}
		body, _, err := consumeNested(entry[kn:], fieldEntry)
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(keyBytes) {
			return nil, fmt.Errorf("%w: key: %w", ErrMalformed, ErrInvalidUTF8)
		}
		var item Value
		if err := item.UnmarshalBinary(body); err != nil {
			return nil, err
		}
		m.put(string(keyBytes), item)
		b = b[n:]
	}
	return m, nil
}
