package value

import (
	"math"
	"reflect"
	"slices"
	"strconv"
	"unicode/utf8"
)

type visit struct {
	ptr uintptr
	typ reflect.Type
	len int
}

type encoder struct {
	active map[visit]bool
}

// Encode converts native Go data into a Value.
//
// Supported inputs are nil, bool, integer and float kinds, string, Value,
// *Map, slices and arrays, maps with string keys, and pointers or interfaces
// to any of those. Byte slices, structs, channels, functions and complex
// numbers are rejected, as are cyclic structures and strings or map keys
// that are not valid UTF-8. Entries of native maps are
// ordered by key. Failures are returned as *EncodingError.
func Encode(native any) (Value, error) {
	enc := encoder{active: make(map[visit]bool)}
	return enc.encode("$", reflect.ValueOf(native))
}

// MustEncode is like Encode but panics on error. Intended for literals in
// tests and examples.
func MustEncode(native any) Value {
	v, err := Encode(native)
	if err != nil {
		panic(err)
	}
	return v
}

func (e *encoder) encode(path string, rv reflect.Value) (Value, error) {
	if !rv.IsValid() {
		return Null(), nil
	}

	if rv.CanInterface() {
		switch x := rv.Interface().(type) {
		case Value:
			return x.Clone(), nil
		case *Map:
			if x == nil {
				return Null(), nil
			}
			return FromMap(x.clone()), nil
		}
	}

	switch rv.Kind() {
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Value{}, &EncodingError{Path: path, Type: rv.Type().String(), Err: ErrOverflow}
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil
	case reflect.String:
		if !utf8.ValidString(rv.String()) {
			return Value{}, &EncodingError{Path: path, Type: rv.Type().String(), Err: ErrInvalidUTF8}
		}
		return String(rv.String()), nil
	case reflect.Interface:
		if rv.IsNil() {
			return Null(), nil
		}
		return e.encode(path, rv.Elem())
	case reflect.Pointer:
		if rv.IsNil() {
			return Null(), nil
		}
		key := visit{ptr: rv.Pointer(), typ: rv.Type()}
		if e.active[key] {
			return Value{}, &EncodingError{Path: path, Type: rv.Type().String(), Err: ErrCyclic}
		}
		e.active[key] = true
		defer delete(e.active, key)
		return e.encode(path, rv.Elem())
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return Value{}, &EncodingError{Path: path, Type: rv.Type().String(), Err: ErrUnsupportedType}
		}
		if rv.IsNil() {
			return Null(), nil
		}
		key := visit{ptr: rv.Pointer(), typ: rv.Type(), len: rv.Len()}
		if e.active[key] {
			return Value{}, &EncodingError{Path: path, Type: rv.Type().String(), Err: ErrCyclic}
		}
		e.active[key] = true
		defer delete(e.active, key)
		return e.encodeList(path, rv)
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return Value{}, &EncodingError{Path: path, Type: rv.Type().String(), Err: ErrUnsupportedType}
		}
		return e.encodeList(path, rv)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, &EncodingError{Path: path, Type: rv.Type().String(), Err: ErrInvalidKey}
		}
		if rv.IsNil() {
			return Null(), nil
		}
		key := visit{ptr: rv.Pointer(), typ: rv.Type()}
		if e.active[key] {
			return Value{}, &EncodingError{Path: path, Type: rv.Type().String(), Err: ErrCyclic}
		}
		e.active[key] = true
		defer delete(e.active, key)
		return e.encodeMap(path, rv)
	default:
		return Value{}, &EncodingError{Path: path, Type: rv.Type().String(), Err: ErrUnsupportedType}
	}
}

func (e *encoder) encodeList(path string, rv reflect.Value) (Value, error) {
	items := make([]Value, rv.Len())
	for i := range items {
		item, err := e.encode(path+"["+strconv.Itoa(i)+"]", rv.Index(i))
		if err != nil {
			return Value{}, err
		}
		items[i] = item
	}
	return Value{kind: KindSequence, seq: items}, nil
}

func (e *encoder) encodeMap(path string, rv reflect.Value) (Value, error) {
	keys := rv.MapKeys()
	slices.SortFunc(keys, func(a, b reflect.Value) int {
		switch {
		case a.String() < b.String():
			return -1
		case a.String() > b.String():
			return 1
		default:
			return 0
		}
	})

	m := &Map{
		entries: make([]Entry, 0, len(keys)),
		index:   make(map[string]int, len(keys)),
	}
	for _, k := range keys {
		if !utf8.ValidString(k.String()) {
			return Value{}, &EncodingError{Path: path, Type: rv.Type().String(), Err: ErrInvalidUTF8}
		}
		item, err := e.encode(path+"."+k.String(), rv.MapIndex(k))
		if err != nil {
			return Value{}, err
		}
		m.put(k.String(), item)
	}
	return FromMap(m), nil
}

// Decode converts v into fresh native Go data: nil, bool, int64, float64,
// string, []any or map[string]any. Every call allocates a new tree.
func Decode(v Value) any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindSequence:
		items := make([]any, len(v.seq))
		for i, item := range v.seq {
			items[i] = Decode(item)
		}
		return items
	case KindMap:
		out := make(map[string]any, v.m.Len())
		v.m.Range(func(key string, item Value) bool {
			out[key] = Decode(item)
			return true
		})
		return out
	default:
		return nil
	}
}
