package value

import "slices"

// Entry is a single key/value pair of a Map.
type Entry struct {
	Key   string
	Value Value
}

// Map is an ordered map with unique string keys. Iteration follows
// insertion order; equality does not depend on it. A Map is never mutated
// in place once built: Set and Delete return a new Map.
type Map struct {
	entries []Entry
	index   map[string]int
}

// NewMap builds a Map from entries. A repeated key keeps its first
// position and takes the last value.
func NewMap(entries ...Entry) *Map {
	m := &Map{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		m.put(e.Key, e.Value)
	}
	return m
}

func (m *Map) put(key string, v Value) {
	if i, ok := m.index[key]; ok {
		m.entries[i].Value = v
		return
	}
	m.index[key] = len(m.entries)
	m.entries = append(m.entries, Entry{Key: key, Value: v})
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	i, ok := m.index[key]
	if !ok {
		return Value{}, false
	}
	return m.entries[i].Value, true
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, len(m.entries))
	for i, e := range m.entries {
		keys[i] = e.Key
	}
	return keys
}

// Entries returns a copy of the entries in insertion order.
func (m *Map) Entries() []Entry {
	if m == nil {
		return nil
	}
	return slices.Clone(m.entries)
}

// Range calls fn for every entry in insertion order until fn returns false.
func (m *Map) Range(fn func(key string, v Value) bool) {
	if m == nil {
		return
	}
	for _, e := range m.entries {
		if !fn(e.Key, e.Value) {
			return
		}
	}
}

// Set returns a copy of m with key bound to v.
func (m *Map) Set(key string, v Value) *Map {
	next := m.shallow()
	next.put(key, v)
	return next
}

// Delete returns a copy of m without key.
func (m *Map) Delete(key string) *Map {
	next := NewMap()
	m.Range(func(k string, v Value) bool {
		if k != key {
			next.put(k, v)
		}
		return true
	})
	return next
}

func (m *Map) shallow() *Map {
	next := &Map{
		entries: make([]Entry, 0, m.Len()+1),
		index:   make(map[string]int, m.Len()+1),
	}
	m.Range(func(k string, v Value) bool {
		next.put(k, v)
		return true
	})
	return next
}

func (m *Map) clone() *Map {
	next := &Map{
		entries: make([]Entry, 0, m.Len()),
		index:   make(map[string]int, m.Len()),
	}
	m.Range(func(k string, v Value) bool {
		next.put(k, v.Clone())
		return true
	})
	return next
}
