// Package registry maps addresses to ordered lists of handler registrations.
//
// Registrations on one address keep their registration order. Point-to-point
// selection rotates through them with a cursor kept per address; broadcast
// selection snapshots every registration present at call time. A single
// mutex guards the lists and cursors, and selection hands back pointers so
// callers dispatch without holding it.
package registry

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tailored-agentic-units/eventbus/eventloop"
)

type entry[H any] struct {
	registrations []*Registration[H]
	cursor        int
}

// Registry is safe for concurrent use.
type Registry[H any] struct {
	mu        sync.Mutex
	addresses map[string]*entry[H]
	byID      map[ID]*Registration[H]
	ephemeral int
	now       func() time.Time
}

func New[H any]() *Registry[H] {
	return &Registry[H]{
		addresses: make(map[string]*entry[H]),
		byID:      make(map[ID]*Registration[H]),
		now:       time.Now,
	}
}

// Register appends a registration for address. Registering the same handler
// twice yields two independent registrations.
func (r *Registry[H]) Register(address string, target eventloop.Context, handler H, opts ...Option) (*Registration[H], error) {
	if address == "" {
		return nil, ErrEmptyAddress
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrNilTarget, address)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = NewID()
	}

	reg := &Registration[H]{
		ID:         o.id,
		Address:    address,
		Target:     target,
		Handler:    handler,
		OneShot:    o.oneShot,
		Ephemeral:  o.ephemeral,
		Visibility: o.visibility,
		Created:    r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.addresses[address]
	if !ok {
		e = &entry[H]{}
		r.addresses[address] = e
	}
	e.registrations = append(e.registrations, reg)
	r.byID[reg.ID] = reg
	if reg.Ephemeral {
		r.ephemeral++
	}

	return reg, nil
}

// Unregister removes the registration with id. Unknown or already removed
// ids are ignored and reported as false.
func (r *Registry[H]) Unregister(id ID) (*Registration[H], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	r.remove(reg)
	return reg, true
}

// Next selects one registration for address by round robin. When remote is
// set, local-only registrations are passed over. A selected one-shot leaves
// the registry before Next returns.
func (r *Registry[H]) Next(address string, remote bool) (*Registration[H], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.addresses[address]
	if !ok {
		return nil, false
	}

	n := len(e.registrations)
	for i := range n {
		idx := (e.cursor + i) % n
		reg := e.registrations[idx]
		if remote && reg.Visibility == VisibilityLocal {
			continue
		}

		e.cursor = (idx + 1) % n
		if reg.OneShot {
			r.remove(reg)
		}
		return reg, true
	}

	return nil, false
}

// Snapshot returns every registration on address at call time. One-shots in
// the snapshot are consumed.
func (r *Registry[H]) Snapshot(address string, remote bool) []*Registration[H] {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.addresses[address]
	if !ok {
		return nil
	}

	selected := make([]*Registration[H], 0, len(e.registrations))
	for _, reg := range e.registrations {
		if remote && reg.Visibility == VisibilityLocal {
			continue
		}
		selected = append(selected, reg)
	}
	for _, reg := range selected {
		if reg.OneShot {
			r.remove(reg)
		}
	}

	return selected
}

func (r *Registry[H]) Get(id ID) (*Registration[H], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byID[id]
	return reg, ok
}

// Len reports the registrations currently held for address.
func (r *Registry[H]) Len(address string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.addresses[address]; ok {
		return len(e.registrations)
	}
	return 0
}

// Count reports the registrations across all addresses.
func (r *Registry[H]) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Persistent reports the registrations not marked Ephemeral.
func (r *Registry[H]) Persistent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID) - r.ephemeral
}

// Addresses returns the addresses with at least one registration, sorted.
func (r *Registry[H]) Addresses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	addresses := make([]string, 0, len(r.addresses))
	for address := range r.addresses {
		addresses = append(addresses, address)
	}
	slices.Sort(addresses)
	return addresses
}

// remove must be called with r.mu held.
func (r *Registry[H]) remove(reg *Registration[H]) {
	if !reg.removed.CompareAndSwap(false, true) {
		return
	}
	delete(r.byID, reg.ID)
	if reg.Ephemeral {
		r.ephemeral--
	}

	e := r.addresses[reg.Address]
	idx := slices.Index(e.registrations, reg)
	if idx < 0 {
		return
	}
	e.registrations = slices.Delete(e.registrations, idx, idx+1)

	switch {
	case len(e.registrations) == 0:
		delete(r.addresses, reg.Address)
	case idx < e.cursor:
		e.cursor--
	case e.cursor >= len(e.registrations):
		e.cursor = 0
	}
}
