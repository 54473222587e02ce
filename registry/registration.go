package registry

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/eventbus/eventloop"
)

// ID identifies a registration for the lifetime of the process.
type ID string

// NewID returns a fresh time-ordered identifier.
func NewID() ID {
	return ID(uuid.Must(uuid.NewV7()).String())
}

// Visibility controls whether remote senders can select a registration.
type Visibility uint8

const (
	// VisibilityCluster registrations receive local and remote traffic.
	VisibilityCluster Visibility = iota
	// VisibilityLocal registrations only receive traffic from this process.
	VisibilityLocal
)

func (v Visibility) String() string {
	if v == VisibilityLocal {
		return "local"
	}
	return "cluster"
}

// Registration binds a handler to an address and the context it runs on.
type Registration[H any] struct {
	ID         ID
	Address    string
	Target     eventloop.Context
	Handler    H
	OneShot    bool
	Ephemeral  bool
	Visibility Visibility
	Created    time.Time

	removed atomic.Bool
}

// Removed reports whether the registration has left the registry, either by
// Unregister or by being consumed as a one-shot.
func (r *Registration[H]) Removed() bool {
	return r.removed.Load()
}

// Option adjusts a registration before it is added.
type Option func(*options)

type options struct {
	oneShot    bool
	ephemeral  bool
	visibility Visibility
	id         ID
}

// OneShot removes the registration as soon as it is selected.
func OneShot() Option {
	return func(o *options) { o.oneShot = true }
}

// Ephemeral marks bookkeeping registrations, such as reply addresses, that
// Persistent leaves out of its count.
func Ephemeral() Option {
	return func(o *options) { o.ephemeral = true }
}

// LocalOnly hides the registration from remote senders.
func LocalOnly() Option {
	return func(o *options) { o.visibility = VisibilityLocal }
}

// WithID registers under a caller supplied id instead of a generated one.
func WithID(id ID) Option {
	return func(o *options) { o.id = id }
}
