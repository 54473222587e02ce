package observability

import (
	"context"
	"sync"
)

// Recorder keeps every event it receives, for assertions in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

func (r *Recorder) OnEvent(ctx context.Context, event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Events returns a copy of the recorded events in arrival order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events with the given type.
func (r *Recorder) OfType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []Event
	for _, e := range r.events {
		if e.Type == t {
			matched = append(matched, e)
		}
	}
	return matched
}

// Wait blocks until at least n events of type t were recorded or ctx ends.
func (r *Recorder) Wait(ctx context.Context, t EventType, n int) ([]Event, error) {
	for {
		if matched := r.OfType(t); len(matched) >= n {
			return matched, nil
		}
		select {
		case <-r.notify:
		case <-ctx.Done():
			return r.OfType(t), ctx.Err()
		}
	}
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
