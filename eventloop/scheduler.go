package eventloop

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Cancellable is a scheduled callback that can be withdrawn.
type Cancellable interface {
	// Cancel prevents the callback from running. It reports false if the
	// callback already ran or was cancelled before.
	Cancel() bool
}

// Scheduler runs callbacks after a delay. Callbacks run on a scheduler
// goroutine; callers post onto an execution context when ordering matters.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) Cancellable
	Now() time.Time
}

// ClockScheduler implements Scheduler over a clock.Clock so tests can drive
// time with clock.NewMock.
type ClockScheduler struct {
	clock clock.Clock
}

// NewScheduler returns a scheduler backed by c, or by the wall clock when c
// is nil.
func NewScheduler(c clock.Clock) *ClockScheduler {
	if c == nil {
		c = clock.New()
	}
	return &ClockScheduler{clock: c}
}

func (s *ClockScheduler) Schedule(delay time.Duration, fn func()) Cancellable {
	return &timer{t: s.clock.AfterFunc(delay, fn)}
}

func (s *ClockScheduler) Now() time.Time {
	return s.clock.Now()
}

type timer struct {
	t *clock.Timer
}

func (t *timer) Cancel() bool {
	return t.t.Stop()
}
