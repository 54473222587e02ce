package eventloop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Loop runs posted tasks one at a time on a dedicated goroutine. The queue
// is unbounded so Post never blocks the caller.
type Loop struct {
	name   string
	logger *slog.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool

	notify chan struct{}
	done   chan struct{}
}

// NewLoop starts a loop. A nil logger falls back to slog.Default.
func NewLoop(name string, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}

	l := &Loop{
		name:   name,
		logger: logger,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	go l.run()

	return l
}

func (l *Loop) Name() string {
	return l.name
}

func (l *Loop) Post(task func()) error {
	if task == nil {
		return nil
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrClosed, l.name)
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	l.wake()
	return nil
}

// QueueLength reports the number of tasks waiting to run.
func (l *Loop) QueueLength() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Loop) IsClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Close stops accepting tasks, lets the queued ones finish and waits for the
// loop goroutine to exit or ctx to end. Calling Close from a task running on
// the same loop must use an already cancelled ctx, otherwise it waits on
// itself until ctx expires.
func (l *Loop) Close(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.wake()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close loop %s: %w", l.name, ctx.Err())
	}
}

func (l *Loop) wake() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		task, ok := l.next()
		if !ok {
			return
		}
		l.execute(task)
	}
}

func (l *Loop) next() (func(), bool) {
	for {
		l.mu.Lock()
		if len(l.queue) > 0 {
			task := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()
			return task, true
		}
		closed := l.closed
		l.mu.Unlock()

		if closed {
			return nil, false
		}
		<-l.notify
	}
}

func (l *Loop) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error(
				"event loop task panicked",
				slog.String("loop", l.name),
				slog.Any("panic", r),
			)
		}
	}()

	task()
}
