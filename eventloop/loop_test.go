package eventloop_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tailored-agentic-units/eventbus/eventloop"
)

func newLoop(t *testing.T, name string) *eventloop.Loop {
	t.Helper()
	l := eventloop.NewLoop(name, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		l.Close(ctx)
	})
	return l
}

func TestLoop_RunsInOrder(t *testing.T) {
	l := newLoop(t, "ordered")

	const n = 100
	got := make([]int, 0, n)
	done := make(chan struct{})

	for i := range n {
		if err := l.Post(func() {
			got = append(got, i)
			if i == n-1 {
				close(done)
			}
		}); err != nil {
			t.Fatalf("Post() error = %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks did not complete")
	}

	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestLoop_SerializesTasks(t *testing.T) {
	l := newLoop(t, "serial")

	var running, overlaps atomic.Int32
	var wg sync.WaitGroup

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				l.Post(func() {
					if running.Add(1) > 1 {
						overlaps.Add(1)
					}
					time.Sleep(10 * time.Microsecond)
					running.Add(-1)
				})
			}
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if overlaps.Load() != 0 {
		t.Errorf("overlapping tasks = %d, want 0", overlaps.Load())
	}
}

func TestLoop_RecoversPanic(t *testing.T) {
	l := newLoop(t, "panics")

	ran := make(chan struct{})
	l.Post(func() { panic("boom") })
	l.Post(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("loop stopped after panic")
	}
}

func TestLoop_CloseDrainsAndRejects(t *testing.T) {
	l := eventloop.NewLoop("closing", nil)

	var count atomic.Int32
	block := make(chan struct{})
	l.Post(func() { <-block })
	for range 10 {
		l.Post(func() { count.Add(1) })
	}

	if got := l.QueueLength(); got != 10 && got != 11 {
		t.Errorf("QueueLength() = %d, want 10 or 11", got)
	}

	closed := make(chan error, 1)
	go func() { closed <- l.Close(context.Background()) }()

	// wait for Close to mark the loop before releasing the blocked task
	deadline := time.Now().Add(5 * time.Second)
	for !l.IsClosed() {
		if time.Now().After(deadline) {
			t.Fatal("loop never marked closed")
		}
		time.Sleep(time.Millisecond)
	}

	if err := l.Post(func() {}); !errors.Is(err, eventloop.ErrClosed) {
		t.Errorf("Post() after Close error = %v, want ErrClosed", err)
	}

	close(block)
	if err := <-closed; err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if count.Load() != 10 {
		t.Errorf("drained tasks = %d, want 10", count.Load())
	}
}

func TestLoop_CloseTimeout(t *testing.T) {
	l := eventloop.NewLoop("stuck", nil)
	release := make(chan struct{})
	defer close(release)

	started := make(chan struct{})
	l.Post(func() {
		close(started)
		<-release
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close() error = %v, want DeadlineExceeded", err)
	}
}

func TestCurrent(t *testing.T) {
	l := newLoop(t, "current")

	if _, ok := eventloop.Current(context.Background()); ok {
		t.Error("Current() on bare context should report false")
	}

	ctx := eventloop.WithCurrent(context.Background(), l)
	got, ok := eventloop.Current(ctx)
	if !ok {
		t.Fatal("Current() should report true")
	}
	if got.Name() != "current" {
		t.Errorf("Current().Name() = %q, want %q", got.Name(), "current")
	}
}

func TestClockScheduler(t *testing.T) {
	mock := clock.NewMock()
	s := eventloop.NewScheduler(mock)

	fired := make(chan struct{}, 2)
	s.Schedule(10*time.Millisecond, func() { fired <- struct{}{} })
	cancelled := s.Schedule(10*time.Millisecond, func() { fired <- struct{}{} })

	if !cancelled.Cancel() {
		t.Error("Cancel() before firing should report true")
	}
	if cancelled.Cancel() {
		t.Error("second Cancel() should report false")
	}

	mock.Add(10 * time.Millisecond)

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled callback did not fire")
	}

	select {
	case <-fired:
		t.Error("cancelled callback fired")
	case <-time.After(20 * time.Millisecond):
	}

	if !s.Now().Equal(mock.Now()) {
		t.Errorf("Now() = %v, want %v", s.Now(), mock.Now())
	}
}
