// Package eventloop provides the execution contexts handlers run on.
//
// A Context serializes the tasks posted to it: two tasks posted to the same
// Context never run at the same time, and tasks run in the order they were
// posted. Loop is the concrete single-goroutine implementation used by the
// bus and the bridge. Distinct loops run in parallel.
//
// The context a piece of code is running on travels in a context.Context:
//
//	loop := eventloop.NewLoop("worker", logger)
//	loop.Post(func() {
//	    ctx := eventloop.WithCurrent(context.Background(), loop)
//	    current, _ := eventloop.Current(ctx) // loop
//	})
package eventloop

import "context"

// Context is a single-threaded cooperative scheduling unit.
type Context interface {
	// Post queues task to run on the context. It never blocks and fails
	// with ErrClosed once the context stopped accepting work.
	Post(task func()) error

	Name() string
}

type currentKey struct{}

// WithCurrent returns a copy of ctx that records c as the execution context
// the caller runs on.
func WithCurrent(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, currentKey{}, c)
}

// Current returns the execution context recorded by WithCurrent.
func Current(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return nil, false
	}
	c, ok := ctx.Value(currentKey{}).(Context)
	return c, ok && c != nil
}
