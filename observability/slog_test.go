package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tailored-agentic-units/eventbus/observability"
)

func TestSlogObserver_DataKeysSorted(t *testing.T) {
	var buf bytes.Buffer
	observer := observability.NewSlogObserver(slog.New(slog.NewTextHandler(&buf, nil)))

	observer.OnEvent(context.Background(), observability.Event{
		Type:      "bus.publish",
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "bus.orders",
		Data: map[string]any{
			"recipients": 3,
			"address":    "orders.created",
			"delivered":  3,
		},
	})

	output := buf.String()
	address := strings.Index(output, "address=")
	delivered := strings.Index(output, "delivered=")
	recipients := strings.Index(output, "recipients=")
	if address < 0 || delivered < 0 || recipients < 0 {
		t.Fatalf("missing data attributes in %q", output)
	}
	if !(address < delivered && delivered < recipients) {
		t.Errorf("attributes out of key order: %q", output)
	}
	if !strings.Contains(output, "source=bus.orders") {
		t.Errorf("output = %q, want source attribute", output)
	}
}

func TestSlogObserver_SkipsDisabledLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	observer := observability.NewSlogObserver(logger)

	observer.OnEvent(context.Background(), observability.Event{
		Type:  "bus.deliver",
		Level: observability.LevelVerbose,
	})
	if buf.Len() != 0 {
		t.Errorf("verbose event logged at warn level: %q", buf.String())
	}

	observer.OnEvent(context.Background(), observability.Event{
		Type:  "reply.timeout",
		Level: observability.LevelWarning,
	})
	if !strings.Contains(buf.String(), "reply.timeout") {
		t.Errorf("output = %q, want reply.timeout", buf.String())
	}
}

func TestSlogObserver_JSONHandler(t *testing.T) {
	var buf bytes.Buffer
	observer := observability.NewSlogObserver(slog.New(slog.NewJSONHandler(&buf, nil)))

	observer.OnEvent(context.Background(), observability.Event{
		Type:   "bridge.socket.open",
		Level:  observability.LevelInfo,
		Source: "bridge.main",
		Data:   map[string]any{"socket_id": "abc"},
	})

	output := buf.String()
	if !strings.Contains(output, `"msg":"bridge.socket.open"`) {
		t.Errorf("output = %q, want event type as message", output)
	}
	if !strings.Contains(output, `"socket_id":"abc"`) {
		t.Errorf("output = %q, want socket_id field", output)
	}
}

func TestNewSlogObserver_NilLogger(t *testing.T) {
	observer := observability.NewSlogObserver(nil)
	observer.OnEvent(context.Background(), observability.Event{Type: "bus.close", Level: observability.LevelInfo})
}

func TestMultiObserver_ConcurrentEvents(t *testing.T) {
	recorder := observability.NewRecorder()
	multi := observability.NewMultiObserver(recorder, observability.NoOpObserver{})

	const goroutines = 10
	const perGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := range goroutines {
		go func(id int) {
			defer wg.Done()
			for j := range perGoroutine {
				multi.OnEvent(context.Background(), observability.Event{
					Type: "bus.send",
					Data: map[string]any{"goroutine": id, "event": j},
				})
			}
		}(i)
	}
	wg.Wait()

	if got := len(recorder.Events()); got != goroutines*perGoroutine {
		t.Errorf("recorded %d events, want %d", got, goroutines*perGoroutine)
	}
}
