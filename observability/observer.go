// Package observability carries lifecycle events out of the event bus and
// its bridge. Level values are OpenTelemetry SeverityNumbers, so an event
// becomes an OTel log record without remapping.
package observability

import (
	"context"
	"log/slog"
	"slices"
	"time"
)

// Level is an OTel SeverityNumber.
type Level int

const (
	LevelVerbose Level = 5  // DEBUG range 5-8
	LevelInfo    Level = 9  // INFO range 9-12
	LevelWarning Level = 13 // WARN range 13-16
	LevelError   Level = 17 // ERROR range 17-20
)

var severities = []struct {
	upper Level
	text  string
	slog  slog.Level
}{
	{4, "TRACE", slog.LevelDebug},
	{8, "DEBUG", slog.LevelDebug},
	{12, "INFO", slog.LevelInfo},
	{16, "WARN", slog.LevelWarn},
	{20, "ERROR", slog.LevelError},
}

func (l Level) severity() (string, slog.Level) {
	for _, s := range severities {
		if l <= s.upper {
			return s.text, s.slog
		}
	}
	return "FATAL", slog.LevelError
}

// String returns the OTel severity text.
func (l Level) String() string {
	text, _ := l.severity()
	return text
}

func (l Level) SlogLevel() slog.Level {
	_, level := l.severity()
	return level
}

// EventType names an event. Emitting packages declare their own, such as
// "bus.send" or "bridge.socket.open".
type EventType string

// Event maps onto an OTel LogRecord: Type is the event name, Level the
// severity number, Source the instrumentation scope and Data the attributes.
type Event struct {
	Type      EventType
	Level     Level
	Timestamp time.Time
	Source    string
	Data      map[string]any
}

// Attrs returns Data as slog attributes ordered by key.
func (e Event) Attrs() []slog.Attr {
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, e.Data[k]))
	}
	return attrs
}

// Observer receives events from every execution context the bus drives, so
// implementations must be safe for concurrent use.
type Observer interface {
	OnEvent(ctx context.Context, event Event)
}
