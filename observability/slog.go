package observability

import (
	"context"
	"log/slog"
)

// SlogObserver logs events. The event type is the message, Source a
// "source" attribute, and Data keys follow in key order.
type SlogObserver struct {
	logger *slog.Logger
}

// NewSlogObserver uses slog.Default when logger is nil.
func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogObserver{logger: logger}
}

func (o *SlogObserver) OnEvent(ctx context.Context, event Event) {
	level := event.Level.SlogLevel()
	if !o.logger.Enabled(ctx, level) {
		return
	}

	attrs := append([]slog.Attr{slog.String("source", event.Source)}, event.Attrs()...)
	o.logger.LogAttrs(ctx, level, string(event.Type), attrs...)
}
