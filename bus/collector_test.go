package bus_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tailored-agentic-units/eventbus/bus"
)

func TestCollector(t *testing.T) {
	b := createTestBus(t)
	ctx := context.Background()

	mustRegister(t, b, ctx, "a", func(ctx context.Context, msg *bus.Message) error { return nil })
	b.Send(ctx, "a", 1)
	b.Send(ctx, "missing", 1)

	reg := prometheus.NewRegistry()
	if err := reg.Register(bus.NewCollector(b)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) != 10 {
		t.Errorf("gathered %d metric families, want 10", len(families))
	}

	values := make(map[string]float64)
	for _, family := range families {
		metric := family.GetMetric()[0]
		for _, label := range metric.GetLabel() {
			if label.GetName() == "bus" && label.GetValue() != "test-bus" {
				t.Errorf("%s bus label = %q, want test-bus", family.GetName(), label.GetValue())
			}
		}
		if metric.GetCounter() != nil {
			values[family.GetName()] = metric.GetCounter().GetValue()
		} else {
			values[family.GetName()] = metric.GetGauge().GetValue()
		}
	}

	tests := []struct {
		name string
		want float64
	}{
		{name: "eventbus_handlers", want: 1},
		{name: "eventbus_sent_total", want: 2},
		{name: "eventbus_dropped_total", want: 1},
		{name: "eventbus_pending_replies", want: 0},
	}
	for _, tt := range tests {
		if got := values[tt.name]; got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}
