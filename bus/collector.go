package bus

import "github.com/prometheus/client_golang/prometheus"

// MetricsSource is implemented by Bus.
type MetricsSource interface {
	Name() string
	Metrics() MetricsSnapshot
}

type collector struct {
	source MetricsSource
	descs  []*prometheus.Desc
}

const namespace = "eventbus"

// NewCollector exposes the bus metrics to a prometheus registry.
func NewCollector(source MetricsSource) prometheus.Collector {
	labels := prometheus.Labels{"bus": source.Name()}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels)
	}

	return &collector{
		source: source,
		descs: []*prometheus.Desc{
			desc("handlers", "Registered handlers."),
			desc("pending_replies", "Reply-expecting sends awaiting an outcome."),
			desc("sent_total", "Point-to-point sends."),
			desc("published_total", "Publishes."),
			desc("delivered_total", "Messages posted to a handler context."),
			desc("dropped_total", "Fire-and-forget sends that found no handler."),
			desc("replies_fulfilled_total", "Replies delivered to the requester."),
			desc("replies_timed_out_total", "Requests that timed out."),
			desc("replies_no_handlers_total", "Requests that found no handler."),
			desc("recipient_failures_total", "Handler errors and panics."),
		},
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Metrics()
	values := []struct {
		kind prometheus.ValueType
		v    int64
	}{
		{prometheus.GaugeValue, s.Handlers},
		{prometheus.GaugeValue, s.PendingReplies},
		{prometheus.CounterValue, s.Sent},
		{prometheus.CounterValue, s.Published},
		{prometheus.CounterValue, s.Delivered},
		{prometheus.CounterValue, s.Dropped},
		{prometheus.CounterValue, s.RepliesFulfilled},
		{prometheus.CounterValue, s.RepliesTimedOut},
		{prometheus.CounterValue, s.RepliesNoHandlers},
		{prometheus.CounterValue, s.RecipientFailures},
	}

	for i, d := range c.descs {
		ch <- prometheus.MustNewConstMetric(d, values[i].kind, float64(values[i].v))
	}
}
