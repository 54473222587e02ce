package bus

import "sync/atomic"

// MetricsSnapshot is a point-in-time copy of the bus counters. Handlers
// counts application registrations and excludes reply addresses.
type MetricsSnapshot struct {
	Handlers          int64
	PendingReplies    int64
	Sent              int64
	Published         int64
	Delivered         int64
	Dropped           int64
	RepliesFulfilled  int64
	RepliesTimedOut   int64
	RepliesNoHandlers int64
	RecipientFailures int64
}

type Metrics struct {
	pendingReplies    atomic.Int64
	sent              atomic.Int64
	published         atomic.Int64
	delivered         atomic.Int64
	dropped           atomic.Int64
	repliesFulfilled  atomic.Int64
	repliesTimedOut   atomic.Int64
	repliesNoHandlers atomic.Int64
	recipientFailures atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordPendingReply(delta int) { m.pendingReplies.Add(int64(delta)) }
func (m *Metrics) RecordSent() { m.sent.Add(1) }
func (m *Metrics) RecordPublished() { m.published.Add(1) }
func (m *Metrics) RecordDelivered() { m.delivered.Add(1) }
func (m *Metrics) RecordDropped() { m.dropped.Add(1) }
func (m *Metrics) RecordRecipientFailure() { m.recipientFailures.Add(1) }

func (m *Metrics) recordOutcome(state replyState) {
	switch state {
	case stateFulfilled:
		m.repliesFulfilled.Add(1)
	case stateTimedOut:
		m.repliesTimedOut.Add(1)
	case stateNoHandlers, stateClosed:
		m.repliesNoHandlers.Add(1)
	}
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		PendingReplies:    m.pendingReplies.Load(),
		Sent:              m.sent.Load(),
		Published:         m.published.Load(),
		Delivered:         m.delivered.Load(),
		Dropped:           m.dropped.Load(),
		RepliesFulfilled:  m.repliesFulfilled.Load(),
		RepliesTimedOut:   m.repliesTimedOut.Load(),
		RepliesNoHandlers: m.repliesNoHandlers.Load(),
		RecipientFailures: m.recipientFailures.Load(),
	}
}
