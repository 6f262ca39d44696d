// Package metrics holds the Prometheus counters for message handling. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sheiva"

// Item outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeEmpty     = "empty"
	OutcomePending   = "pending"
)

type Metrics struct {
	received     *prometheus.CounterVec
	malformed    *prometheus.CounterVec
	items        *prometheus.CounterVec
	deadLettered prometheus.Counter
	deleted      prometheus.Counter
	stored       prometheus.Counter
	storedBytes  prometheus.Counter

	handler string
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages received from the source queue.",
		}, []string{"handler"}),
		malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_malformed_total",
			Help:      "Messages skipped because they could not be decoded.",
		}, []string{"handler"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_processed_total",
			Help:      "Work items processed, by outcome.",
		}, []string{"handler", "outcome"}),
		deadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letter_sends_total",
			Help:      "Dead-letter entries published.",
		}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_deleted_total",
			Help:      "Source messages acknowledged.",
		}),
		stored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_written_total",
			Help:      "Objects written to the bucket.",
		}),
		storedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "object_bytes_written_total",
			Help:      "Bytes written to the bucket.",
		}),
	}
	reg.MustRegister(m.received, m.malformed, m.items, m.deadLettered, m.deleted, m.stored, m.storedBytes)
	return m
}

// For returns a view of m that labels per-handler counters with handler.
func (m *Metrics) For(handler string) *Metrics {
	if m == nil {
		return nil
	}
	cp := *m
	cp.handler = handler
	return &cp
}

func (m *Metrics) Received(n int) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(m.handler).Add(float64(n))
}

func (m *Metrics) Malformed(n int) {
	if m == nil {
		return
	}
	m.malformed.WithLabelValues(m.handler).Add(float64(n))
}

func (m *Metrics) Items(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.items.WithLabelValues(m.handler, outcome).Add(float64(n))
}

func (m *Metrics) DeadLettered() {
	if m == nil {
		return
	}
	m.deadLettered.Inc()
}

func (m *Metrics) Deleted() {
	if m == nil {
		return
	}
	m.deleted.Inc()
}

func (m *Metrics) Stored(bytes int) {
	if m == nil {
		return
	}
	m.stored.Inc()
	m.storedBytes.Add(float64(bytes))
}
