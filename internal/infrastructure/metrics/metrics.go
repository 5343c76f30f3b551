// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	dispatches      *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	deliverySeconds *prometheus.HistogramVec
	evictions       prometheus.Counter
	auditFailures   prometheus.Counter
	replays         prometheus.Counter
}

// New registers the instruments on reg. All record methods are nil-safe
// so wiring metrics stays optional in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_dispatch_total",
			Help: "Dispatch requests by notification type and outcome.",
		}, []string{"type", "result"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Per-channel delivery attempts by outcome.",
		}, []string{"channel", "status"}),
		deliverySeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notification_delivery_duration_seconds",
			Help:    "Adapter send latency by channel.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
		evictions: f.NewCounter(prometheus.CounterOpts{
			Name: "notification_token_evictions_total",
			Help: "Device tokens evicted after provider invalid-token signals.",
		}),
		auditFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "notification_audit_failures_total",
			Help: "Audit events that could not be recorded.",
		}),
		replays: f.NewCounter(prometheus.CounterOpts{
			Name: "notification_idempotent_replays_total",
			Help: "Sends answered from an existing notification row.",
		}),
	}
}

func (m *Metrics) RecordDispatch(notificationType string, success bool) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(notificationType, outcome(success)).Inc()
}

func (m *Metrics) RecordDelivery(channel string, success bool, seconds float64) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(channel, outcome(success)).Inc()
	m.deliverySeconds.WithLabelValues(channel).Observe(seconds)
}

func (m *Metrics) RecordEviction() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

func (m *Metrics) RecordAuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

func (m *Metrics) RecordIdempotentReplay() {
	if m == nil {
		return
	}
	m.replays.Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
