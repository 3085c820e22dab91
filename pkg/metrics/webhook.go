package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics records delivery outcomes for payment event processing.
type WebhookMetrics struct {
	duration   *prometheus.HistogramVec
	events     *prometheus.CounterVec
	duplicates prometheus.Counter
	rejected   prometheus.Counter
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
// A nil registerer yields a no-op recorder, which tests rely on.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_event_duration_seconds",
		Help:    "Processing duration per event category.",
		Buckets: prometheus.DefBuckets,
	}, []string{"category"})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Processed events by category and outcome.",
	}, []string{"category", "outcome"})
	duplicates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhook_duplicate_deliveries_total",
		Help: "Deliveries suppressed as duplicates before processing.",
	})
	rejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhook_rejected_deliveries_total",
		Help: "Deliveries rejected before processing (signature or payload).",
	})
	reg.MustRegister(duration, events, duplicates, rejected)
	return &WebhookMetrics{
		duration:   duration,
		events:     events,
		duplicates: duplicates,
		rejected:   rejected,
	}
}

// ObserveDuration records processing time for an event category.
func (m *WebhookMetrics) ObserveDuration(category string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(category)).Observe(duration.Seconds())
}

// IncEvent counts one processed event with its outcome.
func (m *WebhookMetrics) IncEvent(category, outcome string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(category), normalizeLabel(outcome)).Inc()
}

// IncDuplicate counts a delivery suppressed as a duplicate.
func (m *WebhookMetrics) IncDuplicate() {
	if m == nil || m.duplicates == nil {
		return
	}
	m.duplicates.Inc()
}

// IncRejected counts a delivery rejected before any processing.
func (m *WebhookMetrics) IncRejected() {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
