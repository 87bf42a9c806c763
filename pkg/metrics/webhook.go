package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics records reconciliation outcomes per event type.
type WebhookMetrics struct {
	duration *prometheus.HistogramVec
	applied  *prometheus.CounterVec
	ignored  *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_apply_duration_seconds",
		Help:    "Duration of webhook event application in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
	applied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_applied_total",
		Help: "Webhook events applied to the ledger or subscription.",
	}, []string{"type"})
	ignored := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_ignored_total",
		Help: "Webhook events ignored as duplicates or unhandled types.",
	}, []string{"type"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_rejected_total",
		Help: "Webhook events rejected before processing.",
	}, []string{"reason"})
	reg.MustRegister(duration, applied, ignored, rejected)
	return &WebhookMetrics{
		duration: duration,
		applied:  applied,
		ignored:  ignored,
		rejected: rejected,
	}
}

// ObserveDuration records how long applying the event took.
func (m *WebhookMetrics) ObserveDuration(eventType string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(eventType)).Observe(duration.Seconds())
}

// IncApplied increments the applied counter for the event type.
func (m *WebhookMetrics) IncApplied(eventType string) {
	if m == nil || m.applied == nil {
		return
	}
	m.applied.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncIgnored increments the ignored counter for the event type.
func (m *WebhookMetrics) IncIgnored(eventType string) {
	if m == nil || m.ignored == nil {
		return
	}
	m.ignored.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncRejected increments the rejected counter for the reason.
func (m *WebhookMetrics) IncRejected(reason string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.WithLabelValues(normalizeLabel(reason)).Inc()
}
