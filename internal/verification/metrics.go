package verification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for verification outcomes.
type Metrics struct {
	Outcomes       *prometheus.CounterVec
	FallbackUsed   prometheus.Counter
	AuditFailures  prometheus.Counter
	VerifyDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attestra_verification_outcomes_total",
			Help: "Verification results by reason code (verified when empty)",
		}, []string{"asset_type", "reason"}),
		FallbackUsed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attestra_verification_fallback_total",
			Help: "Verifications that used a last-known-good oracle response",
		}),
		AuditFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attestra_verification_audit_failures_total",
			Help: "Verifications aborted because the audit append failed",
		}),
		VerifyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "attestra_verification_duration_seconds",
			Help:    "End-to-end verification latency",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observeOutcome(assetType, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "verified"
	}
	m.Outcomes.WithLabelValues(assetType, reason).Inc()
}

func (m *Metrics) incFallback() {
	if m == nil {
		return
	}
	m.FallbackUsed.Inc()
}

func (m *Metrics) incAuditFailure() {
	if m == nil {
		return
	}
	m.AuditFailures.Inc()
}

func (m *Metrics) observeDuration(seconds float64) {
	if m == nil {
		return
	}
	m.VerifyDuration.Observe(seconds)
}
