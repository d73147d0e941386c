package tokenization

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for mint and revoke operations.
type Metrics struct {
	Mints          *prometheus.CounterVec
	Revocations    *prometheus.CounterVec
	LedgerLatency  *prometheus.HistogramVec
	AuditFailures  prometheus.Counter
	Reconciliation *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Mints: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attestra_tokenization_mints_total",
			Help: "Mint attempts by outcome",
		}, []string{"outcome"}),
		Revocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attestra_tokenization_revocations_total",
			Help: "Revoke attempts by outcome",
		}, []string{"outcome"}),
		LedgerLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attestra_tokenization_ledger_call_duration_seconds",
			Help:    "Ledger call latency by method",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method"}),
		AuditFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attestra_tokenization_audit_failures_total",
			Help: "Token writes that failed in the audit trail",
		}),
		Reconciliation: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attestra_tokenization_reconciled_events_total",
			Help: "Ledger events applied by the reconciler by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) observeMint(outcome string) {
	if m == nil {
		return
	}
	m.Mints.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeRevoke(outcome string) {
	if m == nil {
		return
	}
	m.Revocations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeLedger(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.LedgerLatency.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) incAuditFailure() {
	if m == nil {
		return
	}
	m.AuditFailures.Inc()
}

func (m *Metrics) observeReconciled(outcome string) {
	if m == nil {
		return
	}
	m.Reconciliation.WithLabelValues(outcome).Inc()
}
