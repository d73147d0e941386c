package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit stream.
type Metrics struct {
	Published      prometheus.Counter
	Dropped        prometheus.Counter
	PublishFailure prometheus.Counter
	Pending        prometheus.Gauge
}

// NewMetrics creates and registers the audit stream metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Published: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attestra_audit_stream_published_total",
			Help: "Total number of audit entries published to the stream",
		}),
		Dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attestra_audit_stream_dropped_total",
			Help: "Total number of audit entries dropped because the stream buffer was full",
		}),
		PublishFailure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attestra_audit_stream_publish_failures_total",
			Help: "Total number of failed stream publish batches",
		}),
		Pending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "attestra_audit_stream_pending",
			Help: "Audit entries waiting to be published",
		}),
	}
}

func (m *Metrics) addPublished(n int) {
	if m == nil {
		return
	}
	m.Published.Add(float64(n))
}

func (m *Metrics) incDropped() {
	if m == nil {
		return
	}
	m.Dropped.Inc()
}

func (m *Metrics) incPublishFailure() {
	if m == nil {
		return
	}
	m.PublishFailure.Inc()
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.Pending.Set(float64(n))
}
