package oracle

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess     = "success"
	outcomeFailure     = "failure"
	outcomeExhausted   = "exhausted"
	outcomeCircuitOpen = "circuit_open"
)

// Metrics holds Prometheus collectors for oracle traffic and subscriptions.
type Metrics struct {
	Attempts         *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	EventsDelivered  prometheus.Counter
	EventsDuplicate  prometheus.Counter
	CallbackFailures prometheus.Counter
	Subscriptions    prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		Attempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attestra_oracle_attempts_total",
			Help: "Oracle request attempts by outcome",
		}, []string{"outcome"}),
		FetchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attestra_oracle_fetch_duration_seconds",
			Help:    "Duration of oracle fetches including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		EventsDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attestra_oracle_events_delivered_total",
			Help: "Ledger events handed to subscriber callbacks",
		}),
		EventsDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attestra_oracle_events_duplicate_total",
			Help: "Ledger events suppressed because they were already delivered",
		}),
		CallbackFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attestra_oracle_callback_failures_total",
			Help: "Subscriber callbacks that returned an error or panicked",
		}),
		Subscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "attestra_oracle_subscriptions",
			Help: "Active ledger event subscriptions",
		}),
	}
}

func (m *Metrics) observeAttempt(outcome string) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeFetch(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) incDelivered() {
	if m == nil {
		return
	}
	m.EventsDelivered.Inc()
}

func (m *Metrics) incDuplicate() {
	if m == nil {
		return
	}
	m.EventsDuplicate.Inc()
}

func (m *Metrics) incCallbackFailure() {
	if m == nil {
		return
	}
	m.CallbackFailures.Inc()
}

func (m *Metrics) addSubscriptions(delta float64) {
	if m == nil {
		return
	}
	m.Subscriptions.Add(delta)
}
