package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records per-method call counts and latencies. A nil-safe zero
// value discards everything, so Client works without a caller ever
// touching Prometheus.
type Metrics struct {
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewMetrics builds a Metrics recorder and registers its collectors with
// reg. Pass nil to get a recorder that observes nothing (the Client
// default).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jsonrpc2",
			Subsystem: "client",
			Name:      "calls_total",
			Help:      "JSON-RPC calls issued, by method and outcome.",
		}, []string{"method", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jsonrpc2",
			Subsystem: "client",
			Name:      "call_duration_seconds",
			Help:      "JSON-RPC call round-trip latency, by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	reg.MustRegister(m.calls, m.latency)
	return m
}

// ObserveRequest records one completed call. d is zero for notifications,
// where no round-trip latency applies.
func (m *Metrics) ObserveRequest(method, outcome string, d time.Duration) {
	if m == nil || m.calls == nil {
		return
	}
	m.calls.WithLabelValues(method, outcome).Inc()
	if d > 0 {
		m.latency.WithLabelValues(method).Observe(d.Seconds())
	}
}
