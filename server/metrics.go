package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records per-method request counts and latencies. A nil-safe
// zero value discards everything, so Server works without a caller ever
// touching Prometheus.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetrics builds a Metrics recorder and registers its collectors with
// reg. Pass nil to get a recorder that observes nothing (the Server
// default).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jsonrpc2",
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "JSON-RPC requests handled, by method and outcome.",
		}, []string{"method", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jsonrpc2",
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "JSON-RPC request handling latency, by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	reg.MustRegister(m.requests, m.latency)
	return m
}

// ObserveRequest records one completed call. d is zero for notifications,
// where no round-trip latency applies.
func (m *Metrics) ObserveRequest(method, outcome string, d time.Duration) {
	if m == nil || m.requests == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	if d > 0 {
		m.latency.WithLabelValues(method).Observe(d.Seconds())
	}
}
