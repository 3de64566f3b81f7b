// Package observability provides the optional Prometheus instrumentation
// for the bridge. None of it is required to satisfy a request: every
// metric here is additive, ambient instrumentation, exposed at /metrics
// only when configured.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LatencyBuckets covers upstream LLM round-trip latencies from 100ms to
// 120s.
var LatencyBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts dispatcher requests by endpoint, mode, and
	// outcome.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codex_chat_bridge_requests_total",
			Help: "Total requests handled by the bridge",
		},
		[]string{"endpoint", "mode", "status"},
	)

	// UpstreamLatency records the upstream call's latency in seconds.
	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codex_chat_bridge_upstream_latency_seconds",
			Help:    "Upstream request latency",
			Buckets: LatencyBuckets,
		},
		[]string{"upstream_wire"},
	)

	// StreamingConnections tracks active SSE connections the bridge is
	// currently translating.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "codex_chat_bridge_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal, UpstreamLatency, StreamingConnections)
}
