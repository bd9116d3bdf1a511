// Package metrics provides Prometheus metrics for the deception plane
// (analysis throughput, decoy lifecycle, event fan-out). Scrapeable on
// /metrics of every process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "deception"

var (
	// HTTPRequestTotal counts requests by method, path, status.
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDurationSeconds is request latency histogram.
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~9.3s
		},
		[]string{"method", "path"},
	)

	// RequestsAnalyzedTotal counts analyzer verdicts by outcome.
	RequestsAnalyzedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_analyzed_total",
			Help:      "Total requests analyzed, by verdict (attack/clean).",
		},
		[]string{"verdict"},
	)

	// AttacksDetectedTotal counts detected attacks by type.
	AttacksDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attacks_detected_total",
			Help:      "Total attacks detected above the confidence threshold, by attack type.",
		},
		[]string{"attack_type"},
	)

	// DecoySetsTotal counts decoy set lifecycle transitions.
	DecoySetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decoy_sets_total",
			Help:      "Decoy set lifecycle events (spawned, evicted, expired, duplicate_skipped).",
		},
		[]string{"outcome"},
	)

	// BusPublishFailuresTotal counts dropped bus publishes by channel.
	BusPublishFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_publish_failures_total",
			Help:      "Event bus publishes dropped after a Redis error, by channel.",
		},
		[]string{"channel"},
	)

	// EventsDispatchedTotal counts events fanned out to WebSocket clients.
	EventsDispatchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Total events dispatched through the collector fan-out.",
		},
	)

	// WebSocketConnectionsActive is current number of WebSocket clients.
	WebSocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections_active",
			Help:      "Number of active WebSocket connections.",
		},
	)

	// GraphSnapshotDurationSeconds is topology snapshot build latency.
	GraphSnapshotDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graph_snapshot_duration_seconds",
			Help:      "Topology snapshot build duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
	)
)
