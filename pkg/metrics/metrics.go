// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// EventsApplied tracks events applied to session state.
	EventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_events_applied_total",
			Help: "Events applied to derived session state",
		},
		[]string{"event_type"},
	)

	// EventsDropped tracks malformed or duplicate events discarded by the reducer.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_events_dropped_total",
			Help: "Events dropped by the reducer",
		},
		[]string{"reason"},
	)

	// ArtifactsDetected tracks artifacts extracted from tool results.
	ArtifactsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_artifacts_detected_total",
			Help: "Artifacts detected in tool results",
		},
		[]string{"type"},
	)

	// SessionsActive tracks sessions currently held by the store.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_sessions_active",
			Help: "Sessions with derived state in memory",
		},
	)

	// ChannelReconnects tracks live channel reconnect attempts.
	ChannelReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "channel_reconnects_total",
			Help: "Live channel reconnect attempts",
		},
	)

	// ChannelFailures tracks live channels that exhausted their retries.
	ChannelFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "channel_failures_total",
			Help: "Live channels that reached the terminal error state",
		},
	)

	// ContextCompressions tracks context window compression runs.
	ContextCompressions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "context_compressions_total",
			Help: "Context window compression runs",
		},
	)

	// ContextTokensSelected tracks tokens surviving context selection.
	ContextTokensSelected = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "context_tokens_selected",
			Help:    "Token count of message lists after selection",
			Buckets: prometheus.ExponentialBuckets(128, 2, 12),
		},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
