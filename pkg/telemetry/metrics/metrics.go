package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace is the metric namespace when none is configured.
const DefaultNamespace = "tokentracker"

// Relay mode label values.
const (
	ModeStreaming = "streaming"
	ModeBuffered  = "buffered"
)

// ProxyMetrics tracks the relay's request, token, and failure metrics.
type ProxyMetrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	tokensTotal       *prometheus.CounterVec
	clientDisconnects prometheus.Counter
	appendFailures    prometheus.Counter
}

// New creates and registers the relay metrics. A nil registry creates a
// fresh one.
func New(namespace string, registry *prometheus.Registry) *ProxyMetrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	pm := &ProxyMetrics{
		registry: registry,

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of proxied requests",
			},
			[]string{"model", "mode", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Duration of proxied requests in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~27m
			},
			[]string{"mode"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Total tokens metered from upstream responses",
			},
			[]string{"model", "type"},
		),

		clientDisconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "client_disconnects_total",
				Help:      "Streams aborted by a client disconnect",
			},
		),

		appendFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_append_failures_total",
				Help:      "Usage records that could not be persisted",
			},
		),
	}

	registry.MustRegister(
		pm.requestsTotal,
		pm.requestDuration,
		pm.tokensTotal,
		pm.clientDisconnects,
		pm.appendFailures,
	)

	return pm
}

// RecordRequest records one completed request.
func (pm *ProxyMetrics) RecordRequest(model, mode, status string, duration time.Duration) {
	pm.requestsTotal.WithLabelValues(model, mode, status).Inc()
	pm.requestDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordTokens records the token counters metered from one response.
func (pm *ProxyMetrics) RecordTokens(model string, input, output, cacheCreation, cacheRead int) {
	if input > 0 {
		pm.tokensTotal.WithLabelValues(model, "input").Add(float64(input))
	}
	if output > 0 {
		pm.tokensTotal.WithLabelValues(model, "output").Add(float64(output))
	}
	if cacheCreation > 0 {
		pm.tokensTotal.WithLabelValues(model, "cache_creation").Add(float64(cacheCreation))
	}
	if cacheRead > 0 {
		pm.tokensTotal.WithLabelValues(model, "cache_read").Add(float64(cacheRead))
	}
}

// RecordClientDisconnect counts a stream aborted by the client.
func (pm *ProxyMetrics) RecordClientDisconnect() {
	pm.clientDisconnects.Inc()
}

// RecordAppendFailure counts a usage record that failed to persist.
func (pm *ProxyMetrics) RecordAppendFailure() {
	pm.appendFailures.Inc()
}
