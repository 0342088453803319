// Package telemetry provides observability primitives for the conversational
// layer.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	TurnsTotal       *prometheus.CounterVec
	DenialsTotal     *prometheus.CounterVec
	DroppedMessages  prometheus.Counter
	ShrunkMessages   prometheus.Counter
	TokensProcessed  *prometheus.CounterVec
	UpstreamDuration prometheus.Histogram
	UsageQueueLength prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "palantir",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "palantir",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "palantir",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "palantir",
			Name:      "turns_total",
			Help:      "Total conversation turns by outcome.",
		}, []string{"outcome"}), // ok | denied | error

		DenialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "palantir",
			Name:      "quota_denials_total",
			Help:      "Total quota denials by reason.",
		}, []string{"reason"}),

		DroppedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "palantir",
			Name:      "truncation_dropped_messages_total",
			Help:      "Total messages evicted by context-window truncation.",
		}),

		ShrunkMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "palantir",
			Name:      "truncation_shrunk_messages_total",
			Help:      "Total single messages shrunk to fit the context window.",
		}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "palantir",
			Name:      "tokens_processed_total",
			Help:      "Total tokens recorded against the quota ledger.",
		}, []string{"type"}), // prompt | completion

		UpstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:                       "palantir",
			Name:                            "upstream_duration_seconds",
			Help:                            "Completion service call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}),

		UsageQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "palantir",
			Name:      "usage_queue_length",
			Help:      "Current number of queued turn events.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration, m.ActiveRequests,
		m.TurnsTotal, m.DenialsTotal,
		m.DroppedMessages, m.ShrunkMessages, m.TokensProcessed,
		m.UpstreamDuration, m.UsageQueueLength,
	)
	return m
}
