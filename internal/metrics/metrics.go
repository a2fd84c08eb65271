// Package metrics declares the Prometheus collectors exported by the service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pdfforge"

var (
	// HTTPRequestDuration tracks API latency by method, route and status.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration observed at the API layer.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"method", "route", "status"})

	// HTTPRequestsTotal counts API requests by method, route and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled by the API.",
	}, []string{"method", "route", "status"})

	// RateLimitRejections counts requests denied by the per-minute limiter.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "admission",
		Name:      "rate_limit_rejections_total",
		Help:      "Requests rejected by the per-minute rate limiter, by plan tier.",
	}, []string{"tier"})

	// QuotaRejections counts requests denied by the monthly quota.
	QuotaRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "admission",
		Name:      "quota_rejections_total",
		Help:      "Requests rejected by the monthly quota, by plan tier.",
	}, []string{"tier"})

	// RenderOutcomes counts render units by result.
	RenderOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "render",
		Name:      "units_total",
		Help:      "Render units attempted, by result (success/failure).",
	}, []string{"result"})

	// RenderDuration tracks per-unit render latency.
	RenderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "render",
		Name:      "duration_seconds",
		Help:      "Render unit duration in seconds, including source resolution.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"result"})

	// BatchSize tracks the number of items per accepted batch.
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "items",
		Help:      "Number of items per accepted batch.",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
	})

	// WebhookDeliveries counts webhook delivery attempts by event and result.
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Webhook deliveries by event type and result (success/failure/dropped).",
	}, []string{"event", "result"})

	// RecorderFailures counts usage and audit writes that failed.
	RecorderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recorder",
		Name:      "write_failures_total",
		Help:      "Usage and request-log writes that failed, by record kind.",
	}, []string{"kind"})
)

// RecordHTTPRequest observes one completed API request.
func RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	HTTPRequestDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
	HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
}

// RecordRender observes one render unit.
func RecordRender(success bool, elapsed time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	RenderOutcomes.WithLabelValues(result).Inc()
	RenderDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}
