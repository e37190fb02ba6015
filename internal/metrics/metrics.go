// Package metrics holds the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Invocations counts terminal pipeline outcomes by decision and error code ("" on success).
	Invocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_invocations_total",
			Help: "Total number of tool invocations by decision and error code",
		},
		[]string{"decision", "code"},
	)

	InvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_invocation_duration_seconds",
			Help:    "End-to-end invocation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend_type"},
	)

	BackendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_backend_duration_seconds",
			Help:    "Backend dispatch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend_type", "outcome"},
	)

	Redactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_redactions_total",
			Help: "Values redacted from tool output by category",
		},
		[]string{"type"},
	)

	AuditWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_audit_write_failures_total",
		Help: "Audit records that could not be persisted",
	})

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_webhook_deliveries_total",
			Help: "Webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
