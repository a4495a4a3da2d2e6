package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEvents counts processed webhook events by type and result.
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "Webhook events processed, by event type and result.",
		},
		[]string{"type", "result"},
	)

	// Deliveries counts quota checks by outcome.
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_deliveries_total",
			Help: "Delivery quota checks, by outcome.",
		},
		[]string{"outcome"},
	)

	// Remediations counts auto-remediation attempts by kind and result.
	Remediations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_remediations_total",
			Help: "Auto-remediation attempts, by kind and result.",
		},
		[]string{"kind", "result"},
	)

	// RequestDuration measures HTTP request latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "code"},
	)
)

// Middleware records request duration per route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		RequestDuration.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
