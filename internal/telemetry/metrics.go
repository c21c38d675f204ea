package telemetry

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readable_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "readable_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// ReasoningRequests counts reasoning calls by outcome (ok, quota, transport, upstream, config).
	ReasoningRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readable_reasoning_requests_total",
			Help: "Reasoning service calls by outcome",
		},
		[]string{"provider", "outcome"},
	)

	ReasoningDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "readable_reasoning_duration_seconds",
			Help:    "Reasoning service call latency in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 40, 80, 160, 320},
		},
		[]string{"provider"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "readable_active_sessions",
			Help: "Number of sessions held in memory",
		},
	)
)

// Middleware records request counts and latencies using the matched route to bound cardinality.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
