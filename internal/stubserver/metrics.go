package stubserver

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/tunnelagent/pkg/messages"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	stubRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentapi_stub_requests_total",
		Help: "Total agent API requests handled by the stub, by request type and answer code.",
	}, []string{"type", "code"})

	stubHTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentapi_stub_http_request_duration_seconds",
		Help:    "Stub HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		stubHTTPRequestDuration.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func recordRequest(op messages.RequestType, code int) {
	label := string(op)
	if label == "" {
		label = "invalid"
	}
	stubRequestsTotal.WithLabelValues(label, strconv.Itoa(code)).Inc()
}
