package client

import (
	"errors"
	"time"

	"github.com/jmerrifield20/tunnelagent/pkg/messages"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	agentAPIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentapi_requests_total",
		Help: "Total agent API calls by operation and outcome.",
	}, []string{"operation", "outcome"})

	agentAPIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentapi_request_duration_seconds",
		Help:    "Agent API call duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

// outcome labels a call result: "ok", "not_claimed" for a claim exchange
// the owner has not accepted yet, or the Kind of the error.
func outcome(op messages.RequestType, err error) string {
	if err == nil {
		return "ok"
	}
	if op == messages.RequestExchangeClaimForSecret && IsNotFound(err) {
		return "not_claimed"
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind.String()
	}
	return "unknown"
}

func observeCall(op messages.RequestType, err error, elapsed time.Duration) {
	agentAPIRequestsTotal.WithLabelValues(string(op), outcome(op, err)).Inc()
	agentAPIRequestDuration.WithLabelValues(string(op)).Observe(elapsed.Seconds())
}
