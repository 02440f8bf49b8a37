package upstream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for upstream calls.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "render_upstream_requests_total",
		Help: "Total upstream requests by operation and status",
	}, []string{"op", "status"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "render_upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds by operation",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"op"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "render_upstream_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})
)
