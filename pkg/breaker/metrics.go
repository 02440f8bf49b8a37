package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for circuit breakers.
var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "render_breaker_state",
		Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	breakerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "render_breaker_requests_total",
		Help: "Total breaker-protected calls by outcome",
	}, []string{"name", "result"}) // "success", "failure", "ignored", "rejected"

	breakerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "render_breaker_transitions_total",
		Help: "Total circuit breaker state transitions",
	}, []string{"name", "from", "to"})
)
