package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes.
const (
	outcomeHit           = "hit"
	outcomeMiss          = "miss"
	outcomeRateLimited   = "rate_limited"
	outcomeUnavailable   = "unavailable"
	outcomeUpstreamError = "upstream_error"
	outcomeRenderError   = "render_error"
	outcomeCanceled      = "canceled"
	outcomeInvalid       = "invalid"
)

// Prometheus metrics for the request pipeline.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "render_requests_total",
		Help: "Total page requests by outcome",
	}, []string{"outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "render_request_duration_seconds",
		Help:    "Page request duration in seconds by cache result",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"cache"})

	rendersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "render_renders_total",
		Help: "Total renderer invocations by strategy",
	}, []string{"strategy"})

	fallbackDecisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "render_fallback_decisions_total",
		Help: "Total decisions made from the item id because the precheck failed",
	})

	sharedMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "render_singleflight_shared_total",
		Help: "Total cache misses served by another request's in-flight build",
	})

	warmedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "render_warm_items_total",
		Help: "Total items processed by cache warm-up by result",
	}, []string{"result"}) // "cached", "uncacheable", "error"
)
