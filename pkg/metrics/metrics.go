// Package metrics provides the Prometheus registry and /metrics handler for
// render-gate. Metrics are defined in their respective packages (cache,
// breaker, ratelimit, pipeline, upstream) with promauto to keep packages
// independent.
//
// This package provides the exposition handler and a reference for all
// available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registerer used by render-gate.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the Prometheus gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics exposition handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - render_cache_hits_total{tier} (Counter): Cache hits by tier (local, remote)
//   - render_cache_misses_total{tier} (Counter): Cache misses by tier
//   - render_cache_evictions_total (Counter): Capacity evictions from the local tier
//   - render_cache_size_bytes{tier} (Gauge): Resident bytes by tier
//   - render_cache_entries (Gauge): Resident entries in the local tier
//   - render_cache_errors_total{operation} (Counter): Remote tier operation errors
//   - render_cache_remote_available (Gauge): 1 while the remote tier is reachable
//
// Breaker Metrics (pkg/breaker):
//   - render_breaker_state{name} (Gauge): 0=closed, 1=open, 2=half-open
//   - render_breaker_requests_total{name, result} (Counter): success, failure, rejected
//   - render_breaker_transitions_total{name, from, to} (Counter): State transitions
//
// Rate Limit Metrics (pkg/ratelimit):
//   - render_ratelimit_admitted_total (Counter): Admitted requests
//   - render_ratelimit_rejected_total (Counter): Rejected requests
//   - render_ratelimit_tracked_keys (Gauge): Keys with a live window
//
// Pipeline Metrics (pkg/pipeline):
//   - render_requests_total{outcome} (Counter): hit, miss, rate_limited, unavailable,
//     upstream_error, render_error, canceled, invalid
//   - render_request_duration_seconds{cache} (Histogram): Served request duration
//   - render_renders_total{strategy} (Counter): Renderer invocations by strategy
//   - render_fallback_decisions_total (Counter): Decisions made from the item id
//   - render_singleflight_shared_total (Counter): Misses served by another build
//   - render_warm_items_total{result} (Counter): Warm-up results
//
// Upstream Metrics (pkg/upstream):
//   - render_upstream_requests_total{op, status} (Counter): Requests by operation and status
//   - render_upstream_request_duration_seconds{op} (Histogram): Request duration
//   - render_upstream_errors_total{class} (Counter): Errors by class
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(render_cache_hits_total[5m])) /
//   (sum(rate(render_cache_hits_total[5m])) + sum(rate(render_cache_misses_total{tier="remote"}[5m])))
//
//   # Open Breakers
//   render_breaker_state == 1
//
//   # Rejection Rate
//   rate(render_ratelimit_rejected_total[5m])
//
//   # P95 Miss Latency
//   histogram_quantile(0.95, rate(render_request_duration_seconds_bucket{cache="miss"}[5m]))
