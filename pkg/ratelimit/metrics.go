package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for admission control.
var (
	ratelimitAdmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "render_ratelimit_admitted_total",
		Help: "Total number of requests admitted by the rate limiter",
	})

	ratelimitRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "render_ratelimit_rejected_total",
		Help: "Total number of requests rejected by the rate limiter",
	})

	ratelimitTrackedKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "render_ratelimit_tracked_keys",
		Help: "Number of keys with a live rate limit window",
	})
)
