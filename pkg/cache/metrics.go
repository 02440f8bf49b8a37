package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tier labels.
const (
	tierLocal  = "local"
	tierRemote = "remote"
)

var (
	// CacheHits tracks cache hits by tier (local, remote)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "render_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"tier"},
	)

	// CacheMisses tracks cache misses by tier
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "render_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"tier"},
	)

	// CacheEvictions tracks LRU evictions from the local tier
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "render_cache_evictions_total",
			Help: "Total number of capacity evictions from the local cache tier",
		},
	)

	// CacheSize tracks resident bytes by tier
	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "render_cache_size_bytes",
			Help: "Current size of the cache in bytes",
		},
		[]string{"tier"},
	)

	// CacheEntries tracks resident entries in the local tier
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "render_cache_entries",
			Help: "Current number of entries in the local cache tier",
		},
	)

	// CacheErrors tracks remote tier operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "render_cache_errors_total",
			Help: "Total number of remote cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "scan", "clear"
	)

	// RemoteAvailable is 1 while the remote tier is reachable
	RemoteAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "render_cache_remote_available",
			Help: "Whether the remote cache tier is reachable (1) or degraded (0)",
		},
	)
)
