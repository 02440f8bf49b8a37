// Package cache provides the two-tier page cache with a Redis backend.
//
// The cache is built from three parts:
//
// - LocalTier (L1): in-process, bounded by entry count and bytes, lazy TTL,
// least-recently-used eviction
// - RemoteTier (L2): Redis via go-redis, bounded per-call timeouts, degrades
// to "absent" on transport errors and reconnects in the background
// - Coordinator: read-through / write-through composition of both tiers
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	local := cache.NewLocalTier(cache.DefaultLocalConfig())
//	remote := cache.NewRemoteTier(redisClient, cache.DefaultRemoteConfig())
//	coord := cache.NewCoordinator(local, cache.WithRemote(remote))
//	defer coord.Close()
//
//	key := cache.NewKey(cache.KindPage, "123").String() // "page:123"
//
//	if err := coord.Set(ctx, key, body, 60*time.Second); err != nil {
//		return err
//	}
//
//	body, ok := coord.Get(ctx, key)
//
// # Invalidation
//
//	coord.Delete(ctx, "page:123")
//	coord.DeletePattern(ctx, cache.Pattern(cache.KindPrecheck)) // "precheck:*"
//	coord.Clear(ctx)
//
// # Degradation
//
// When Redis is unreachable every coordinator operation keeps working against
// the local tier. The condition is visible through Stats().RemoteAvailable and
// the Stats().RemoteUnavailable counter, never through returned errors.
//
// # Metrics
//
// The cache exports Prometheus metrics:
//
//   - render_cache_hits_total{tier} - Cache hits
//   - render_cache_misses_total{tier} - Cache misses
//   - render_cache_evictions_total - LRU evictions from the local tier
//   - render_cache_size_bytes{tier} - Resident bytes
//   - render_cache_entries - Resident local entries
//   - render_cache_errors_total{operation} - Remote operation errors
//   - render_cache_remote_available - 1 when Redis is reachable
package cache
