package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// ErrRemoteUnavailable indicates the remote tier is marked down and the
// operation was skipped. It never leaves the Coordinator.
var ErrRemoteUnavailable = errors.New("cache: remote tier unavailable")

// RemoteConfig configures the Redis-backed tier.
type RemoteConfig struct {
	// KeyPrefix namespaces every key written to Redis.
	// Default: "rg:"
	KeyPrefix string

	// OpTimeout bounds every Redis call.
	// Default: 200ms
	OpTimeout time.Duration

	// ScanCount is the COUNT hint for SCAN during pattern deletes.
	// Default: 100
	ScanCount int64

	// ReconnectInitialInterval is the first reconnect delay.
	// Default: 100ms
	ReconnectInitialInterval time.Duration

	// ReconnectMaxInterval caps the exponential reconnect delay.
	// Default: 10s
	ReconnectMaxInterval time.Duration

	// Observer receives availability changes.
	Observer Observer

	// Logger for degraded-mode warnings.
	Logger zerolog.Logger

	// Now overrides the clock (tests).
	Now func() time.Time
}

// DefaultRemoteConfig returns the default remote tier configuration.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		KeyPrefix:                "rg:",
		OpTimeout:                200 * time.Millisecond,
		ScanCount:                100,
		ReconnectInitialInterval: 100 * time.Millisecond,
		ReconnectMaxInterval:     10 * time.Second,
		Logger:                   zerolog.Nop(),
	}
}

// RemoteTier wraps Redis as the shared second cache tier.
//
// Transport errors never reach the caller as failures of Get: the tier marks
// itself unavailable, reports absent, and a single background loop pings Redis
// with capped exponential backoff until it answers again. While unavailable,
// calls return immediately without touching the network.
type RemoteTier struct {
	redis  redis.UniversalClient
	config RemoteConfig

	available    atomic.Bool
	reconnecting atomic.Bool

	stats TierStats

	// mu orders wg.Add in startReconnect against Close.
	mu     sync.Mutex
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewRemoteTier creates a remote tier. The tier starts optimistic (available).
func NewRemoteTier(redisClient redis.UniversalClient, config RemoteConfig) *RemoteTier {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}

	defaults := DefaultRemoteConfig()
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if config.OpTimeout <= 0 {
		config.OpTimeout = defaults.OpTimeout
	}
	if config.ScanCount <= 0 {
		config.ScanCount = defaults.ScanCount
	}
	if config.ReconnectInitialInterval <= 0 {
		config.ReconnectInitialInterval = defaults.ReconnectInitialInterval
	}
	if config.ReconnectMaxInterval <= 0 {
		config.ReconnectMaxInterval = defaults.ReconnectMaxInterval
	}
	if config.Observer == nil {
		config.Observer = nopObserver{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	r := &RemoteTier{
		redis:  redisClient,
		config: config,
		stop:   make(chan struct{}),
	}
	r.available.Store(true)
	RemoteAvailable.Set(1)
	return r
}

// IsAvailable reports the last known connectivity state.
func (r *RemoteTier) IsAvailable() bool {
	return r.available.Load()
}

// Get retrieves an entry. Any failure is reported as absent.
func (r *RemoteTier) Get(ctx context.Context, key string) (Entry, bool) {
	if !r.IsAvailable() {
		r.stats.unavailable.Inc()
		r.recordMiss()
		return Entry{}, false
	}

	ctx, cancel := r.opContext(ctx)
	defer cancel()

	data, err := r.redis.Get(ctx, r.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.recordMiss()
			return Entry{}, false
		}
		r.fail("get", err)
		r.recordMiss()
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		r.stats.errors.Inc()
		CacheErrors.WithLabelValues("get").Inc()
		r.config.Logger.Warn().Err(err).Str("key", key).Msg("Dropping corrupted remote cache entry")
		_ = r.Delete(ctx, key)
		r.recordMiss()
		return Entry{}, false
	}

	if entry.IsExpired(r.config.Now()) {
		r.stats.expirations.Inc()
		r.recordMiss()
		return Entry{}, false
	}

	r.stats.hits.Inc()
	CacheHits.WithLabelValues(tierRemote).Inc()
	return entry, true
}

// Set stores an entry with a Redis TTL equal to its remaining lifetime.
func (r *RemoteTier) Set(ctx context.Context, entry Entry) error {
	if !r.IsAvailable() {
		r.stats.unavailable.Inc()
		return ErrRemoteUnavailable
	}

	ttl := entry.TTL(r.config.Now())
	if ttl <= 0 {
		// Already expired, don't cache
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	ctx, cancel := r.opContext(ctx)
	defer cancel()

	if err := r.redis.Set(ctx, r.redisKey(entry.Key), data, ttl).Err(); err != nil {
		r.fail("set", err)
		return fmt.Errorf("redis set: %w", err)
	}

	r.stats.sets.Inc()
	return nil
}

// Delete removes key.
func (r *RemoteTier) Delete(ctx context.Context, key string) error {
	if !r.IsAvailable() {
		r.stats.unavailable.Inc()
		return ErrRemoteUnavailable
	}

	ctx, cancel := r.opContext(ctx)
	defer cancel()

	if err := r.redis.Del(ctx, r.redisKey(key)).Err(); err != nil {
		r.fail("delete", err)
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeletePattern removes every key matching the glob using SCAN MATCH.
func (r *RemoteTier) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if err := ValidatePattern(pattern); err != nil {
		return 0, err
	}
	return r.deleteMatching(ctx, r.config.KeyPrefix+pattern, "scan")
}

// Clear removes every key under KeyPrefix. Keys of other tenants sharing the
// Redis database are left alone.
func (r *RemoteTier) Clear(ctx context.Context) error {
	_, err := r.deleteMatching(ctx, r.config.KeyPrefix+"*", "clear")
	return err
}

// Keys returns every key under KeyPrefix with the prefix stripped.
func (r *RemoteTier) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := r.scan(ctx, r.config.KeyPrefix+"*", "scan", func(batch []string) error {
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, r.config.KeyPrefix))
		}
		return nil
	})
	return keys, err
}

// Stats returns a snapshot of the tier counters.
func (r *RemoteTier) Stats() TierSnapshot {
	return r.stats.Snapshot()
}

// ResetStats zeroes the tier counters.
func (r *RemoteTier) ResetStats() {
	r.stats.Reset()
}

// Close stops the reconnect loop. The Redis client is owned by the caller.
func (r *RemoteTier) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.stop)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *RemoteTier) deleteMatching(ctx context.Context, match, op string) (int, error) {
	deleted := 0
	err := r.scan(ctx, match, op, func(batch []string) error {
		if len(batch) == 0 {
			return nil
		}
		delCtx, cancel := r.opContext(ctx)
		defer cancel()

		n, err := r.redis.Del(delCtx, batch...).Result()
		if err != nil {
			r.fail(op, err)
			return fmt.Errorf("redis del: %w", err)
		}
		deleted += int(n)
		return nil
	})
	return deleted, err
}

// scan walks the keyspace one SCAN page at a time; each page gets its own timeout.
func (r *RemoteTier) scan(ctx context.Context, match, op string, fn func([]string) error) error {
	if !r.IsAvailable() {
		r.stats.unavailable.Inc()
		return ErrRemoteUnavailable
	}

	var cursor uint64
	for {
		scanCtx, cancel := r.opContext(ctx)
		keys, next, err := r.redis.Scan(scanCtx, cursor, match, r.config.ScanCount).Result()
		cancel()
		if err != nil {
			r.fail(op, err)
			return fmt.Errorf("redis scan: %w", err)
		}

		if err := fn(keys); err != nil {
			return err
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// opContext detaches from caller cancellation so shared state stays
// consistent, and bounds the call with OpTimeout.
func (r *RemoteTier) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.config.OpTimeout)
}

func (r *RemoteTier) redisKey(key string) string {
	return r.config.KeyPrefix + key
}

func (r *RemoteTier) recordMiss() {
	r.stats.misses.Inc()
	CacheMisses.WithLabelValues(tierRemote).Inc()
}

// fail records a transport error and marks the tier down.
func (r *RemoteTier) fail(op string, err error) {
	r.stats.errors.Inc()
	r.stats.unavailable.Inc()
	CacheErrors.WithLabelValues(op).Inc()

	if r.available.CompareAndSwap(true, false) {
		RemoteAvailable.Set(0)
		r.config.Logger.Warn().Err(err).Str("operation", op).Msg("Remote cache error - marking tier unavailable")
		r.config.Observer.OnRemoteAvailability(false, err)
	}
	r.startReconnect()
}

func (r *RemoteTier) startReconnect() {
	if !r.reconnecting.CompareAndSwap(false, true) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.reconnecting.Store(false)
		return
	}

	r.wg.Add(1)
	go r.reconnect()
}

func (r *RemoteTier) reconnect() {
	defer r.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.config.ReconnectInitialInterval
	b.MaxInterval = r.config.ReconnectMaxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-r.stop:
			timer.Stop()
			r.reconnecting.Store(false)
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.config.OpTimeout)
		err := r.redis.Ping(ctx).Err()
		cancel()

		if err == nil {
			// Clear the flag first so a failure right after recovery can
			// start a fresh loop.
			r.reconnecting.Store(false)
			r.available.Store(true)
			RemoteAvailable.Set(1)
			r.config.Logger.Info().Int("attempts", attempt).Msg("Remote cache reconnected")
			r.config.Observer.OnRemoteAvailability(true, nil)
			return
		}

		r.config.Logger.Debug().Err(err).Int("attempt", attempt).Msg("Remote cache reconnect failed")
	}
}
