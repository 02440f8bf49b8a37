package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// RemoteStore is the contract the Coordinator needs from a second tier.
// RemoteTier is the production implementation.
type RemoteStore interface {
	Get(ctx context.Context, key string) (Entry, bool)
	Set(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
	Clear(ctx context.Context) error
	IsAvailable() bool
	Stats() TierSnapshot
	ResetStats()
	Close()
}

// Stats is the coordinator-wide view returned to operators.
type Stats struct {
	Local             TierSnapshot  `json:"local"`
	Remote            *TierSnapshot `json:"remote,omitempty"`
	Hits              uint64        `json:"hits"`
	Misses            uint64        `json:"misses"`
	HitRate           float64       `json:"hit_rate"`
	LocalEntries      int           `json:"local_entries"`
	LocalBytes        int64         `json:"local_bytes"`
	RemoteConfigured  bool          `json:"remote_configured"`
	RemoteAvailable   bool          `json:"remote_available"`
	RemoteUnavailable uint64        `json:"remote_unavailable"`
}

// Coordinator composes the local and remote tiers into a read-through,
// write-through cache. It is the only owner of both tiers.
//
// The local tier is a cache of the remote tier: backfilled entries keep the
// remote entry's expiry so L1 never serves a value longer than L2 would.
// Remote failures are logged and absorbed; the coordinator then behaves as
// a local-only cache.
type Coordinator struct {
	local  *LocalTier
	remote RemoteStore
	logger zerolog.Logger
	now    func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithRemote attaches a remote tier. Without it the coordinator is local-only.
func WithRemote(remote RemoteStore) CoordinatorOption {
	return func(c *Coordinator) {
		c.remote = remote
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(logger zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithClock overrides the clock (tests).
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.now = now
	}
}

// NewCoordinator creates a coordinator over local and the optional remote tier.
func NewCoordinator(local *LocalTier, opts ...CoordinatorOption) *Coordinator {
	if local == nil {
		panic("local tier cannot be nil")
	}

	c := &Coordinator{
		local:  local,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key.
func (c *Coordinator) Get(ctx context.Context, key string) ([]byte, bool) {
	entry, ok := c.GetEntry(ctx, key)
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// GetEntry checks the local tier, then the remote tier. A remote hit is
// backfilled into the local tier with its original expiry.
func (c *Coordinator) GetEntry(ctx context.Context, key string) (Entry, bool) {
	if entry, ok := c.local.GetEntry(key); ok {
		c.hits.Inc()
		c.logger.Debug().Str("key", key).Str("tier", tierLocal).Msg("Cache hit")
		return entry, true
	}

	if c.remote == nil {
		c.misses.Inc()
		return Entry{}, false
	}

	entry, ok := c.remote.Get(ctx, key)
	if !ok || entry.IsExpired(c.now()) {
		c.misses.Inc()
		c.logger.Debug().Str("key", key).Msg("Cache miss")
		return Entry{}, false
	}

	if err := c.local.SetEntry(entry); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to backfill local tier")
	}

	c.hits.Inc()
	c.logger.Debug().Str("key", key).Str("tier", tierRemote).Msg("Cache hit")
	return entry, true
}

// Set writes value to both tiers. Only validation errors are returned; a
// remote failure never fails the write. An entry the local tier cannot hold
// is written to the remote tier alone and ErrEntryTooLarge is returned only
// when there is no remote tier.
func (c *Coordinator) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	entry := NewEntry(key, value, ttl, c.now())
	if err := c.local.SetEntry(entry); err != nil {
		// The previous local value would shadow the new one.
		c.local.Delete(key)
		if c.remote == nil {
			return err
		}
		c.logger.Warn().Err(err).Str("key", key).Int64("size", entry.SizeBytes).Msg("Local tier rejected entry - writing remote tier only")
	}

	if c.remote != nil {
		if err := c.remote.Set(ctx, entry); err != nil {
			c.logRemoteError(err, "set", key)
		}
	}

	c.logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("Cached value")
	return nil
}

// Delete removes key from both tiers.
func (c *Coordinator) Delete(ctx context.Context, key string) {
	c.local.Delete(key)

	if c.remote != nil {
		if err := c.remote.Delete(ctx, key); err != nil {
			c.logRemoteError(err, "delete", key)
		}
	}
}

// DeletePattern removes every key matching the glob pattern (e.g. "precheck:*")
// from both tiers and returns the number of local entries removed plus the
// number of remote keys deleted.
func (c *Coordinator) DeletePattern(ctx context.Context, pattern string) (int, error) {
	removed, err := c.local.DeletePattern(pattern)
	if err != nil {
		return 0, err
	}

	if c.remote != nil {
		n, err := c.remote.DeletePattern(ctx, pattern)
		if err != nil {
			c.logRemoteError(err, "delete_pattern", pattern)
		}
		removed += n
	}

	c.logger.Info().Str("pattern", pattern).Int("removed", removed).Msg("Invalidated cache pattern")
	return removed, nil
}

// Clear empties both tiers.
func (c *Coordinator) Clear(ctx context.Context) {
	c.local.Clear()

	if c.remote != nil {
		if err := c.remote.Clear(ctx); err != nil {
			c.logRemoteError(err, "clear", "*")
		}
	}

	c.logger.Info().Msg("Cleared cache")
}

// Stats returns per-tier and combined counters.
func (c *Coordinator) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	stats := Stats{
		Local:        c.local.Stats(),
		Hits:         hits,
		Misses:       misses,
		HitRate:      hitRate(hits, misses),
		LocalEntries: c.local.Size(),
		LocalBytes:   c.local.Bytes(),
	}

	if c.remote != nil {
		remote := c.remote.Stats()
		stats.Remote = &remote
		stats.RemoteConfigured = true
		stats.RemoteAvailable = c.remote.IsAvailable()
		stats.RemoteUnavailable = remote.Unavailable
	}

	return stats
}

// ResetStats zeroes every counter. Operator action only.
func (c *Coordinator) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.local.ResetStats()
	if c.remote != nil {
		c.remote.ResetStats()
	}
}

// RemoteAvailable reports whether the remote tier is configured and reachable.
func (c *Coordinator) RemoteAvailable() bool {
	return c.remote != nil && c.remote.IsAvailable()
}

// Close stops background work in both tiers.
func (c *Coordinator) Close() {
	c.local.Close()
	if c.remote != nil {
		c.remote.Close()
	}
}

func (c *Coordinator) logRemoteError(err error, op, key string) {
	if errors.Is(err, ErrRemoteUnavailable) {
		c.logger.Debug().Str("operation", op).Str("key", key).Msg("Remote cache degraded - local tier only")
		return
	}
	c.logger.Warn().Err(err).Str("operation", op).Str("key", key).Msg("Remote cache error")
}
