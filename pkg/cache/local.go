package cache

import (
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

var (
	// ErrInvalidTTL indicates a non-positive TTL.
	ErrInvalidTTL = errors.New("cache: ttl must be positive")

	// ErrEntryTooLarge indicates an entry that can never fit the byte bound.
	ErrEntryTooLarge = errors.New("cache: entry exceeds max bytes")
)

// LocalConfig configures the in-process tier.
type LocalConfig struct {
	// MaxEntries bounds the number of resident entries.
	// Default: 10000
	MaxEntries int

	// MaxBytes bounds the cumulative SizeBytes of resident entries.
	// Default: 64 MiB
	MaxBytes int64

	// SweepInterval enables a background purge of expired entries.
	// Zero disables the janitor; expiry is then purely lazy.
	SweepInterval time.Duration

	// Observer receives eviction events.
	Observer Observer

	// Now overrides the clock (tests).
	Now func() time.Time
}

// DefaultLocalConfig returns the default local tier configuration.
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{
		MaxEntries:    10000,
		MaxBytes:      64 << 20,
		SweepInterval: time.Minute,
	}
}

// LocalTier is a bounded in-process cache with lazy TTL expiry and LRU eviction.
//
// Recency is tracked by a strict list, so two entries never share an access
// position: among entries not read since insertion the first inserted is
// evicted first. Get refreshes recency, Has and Keys do not.
type LocalTier struct {
	config LocalConfig

	mu    sync.Mutex
	lru   *simplelru.LRU[string, Entry]
	bytes int64

	stats TierStats
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewLocalTier creates a local tier. A janitor goroutine is started when
// SweepInterval is positive; call Close to stop it.
func NewLocalTier(config LocalConfig) *LocalTier {
	defaults := DefaultLocalConfig()
	if config.MaxEntries <= 0 {
		config.MaxEntries = defaults.MaxEntries
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = defaults.MaxBytes
	}
	if config.Observer == nil {
		config.Observer = nopObserver{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	// simplelru only errors on a non-positive size, which is excluded above.
	lru, _ := simplelru.NewLRU[string, Entry](config.MaxEntries, nil)

	t := &LocalTier{
		config: config,
		lru:    lru,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if config.SweepInterval > 0 {
		go t.janitor(config.SweepInterval)
	} else {
		close(t.done)
	}

	return t
}

// Get returns the value for key. Expired entries are removed and reported absent.
func (t *LocalTier) Get(key string) ([]byte, bool) {
	entry, ok := t.GetEntry(key)
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// GetEntry returns the entry for key and marks it most recently used.
func (t *LocalTier) GetEntry(key string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.lru.Peek(key)
	if !ok {
		t.recordMissLocked()
		return Entry{}, false
	}

	if entry.IsExpired(t.config.Now()) {
		t.removeLocked(key, entry)
		t.stats.expirations.Inc()
		t.recordMissLocked()
		return Entry{}, false
	}

	// Get moves the entry to the front of the recency list.
	t.lru.Get(key)
	t.stats.hits.Inc()
	CacheHits.WithLabelValues(tierLocal).Inc()
	return entry, true
}

// Set stores value under key for ttl, evicting least recently used entries
// until both the entry and byte bounds hold.
func (t *LocalTier) Set(key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return t.SetEntry(NewEntry(key, value, ttl, t.config.Now()))
}

// SetEntry stores a prebuilt entry, keeping its InsertedAt and ExpiresAt.
// Used to backfill from the remote tier without extending the lifetime.
func (t *LocalTier) SetEntry(entry Entry) error {
	if entry.SizeBytes == 0 {
		entry.SizeBytes = entrySize(entry.Key, entry.Value)
	}
	if entry.SizeBytes > t.config.MaxBytes {
		return ErrEntryTooLarge
	}
	if !entry.ExpiresAt.After(entry.InsertedAt) {
		return ErrInvalidTTL
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Overwrites are delete + insert so the old size leaves the accounting
	// before the capacity check.
	if old, ok := t.lru.Peek(entry.Key); ok {
		t.removeLocked(entry.Key, old)
	}

	for t.lru.Len() > 0 &&
		(t.lru.Len() >= t.config.MaxEntries || t.bytes+entry.SizeBytes > t.config.MaxBytes) {
		key, evicted, ok := t.lru.RemoveOldest()
		if !ok {
			break
		}
		t.bytes -= evicted.SizeBytes
		t.stats.evictions.Inc()
		CacheEvictions.Inc()
		t.config.Observer.OnEvict(key, evicted.SizeBytes)
	}

	t.lru.Add(entry.Key, entry)
	t.bytes += entry.SizeBytes
	t.stats.sets.Inc()
	t.updateGaugesLocked()
	return nil
}

// Delete removes key. Idempotent.
func (t *LocalTier) Delete(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.lru.Peek(key)
	if !ok {
		return false
	}
	t.removeLocked(key, entry)
	return true
}

// DeletePattern removes every resident key matching the glob pattern.
func (t *LocalTier) DeletePattern(pattern string) (int, error) {
	if err := ValidatePattern(pattern); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for _, key := range t.lru.Keys() {
		if !MatchPattern(pattern, key) {
			continue
		}
		if entry, ok := t.lru.Peek(key); ok {
			t.removeLocked(key, entry)
			removed++
		}
	}
	return removed, nil
}

// Has reports whether key is present and unexpired. It does not refresh recency.
func (t *LocalTier) Has(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.lru.Peek(key)
	if !ok {
		return false
	}
	if entry.IsExpired(t.config.Now()) {
		t.removeLocked(key, entry)
		t.stats.expirations.Inc()
		return false
	}
	return true
}

// Keys returns unexpired keys from least to most recently used.
func (t *LocalTier) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.config.Now()
	keys := make([]string, 0, t.lru.Len())
	for _, key := range t.lru.Keys() {
		if entry, ok := t.lru.Peek(key); ok && !entry.IsExpired(now) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Size returns the number of resident entries, including expired entries
// that have not been purged yet.
func (t *LocalTier) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Len()
}

// Bytes returns the cumulative SizeBytes of resident entries.
func (t *LocalTier) Bytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytes
}

// PurgeExpired removes every expired entry and returns how many were removed.
func (t *LocalTier) PurgeExpired() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.config.Now()
	purged := 0
	for _, key := range t.lru.Keys() {
		entry, ok := t.lru.Peek(key)
		if ok && entry.IsExpired(now) {
			t.removeLocked(key, entry)
			t.stats.expirations.Inc()
			purged++
		}
	}
	return purged
}

// Clear removes every entry.
func (t *LocalTier) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lru.Purge()
	t.bytes = 0
	t.updateGaugesLocked()
}

// Stats returns a snapshot of the tier counters.
func (t *LocalTier) Stats() TierSnapshot {
	return t.stats.Snapshot()
}

// ResetStats zeroes the tier counters.
func (t *LocalTier) ResetStats() {
	t.stats.Reset()
}

// Close stops the janitor goroutine.
func (t *LocalTier) Close() {
	t.once.Do(func() {
		close(t.stop)
	})
	<-t.done
}

func (t *LocalTier) janitor(interval time.Duration) {
	defer close(t.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.PurgeExpired()
		case <-t.stop:
			return
		}
	}
}

func (t *LocalTier) removeLocked(key string, entry Entry) {
	t.lru.Remove(key)
	t.bytes -= entry.SizeBytes
	t.updateGaugesLocked()
}

func (t *LocalTier) recordMissLocked() {
	t.stats.misses.Inc()
	CacheMisses.WithLabelValues(tierLocal).Inc()
}

func (t *LocalTier) updateGaugesLocked() {
	CacheSize.WithLabelValues(tierLocal).Set(float64(t.bytes))
	CacheEntries.Set(float64(t.lru.Len()))
}
