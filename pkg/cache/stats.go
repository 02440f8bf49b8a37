package cache

import (
	"go.uber.org/atomic"
)

// TierStats holds monotonically increasing counters for one tier.
// Counters are lock-free and only reset through Reset.
type TierStats struct {
	hits        atomic.Uint64
	misses      atomic.Uint64
	sets        atomic.Uint64
	evictions   atomic.Uint64
	expirations atomic.Uint64
	errors      atomic.Uint64
	unavailable atomic.Uint64
}

// TierSnapshot is a point-in-time copy of TierStats.
type TierSnapshot struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Sets        uint64  `json:"sets"`
	Evictions   uint64  `json:"evictions"`
	Expirations uint64  `json:"expirations"`
	Errors      uint64  `json:"errors"`
	Unavailable uint64  `json:"unavailable"`
	HitRate     float64 `json:"hit_rate"`
}

// Snapshot copies the current counter values.
func (s *TierStats) Snapshot() TierSnapshot {
	snap := TierSnapshot{
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		Sets:        s.sets.Load(),
		Evictions:   s.evictions.Load(),
		Expirations: s.expirations.Load(),
		Errors:      s.errors.Load(),
		Unavailable: s.unavailable.Load(),
	}
	snap.HitRate = hitRate(snap.Hits, snap.Misses)
	return snap
}

// Reset zeroes every counter.
func (s *TierStats) Reset() {
	s.hits.Store(0)
	s.misses.Store(0)
	s.sets.Store(0)
	s.evictions.Store(0)
	s.expirations.Store(0)
	s.errors.Store(0)
	s.unavailable.Store(0)
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
