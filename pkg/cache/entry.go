package cache

import (
	"time"
)

// Entry is a cached value together with its lifetime bookkeeping.
type Entry struct {
	// Key is the namespaced cache key.
	Key string `json:"key"`

	// Value is the opaque payload.
	Value []byte `json:"value"`

	// InsertedAt is when the value was first written to a tier.
	InsertedAt time.Time `json:"inserted_at"`

	// ExpiresAt is InsertedAt plus the TTL.
	ExpiresAt time.Time `json:"expires_at"`

	// SizeBytes is the capacity cost of the entry (key + value).
	SizeBytes int64 `json:"size_bytes"`
}

// NewEntry creates an entry inserted at now with the given TTL.
func NewEntry(key string, value []byte, ttl time.Duration, now time.Time) Entry {
	return Entry{
		Key:        key,
		Value:      value,
		InsertedAt: now,
		ExpiresAt:  now.Add(ttl),
		SizeBytes:  entrySize(key, value),
	}
}

// IsExpired returns true if the entry is expired at t.
// An entry is absent from ExpiresAt onwards.
func (e Entry) IsExpired(t time.Time) bool {
	return !t.Before(e.ExpiresAt)
}

// TTL returns the remaining lifetime at t.
// Returns 0 if already expired.
func (e Entry) TTL(t time.Time) time.Duration {
	ttl := e.ExpiresAt.Sub(t)
	if ttl < 0 {
		return 0
	}
	return ttl
}

func entrySize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}
