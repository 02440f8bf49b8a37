package cache

import (
	"github.com/rs/zerolog"
)

// Observer receives cache tier events synchronously.
// Implementations must be fast and must not call back into the cache.
type Observer interface {
	// OnEvict is called when an entry is evicted to make room for a write.
	OnEvict(key string, sizeBytes int64)

	// OnRemoteAvailability is called when the remote tier goes down or comes back.
	OnRemoteAvailability(available bool, err error)
}

type nopObserver struct{}

func (nopObserver) OnEvict(string, int64)            {}
func (nopObserver) OnRemoteAvailability(bool, error) {}

// LogObserver logs cache events with zerolog.
type LogObserver struct {
	Logger zerolog.Logger
}

// OnEvict logs the evicted key at debug level.
func (o LogObserver) OnEvict(key string, sizeBytes int64) {
	o.Logger.Debug().
		Str("key", key).
		Int64("size_bytes", sizeBytes).
		Msg("Evicted least recently used entry")
}

// OnRemoteAvailability logs remote tier connectivity changes.
func (o LogObserver) OnRemoteAvailability(available bool, err error) {
	if available {
		o.Logger.Info().Msg("Remote cache tier reachable again")
		return
	}
	o.Logger.Warn().Err(err).Msg("Remote cache tier unavailable - degrading to local tier")
}
