package ratelimit

import (
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const shardCount = 32

// Config configures a Limiter.
type Config struct {
	// WindowSize is the length of one fixed window. It is also the sweep period.
	// Default: 60 seconds
	WindowSize time.Duration

	// MaxRequests is the number of requests admitted per key and window.
	// Default: 100
	MaxRequests int

	// Logger receives sweep diagnostics.
	Logger zerolog.Logger

	// Now overrides the clock (tests).
	Now func() time.Time
}

// DefaultConfig returns the default limiter configuration.
func DefaultConfig() Config {
	return Config{
		WindowSize:  60 * time.Second,
		MaxRequests: 100,
		Logger:      zerolog.Nop(),
	}
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration
	// RetryAfter is set on rejection only.
	RetryAfter time.Duration
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds.
func (d Decision) RetryAfterSeconds() int {
	return ceilSeconds(d.RetryAfter)
}

// ResetSeconds returns ResetAfter rounded up to whole seconds.
func (d Decision) ResetSeconds() int {
	return ceilSeconds(d.ResetAfter)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

type window struct {
	start time.Time
	count int
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// Limiter is a fixed-window rate limiter. Keys are spread over independently
// locked shards, so admission for different keys does not serialize.
type Limiter struct {
	config Config
	shards [shardCount]shard

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New creates a limiter. Call Start to run the background sweep.
func New(config Config) *Limiter {
	defaults := DefaultConfig()
	if config.WindowSize <= 0 {
		config.WindowSize = defaults.WindowSize
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = defaults.MaxRequests
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	l := &Limiter{
		config: config,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for i := range l.shards {
		l.shards[i].windows = make(map[string]*window)
	}
	return l
}

// Limit returns the configured requests per window.
func (l *Limiter) Limit() int {
	return l.config.MaxRequests
}

// Window returns the configured window size.
func (l *Limiter) Window() time.Duration {
	return l.config.WindowSize
}

// Admit records one request for key and reports whether it is allowed.
func (l *Limiter) Admit(key string) Decision {
	s := l.shardFor(key)
	now := l.config.Now()

	s.mu.Lock()
	w, ok := s.windows[key]
	if !ok || l.expired(w, now) {
		if !ok {
			ratelimitTrackedKeys.Inc()
		}
		w = &window{start: now}
		s.windows[key] = w
	}

	resetAfter := w.start.Add(l.config.WindowSize).Sub(now)

	if w.count >= l.config.MaxRequests {
		s.mu.Unlock()
		ratelimitRejectedTotal.Inc()
		return Decision{
			Allowed:    false,
			Limit:      l.config.MaxRequests,
			Remaining:  0,
			ResetAfter: resetAfter,
			RetryAfter: resetAfter,
		}
	}

	w.count++
	remaining := l.config.MaxRequests - w.count
	s.mu.Unlock()

	ratelimitAdmittedTotal.Inc()
	return Decision{
		Allowed:    true,
		Limit:      l.config.MaxRequests,
		Remaining:  remaining,
		ResetAfter: resetAfter,
	}
}

// Sweep removes windows that have ended and returns how many were purged.
func (l *Limiter) Sweep() int {
	now := l.config.Now()
	purged := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for key, w := range s.windows {
			if l.expired(w, now) {
				delete(s.windows, key)
				purged++
			}
		}
		s.mu.Unlock()
	}
	ratelimitTrackedKeys.Sub(float64(purged))
	return purged
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}

// Reset drops every window.
func (l *Limiter) Reset() {
	dropped := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		dropped += len(s.windows)
		s.windows = make(map[string]*window)
		s.mu.Unlock()
	}
	ratelimitTrackedKeys.Sub(float64(dropped))
}

// Start runs the sweep every WindowSize until Close.
func (l *Limiter) Start() {
	l.startOnce.Do(func() {
		go l.sweepLoop()
	})
}

// Close stops the sweep goroutine and waits for it. It is safe to call more
// than once and without Start.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() {
		close(l.stop)
		l.startOnce.Do(func() { close(l.done) })
		<-l.done
	})
}

func (l *Limiter) sweepLoop() {
	defer close(l.done)

	ticker := time.NewTicker(l.config.WindowSize)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if purged := l.Sweep(); purged > 0 {
				l.config.Logger.Debug().
					Int("purged", purged).
					Msg("Rate limit windows swept")
			}
		case <-l.stop:
			return
		}
	}
}

// expired reports whether w ended at or before now.
func (l *Limiter) expired(w *window, now time.Time) bool {
	return !now.Before(w.start.Add(l.config.WindowSize))
}

func (l *Limiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.shards[h.Sum32()%shardCount]
}
