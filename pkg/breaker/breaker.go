// Package breaker implements per-dependency circuit breakers.
//
// A breaker moves closed -> open after FailureThreshold consecutive failures,
// rejects calls while open, lets trial calls through once Timeout has elapsed
// (half-open) and closes again after SuccessThreshold successful trials. Any
// failed trial reopens it with a fresh timeout.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Config configures a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	// Default: 5
	FailureThreshold int

	// SuccessThreshold is the number of half-open successes that closes the circuit.
	// Default: 2
	SuccessThreshold int

	// Timeout is how long the circuit stays open before a trial call.
	// Default: 60 seconds
	Timeout time.Duration

	// CallTimeout bounds each protected call. A timeout counts as a failure.
	// Negative disables the bound.
	// Default: 5 seconds
	CallTimeout time.Duration

	// HalfOpenMaxRequests caps concurrent trial calls.
	// Default: SuccessThreshold
	HalfOpenMaxRequests int

	// IsFailure decides whether an error counts against the breaker.
	// Default: every non-nil error except context.Canceled.
	IsFailure func(err error) bool

	// Observer is notified on state transitions.
	Observer Observer

	// Now overrides the clock (tests).
	Now func() time.Time
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
		CallTimeout:      5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaults.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = defaults.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = defaults.CallTimeout
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = c.SuccessThreshold
	}
	if c.IsFailure == nil {
		c.IsFailure = DefaultIsFailure
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// DefaultIsFailure counts every error except caller cancellation.
func DefaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Stats are cumulative request counters.
type Stats struct {
	TotalRequests      uint64 `json:"total_requests"`
	SuccessfulRequests uint64 `json:"successful_requests"`
	FailedRequests     uint64 `json:"failed_requests"`
	IgnoredRequests    uint64 `json:"ignored_requests"`
	RejectedRequests   uint64 `json:"rejected_requests"`
}

// Record is a consistent snapshot of one breaker.
type Record struct {
	Name          string     `json:"name"`
	State         State      `json:"state"`
	FailureCount  int        `json:"failure_count"`
	SuccessCount  int        `json:"success_count"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	Stats         Stats      `json:"stats"`
}

// CircuitBreaker protects calls to one named dependency.
type CircuitBreaker struct {
	name   string
	config Config

	mu            sync.Mutex
	state         State
	failureCount  int
	successCount  int
	nextAttemptAt time.Time
	halfOpenCalls int
	// generation changes on every transition; outcomes of calls admitted in
	// an older generation update stats only.
	generation uint64

	total      atomic.Uint64
	successful atomic.Uint64
	failed     atomic.Uint64
	ignored    atomic.Uint64
	rejected   atomic.Uint64
}

// New creates a circuit breaker named name.
func New(name string, config Config) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:   name,
		config: config.withDefaults(),
		state:  StateClosed,
	}
	breakerState.WithLabelValues(name).Set(float64(StateClosed))
	return cb
}

// Name returns the dependency name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs op through the breaker. While open it returns an *OpenError
// without calling op. op runs under CallTimeout; on expiry ErrCallTimeout is
// returned and recorded as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	generation, err := cb.beforeRequest()
	if err != nil {
		return err
	}

	err = cb.call(ctx, op)
	cb.afterRequest(generation, err)
	return err
}

// Do runs op through cb and returns its result.
func Do[T any](ctx context.Context, cb *CircuitBreaker, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		// op may still be running after a timeout; never read result then.
		var zero T
		return zero, err
	}
	return result, nil
}

// State returns the current state. An open breaker whose timeout elapsed is
// still reported open until the next call moves it to half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot taken under the breaker lock.
func (cb *CircuitBreaker) Stats() Record {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	record := Record{
		Name:         cb.name,
		State:        cb.state,
		FailureCount: cb.failureCount,
		SuccessCount: cb.successCount,
		Stats: Stats{
			TotalRequests:      cb.total.Load(),
			SuccessfulRequests: cb.successful.Load(),
			FailedRequests:     cb.failed.Load(),
			IgnoredRequests:    cb.ignored.Load(),
			RejectedRequests:   cb.rejected.Load(),
		},
	}
	if cb.state == StateOpen {
		next := cb.nextAttemptAt
		record.NextAttemptAt = &next
	}
	return record
}

// Reset closes the circuit and clears all counters. It takes the same lock as
// Execute, and calls still in flight are ignored for state purposes.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		cb.setStateLocked(StateClosed, cb.config.Now())
	} else {
		cb.generation++
	}
	cb.failureCount = 0
	cb.successCount = 0
	cb.total.Store(0)
	cb.successful.Store(0)
	cb.failed.Store(0)
	cb.ignored.Store(0)
	cb.rejected.Store(0)
}

func (cb *CircuitBreaker) beforeRequest() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.total.Inc()
	now := cb.config.Now()

	if cb.state == StateOpen {
		if now.Before(cb.nextAttemptAt) {
			return 0, cb.rejectLocked(cb.nextAttemptAt)
		}
		cb.setStateLocked(StateHalfOpen, now)
	}

	if cb.state == StateHalfOpen {
		if cb.halfOpenCalls >= cb.config.HalfOpenMaxRequests {
			return 0, cb.rejectLocked(time.Time{})
		}
		cb.halfOpenCalls++
	}

	return cb.generation, nil
}

func (cb *CircuitBreaker) rejectLocked(retryAt time.Time) error {
	cb.rejected.Inc()
	breakerRequestsTotal.WithLabelValues(cb.name, "rejected").Inc()
	return &OpenError{Name: cb.name, RetryAt: retryAt}
}

// afterRequest records the outcome of an admitted call. Errors rejected by
// IsFailure are ignored: they neither count as failures nor as successes.
func (cb *CircuitBreaker) afterRequest(generation uint64, err error) {
	failure := err != nil && cb.config.IsFailure(err)
	ignored := err != nil && !failure

	switch {
	case failure:
		cb.failed.Inc()
		breakerRequestsTotal.WithLabelValues(cb.name, "failure").Inc()
	case ignored:
		cb.ignored.Inc()
		breakerRequestsTotal.WithLabelValues(cb.name, "ignored").Inc()
	default:
		cb.successful.Inc()
		breakerRequestsTotal.WithLabelValues(cb.name, "success").Inc()
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if generation != cb.generation {
		return
	}

	now := cb.config.Now()

	switch cb.state {
	case StateClosed:
		if ignored {
			return
		}
		if !failure {
			cb.failureCount = 0
			return
		}
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.setStateLocked(StateOpen, now)
		}

	case StateHalfOpen:
		cb.halfOpenCalls--
		if failure {
			cb.failureCount = 0
			cb.setStateLocked(StateOpen, now)
			return
		}
		if ignored {
			return
		}
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.setStateLocked(StateClosed, now)
		}
	}
}

// call runs op bounded by CallTimeout. op runs in its own goroutine so a
// hung op cannot block bookkeeping. A negative CallTimeout disables the bound.
func (cb *CircuitBreaker) call(ctx context.Context, op func(context.Context) error) error {
	if cb.config.CallTimeout < 0 {
		return op(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, cb.config.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(ctx)
	}()

	var err error
	select {
	case err = <-done:
		if err == nil {
			return nil
		}
	case <-ctx.Done():
		err = ctx.Err()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrCallTimeout
	}
	return err
}

func (cb *CircuitBreaker) setStateLocked(to State, now time.Time) {
	from := cb.state
	cb.state = to
	cb.generation++
	cb.halfOpenCalls = 0

	switch to {
	case StateOpen:
		cb.successCount = 0
		cb.nextAttemptAt = now.Add(cb.config.Timeout)
	case StateHalfOpen:
		cb.successCount = 0
	case StateClosed:
		cb.failureCount = 0
		cb.successCount = 0
		cb.nextAttemptAt = time.Time{}
	}

	breakerState.WithLabelValues(cb.name).Set(float64(to))
	breakerTransitionsTotal.WithLabelValues(cb.name, from.String(), to.String()).Inc()

	if cb.config.Observer != nil {
		cb.config.Observer.OnStateChange(cb.name, from, to)
	}
}
