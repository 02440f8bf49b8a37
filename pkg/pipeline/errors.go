package pipeline

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/render-gate/pkg/ratelimit"
)

// Common errors returned by the pipeline.
var (
	// ErrServiceUnavailable is returned when the item breaker is open. It is
	// joined with the breaker error, so errors.Is also matches
	// breaker.ErrCircuitOpen.
	ErrServiceUnavailable = errors.New("pipeline: service unavailable")

	// ErrInvalidItemID is returned for ids that cannot form a cache key.
	ErrInvalidItemID = errors.New("pipeline: invalid item id")
)

// RateLimitError is returned when the client exceeded its window.
type RateLimitError struct {
	Decision ratelimit.Decision
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: retry after %ds", e.Decision.RetryAfterSeconds())
}

// UpstreamError wraps a failed upstream call.
type UpstreamError struct {
	Op  string
	ID  string
	Err error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s for item %q failed: %v", e.Op, e.ID, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// RenderError wraps a renderer failure.
type RenderError struct {
	ID  string
	Err error
}

// Error implements the error interface.
func (e *RenderError) Error() string {
	return fmt.Sprintf("render item %q failed: %v", e.ID, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RenderError) Unwrap() error {
	return e.Err
}
