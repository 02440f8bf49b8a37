package breaker

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for breaker operations.
var (
	// ErrCircuitOpen is returned when the call was rejected without running.
	ErrCircuitOpen = errors.New("breaker: circuit is open")

	// ErrCallTimeout is returned when the protected call exceeded CallTimeout.
	// It counts as a failure.
	ErrCallTimeout = errors.New("breaker: call timed out")
)

// OpenError carries the breaker name and the earliest time a trial call is
// allowed. errors.Is(err, ErrCircuitOpen) matches it.
type OpenError struct {
	Name    string
	RetryAt time.Time
}

// Error implements the error interface.
func (e *OpenError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("breaker %q: circuit is open (half-open trial in progress)", e.Name)
	}
	return fmt.Sprintf("breaker %q: circuit is open until %s", e.Name, e.RetryAt.Format(time.RFC3339))
}

// Is reports whether target is ErrCircuitOpen.
func (e *OpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}
