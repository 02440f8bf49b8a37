package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass represents a classification of upstream errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents a response body that could not be parsed.
	ErrorClassDecode ErrorClass = "decode"
)

// ErrNotFound is matched by StatusError values with status 404.
var ErrNotFound = errors.New("upstream: item not found")

// StatusError represents an upstream failure with additional context.
type StatusError struct {
	Op         string
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s %s error (status %d): %s: %v",
			e.Op, e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream %s %s error (status %d): %s",
		e.Op, e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *StatusError) Unwrap() error {
	return e.Err
}

// Is reports a 404 as ErrNotFound.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// classify categorizes a response or transport error.
func classify(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ErrorClassClient
	case resp.StatusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// IsBreakerFailure reports whether err says something about the health of
// the upstream. Client errors (4xx) describe the request, not the service,
// and caller cancellation says nothing at all.
func IsBreakerFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Class != ErrorClassClient
	}
	return true
}
