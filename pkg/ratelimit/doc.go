// Package ratelimit implements per-key fixed-window admission control.
//
// Each key (client IP, API key, ...) owns one window of WindowSize. The first
// request in a window opens it, requests are admitted while the count is
// below MaxRequests, and rejected requests learn how long until the window
// resets. Windows older than WindowSize are purged lazily on access and by a
// periodic sweep, so memory is bounded by the number of distinct keys seen
// within one window.
package ratelimit
