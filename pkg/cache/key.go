package cache

import (
	"errors"
	"path"
	"strings"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Key kinds used by the request pipeline.
const (
	KindPage     = "page"
	KindPrecheck = "precheck"
	KindItem     = "item"
)

var (
	// ErrInvalidKey indicates an empty, malformed or oversized key.
	ErrInvalidKey = errors.New("cache: key is invalid")

	// ErrInvalidPattern indicates a malformed glob pattern.
	ErrInvalidPattern = errors.New("cache: pattern is invalid")
)

// Key identifies a cached value as <kind>:<id>.
type Key struct {
	// Kind is the namespace, e.g. "page" or "precheck".
	Kind string

	// ID is the identifier inside the namespace, e.g. "123".
	ID string
}

// NewKey builds a key from kind and id.
func NewKey(kind, id string) Key {
	return Key{Kind: kind, ID: id}
}

// String returns the namespaced form.
//
// Example:
//
//	precheck:123
func (k Key) String() string {
	return k.Kind + ":" + k.ID
}

// ParseKey splits "<kind>:<id>". The id may itself contain colons.
func ParseKey(s string) (Key, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || kind == "" || id == "" {
		return Key{}, ErrInvalidKey
	}
	return Key{Kind: kind, ID: id}, nil
}

// Pattern returns the glob matching every key of a kind ("<kind>:*").
func Pattern(kind string) string {
	return kind + ":*"
}

// ValidateKey checks if a key string is usable in both tiers.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" || len(key) > MaxKeyLength {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, "\n\r ") {
		return ErrInvalidKey
	}
	return nil
}

// ValidatePattern checks that a glob pattern is well formed.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return ErrInvalidPattern
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return ErrInvalidPattern
	}
	return nil
}

// MatchPattern reports whether key matches the glob pattern.
// Matching follows path.Match, except that '*' also matches '/'.
func MatchPattern(pattern, key string) bool {
	ok, err := path.Match(strings.ReplaceAll(pattern, "/", "\x00"), strings.ReplaceAll(key, "/", "\x00"))
	return err == nil && ok
}
