// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Component names used across render-gate.
const (
	ComponentServer   = "server"
	ComponentPipeline = "pipeline"
	ComponentCache    = "cache"
	ComponentBreaker  = "breaker"
	ComponentLimiter  = "ratelimit"
	ComponentUpstream = "upstream"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level written.
	Level LogLevel

	// Pretty switches from JSON lines to zerolog's console writer.
	Pretty bool

	// Service is attached to every line as "service". Empty omits it.
	Service string

	// Output receives log lines (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns JSON logging at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Level:   LevelInfo,
		Service: "render-gate",
		Output:  os.Stderr,
	}
}

var zerologLevels = map[LogLevel]zerolog.Level{
	LevelDebug: zerolog.DebugLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelError: zerolog.ErrorLevel,
}

// Setup builds the process logger, installs it as zerolog's global logger
// and sets the global level.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(cfg.Level.zerolog())

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()
	log.Logger = logger

	return logger
}

// ParseLevel validates a level name from configuration. Matching ignores
// case and surrounding space; "warning" is accepted for warn and an empty
// name means info.
func ParseLevel(s string) (LogLevel, error) {
	name := LogLevel(strings.ToLower(strings.TrimSpace(s)))
	switch name {
	case "":
		return LevelInfo, nil
	case "warning":
		return LevelWarn, nil
	}
	if _, ok := zerologLevels[name]; !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return name, nil
}

// zerolog maps the level, falling back to info for unknown names.
func (l LogLevel) zerolog() zerolog.Level {
	if level, err := ParseLevel(string(l)); err == nil {
		return zerologLevels[level]
	}
	return zerolog.InfoLevel
}

// NewLogger derives a component logger from the global logger.
func NewLogger(component string) zerolog.Logger {
	return WithComponent(log.Logger, component)
}

// WithComponent tags logger with a component name.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache hits and misses (key, tier)
//   - Page builds (strategy, reason, cached)
//   - Rate limiter rejections and sweeps
//
// Info: Normal operation events
//   - Breaker transitions other than opening
//   - Remote cache tier recovered
//   - Cache invalidation and warm-up
//   - Server startup/shutdown
//
// Warn: Degraded but serving
//   - Remote cache tier unavailable (local tier only)
//   - Precheck unavailable, fallback decision used
//   - Breaker opened
//   - Upstream 4xx/5xx responses
//
// Error: Error conditions returned to users
//   - Item fetch failures
//   - Render failures
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package
//   - item_id: requested item
//   - key: cache key
//   - tier: cache tier (local, remote)
//   - strategy: render strategy (ssr, csr, streaming)
//   - breaker: breaker name (precheck, item)
//   - op: upstream operation
//   - error_class: upstream error class (client, server, network, decode)
