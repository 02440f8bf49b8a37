// Package config loads render-gate configuration from the environment.
//
// Every option has a documented default; durations given in milliseconds
// use the _MS suffix, TTLs the _SECONDS suffix.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/render-gate/pkg/breaker"
	"github.com/Sternrassler/render-gate/pkg/cache"
	"github.com/Sternrassler/render-gate/pkg/logging"
	"github.com/Sternrassler/render-gate/pkg/ratelimit"
	"github.com/Sternrassler/render-gate/pkg/strategy"
	"github.com/Sternrassler/render-gate/pkg/tracing"
	"github.com/Sternrassler/render-gate/pkg/upstream"
)

// Config is the complete process configuration.
type Config struct {
	Server    Server
	Redis     Redis
	Cache     Cache
	Breaker   Breaker
	RateLimit RateLimit
	Upstream  Upstream
	Log       Log
	Tracing   Tracing
}

// Server configures the HTTP listener.
type Server struct {
	Addr            string        // RG_ADDR, default ":8080"
	ReadTimeout     time.Duration // RG_READ_TIMEOUT_MS, default 5s
	WriteTimeout    time.Duration // RG_WRITE_TIMEOUT_MS, default 10s
	RequestTimeout  time.Duration // RG_REQUEST_TIMEOUT_MS, default 10s
	ShutdownTimeout time.Duration // RG_SHUTDOWN_TIMEOUT_MS, default 10s
	// TrustProxy uses X-Forwarded-For as the rate limit key.
	TrustProxy bool // RG_TRUST_PROXY, default false
}

// Redis configures the remote cache tier. An empty Addr runs local-only.
type Redis struct {
	Addr      string        // RG_REDIS_ADDR
	Password  string        // RG_REDIS_PASSWORD
	DB        int           // RG_REDIS_DB
	KeyPrefix string        // RG_REDIS_KEY_PREFIX, default "rg:"
	OpTimeout time.Duration // RG_REDIS_OP_TIMEOUT_MS, default 200ms
}

// Cache configures the local tier and the TTL policies.
type Cache struct {
	MaxEntries     int           // RG_CACHE_MAX_ENTRIES, default 10000
	MaxBytes       int64         // RG_CACHE_MAX_BYTES, default 64 MiB
	SweepInterval  time.Duration // RG_CACHE_SWEEP_INTERVAL_MS, default 1m
	DefaultTTL     int           // RG_CACHE_TTL_SECONDS, default 300
	HotTTL         int           // RG_CACHE_HOT_TTL_SECONDS, default 60
	HotLowStockTTL int           // RG_CACHE_HOT_LOW_STOCK_TTL_SECONDS, default 30
}

// Breaker configures both upstream circuit breakers.
type Breaker struct {
	FailureThreshold int           // RG_BREAKER_FAILURE_THRESHOLD, default 5
	SuccessThreshold int           // RG_BREAKER_SUCCESS_THRESHOLD, default 2
	Timeout          time.Duration // RG_BREAKER_TIMEOUT_MS, default 60s
	CallTimeout      time.Duration // RG_BREAKER_CALL_TIMEOUT_MS, default 5s
}

// RateLimit configures admission control.
type RateLimit struct {
	WindowSize  time.Duration // RG_RATELIMIT_WINDOW_SIZE_MS, default 60s
	MaxRequests int           // RG_RATELIMIT_MAX_REQUESTS, default 100
}

// Upstream configures the catalogue client. An empty BaseURL serves items
// from the in-memory catalogue.
type Upstream struct {
	BaseURL   string        // RG_UPSTREAM_URL
	Timeout   time.Duration // RG_UPSTREAM_TIMEOUT_MS, default 5s
	UserAgent string        // RG_USER_AGENT, default "render-gate/1.0"
}

// Log configures logging.
type Log struct {
	Level  logging.LogLevel // RG_LOG_LEVEL, default "info"
	Pretty bool             // RG_LOG_PRETTY, default false
}

// Tracing configures OpenTelemetry.
type Tracing struct {
	Stdout      bool    // RG_TRACING_STDOUT, default false
	SampleRatio float64 // RG_TRACING_SAMPLE_RATIO, default 1
}

// Default returns the default configuration.
func Default() Config {
	local := cache.DefaultLocalConfig()
	remote := cache.DefaultRemoteConfig()
	policies := strategy.DefaultPolicies()
	cb := breaker.DefaultConfig()
	rl := ratelimit.DefaultConfig()

	return Config{
		Server: Server{
			Addr:            ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: Redis{
			KeyPrefix: remote.KeyPrefix,
			OpTimeout: remote.OpTimeout,
		},
		Cache: Cache{
			MaxEntries:     local.MaxEntries,
			MaxBytes:       local.MaxBytes,
			SweepInterval:  local.SweepInterval,
			DefaultTTL:     policies.DefaultTTL,
			HotTTL:         policies.HotTTL,
			HotLowStockTTL: policies.HotLowStockTTL,
		},
		Breaker: Breaker{
			FailureThreshold: cb.FailureThreshold,
			SuccessThreshold: cb.SuccessThreshold,
			Timeout:          cb.Timeout,
			CallTimeout:      cb.CallTimeout,
		},
		RateLimit: RateLimit{
			WindowSize:  rl.WindowSize,
			MaxRequests: rl.MaxRequests,
		},
		Upstream: Upstream{
			Timeout:   5 * time.Second,
			UserAgent: "render-gate/1.0",
		},
		Log: Log{
			Level: logging.LevelInfo,
		},
		Tracing: Tracing{
			SampleRatio: 1,
		},
	}
}

// Load reads the configuration from the process environment and validates it.
func Load() (Config, error) {
	return FromEnv(os.Getenv)
}

// FromEnv reads the configuration using getenv and validates it.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()
	p := envParser{getenv: getenv}

	cfg.Server.Addr = p.str("RG_ADDR", cfg.Server.Addr)
	cfg.Server.ReadTimeout = p.millis("RG_READ_TIMEOUT_MS", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = p.millis("RG_WRITE_TIMEOUT_MS", cfg.Server.WriteTimeout)
	cfg.Server.RequestTimeout = p.millis("RG_REQUEST_TIMEOUT_MS", cfg.Server.RequestTimeout)
	cfg.Server.ShutdownTimeout = p.millis("RG_SHUTDOWN_TIMEOUT_MS", cfg.Server.ShutdownTimeout)
	cfg.Server.TrustProxy = p.boolean("RG_TRUST_PROXY", cfg.Server.TrustProxy)

	cfg.Redis.Addr = p.str("RG_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = p.str("RG_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = p.integer("RG_REDIS_DB", cfg.Redis.DB)
	cfg.Redis.KeyPrefix = p.str("RG_REDIS_KEY_PREFIX", cfg.Redis.KeyPrefix)
	cfg.Redis.OpTimeout = p.millis("RG_REDIS_OP_TIMEOUT_MS", cfg.Redis.OpTimeout)

	cfg.Cache.MaxEntries = p.integer("RG_CACHE_MAX_ENTRIES", cfg.Cache.MaxEntries)
	cfg.Cache.MaxBytes = int64(p.integer("RG_CACHE_MAX_BYTES", int(cfg.Cache.MaxBytes)))
	cfg.Cache.SweepInterval = p.millis("RG_CACHE_SWEEP_INTERVAL_MS", cfg.Cache.SweepInterval)
	cfg.Cache.DefaultTTL = p.integer("RG_CACHE_TTL_SECONDS", cfg.Cache.DefaultTTL)
	cfg.Cache.HotTTL = p.integer("RG_CACHE_HOT_TTL_SECONDS", cfg.Cache.HotTTL)
	cfg.Cache.HotLowStockTTL = p.integer("RG_CACHE_HOT_LOW_STOCK_TTL_SECONDS", cfg.Cache.HotLowStockTTL)

	cfg.Breaker.FailureThreshold = p.integer("RG_BREAKER_FAILURE_THRESHOLD", cfg.Breaker.FailureThreshold)
	cfg.Breaker.SuccessThreshold = p.integer("RG_BREAKER_SUCCESS_THRESHOLD", cfg.Breaker.SuccessThreshold)
	cfg.Breaker.Timeout = p.millis("RG_BREAKER_TIMEOUT_MS", cfg.Breaker.Timeout)
	cfg.Breaker.CallTimeout = p.millis("RG_BREAKER_CALL_TIMEOUT_MS", cfg.Breaker.CallTimeout)

	cfg.RateLimit.WindowSize = p.millis("RG_RATELIMIT_WINDOW_SIZE_MS", cfg.RateLimit.WindowSize)
	cfg.RateLimit.MaxRequests = p.integer("RG_RATELIMIT_MAX_REQUESTS", cfg.RateLimit.MaxRequests)

	cfg.Upstream.BaseURL = p.str("RG_UPSTREAM_URL", cfg.Upstream.BaseURL)
	cfg.Upstream.Timeout = p.millis("RG_UPSTREAM_TIMEOUT_MS", cfg.Upstream.Timeout)
	cfg.Upstream.UserAgent = p.str("RG_USER_AGENT", cfg.Upstream.UserAgent)

	if level := getenv("RG_LOG_LEVEL"); level != "" {
		parsed, err := logging.ParseLevel(level)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("RG_LOG_LEVEL: %w", err))
		} else {
			cfg.Log.Level = parsed
		}
	}
	cfg.Log.Pretty = p.boolean("RG_LOG_PRETTY", cfg.Log.Pretty)

	cfg.Tracing.Stdout = p.boolean("RG_TRACING_STDOUT", cfg.Tracing.Stdout)
	cfg.Tracing.SampleRatio = p.float("RG_TRACING_SAMPLE_RATIO", cfg.Tracing.SampleRatio)

	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks option ranges.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Addr != "", "server addr is required")
	check(c.Redis.DB >= 0, "redis db must be >= 0 (got %d)", c.Redis.DB)
	check(c.Redis.OpTimeout > 0, "redis op timeout must be positive")
	check(c.Cache.MaxEntries > 0, "cache max entries must be positive (got %d)", c.Cache.MaxEntries)
	check(c.Cache.MaxBytes > 0, "cache max bytes must be positive (got %d)", c.Cache.MaxBytes)
	check(c.Cache.SweepInterval >= 0, "cache sweep interval must not be negative")
	check(c.Cache.DefaultTTL > 0, "cache ttl must be positive (got %d)", c.Cache.DefaultTTL)
	check(c.Cache.HotTTL > 0, "hot ttl must be positive (got %d)", c.Cache.HotTTL)
	check(c.Cache.HotLowStockTTL > 0, "hot low-stock ttl must be positive (got %d)", c.Cache.HotLowStockTTL)
	check(c.Breaker.FailureThreshold > 0, "breaker failure threshold must be positive (got %d)", c.Breaker.FailureThreshold)
	check(c.Breaker.SuccessThreshold > 0, "breaker success threshold must be positive (got %d)", c.Breaker.SuccessThreshold)
	check(c.Breaker.Timeout > 0, "breaker timeout must be positive")
	check(c.RateLimit.WindowSize > 0, "rate limit window must be positive")
	check(c.RateLimit.MaxRequests > 0, "rate limit max requests must be positive (got %d)", c.RateLimit.MaxRequests)
	check(c.Tracing.SampleRatio >= 0 && c.Tracing.SampleRatio <= 1, "tracing sample ratio must be within [0, 1] (got %g)", c.Tracing.SampleRatio)

	if c.Upstream.BaseURL != "" {
		u, err := url.Parse(c.Upstream.BaseURL)
		check(err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "",
			"upstream url must be an absolute http(s) url (got %q)", c.Upstream.BaseURL)
	}

	return errors.Join(errs...)
}

// LocalConfig returns the local tier configuration.
func (c Config) LocalConfig() cache.LocalConfig {
	return cache.LocalConfig{
		MaxEntries:    c.Cache.MaxEntries,
		MaxBytes:      c.Cache.MaxBytes,
		SweepInterval: c.Cache.SweepInterval,
	}
}

// RemoteConfig returns the remote tier configuration.
func (c Config) RemoteConfig() cache.RemoteConfig {
	remote := cache.DefaultRemoteConfig()
	remote.KeyPrefix = c.Redis.KeyPrefix
	remote.OpTimeout = c.Redis.OpTimeout
	return remote
}

// Policies returns the strategy TTL policies.
func (c Config) Policies() strategy.Policies {
	return strategy.Policies{
		HotLowStockTTL: c.Cache.HotLowStockTTL,
		HotTTL:         c.Cache.HotTTL,
		DefaultTTL:     c.Cache.DefaultTTL,
	}
}

// BreakerConfig returns the breaker configuration shared by both upstream
// breakers. Client errors from the catalogue do not count as failures.
func (c Config) BreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: c.Breaker.FailureThreshold,
		SuccessThreshold: c.Breaker.SuccessThreshold,
		Timeout:          c.Breaker.Timeout,
		CallTimeout:      c.Breaker.CallTimeout,
		IsFailure:        upstream.IsBreakerFailure,
	}
}

// LimiterConfig returns the rate limiter configuration.
func (c Config) LimiterConfig() ratelimit.Config {
	return ratelimit.Config{
		WindowSize:  c.RateLimit.WindowSize,
		MaxRequests: c.RateLimit.MaxRequests,
	}
}

// UpstreamConfig returns the catalogue client configuration.
func (c Config) UpstreamConfig() upstream.Config {
	return upstream.Config{
		BaseURL:   c.Upstream.BaseURL,
		UserAgent: c.Upstream.UserAgent,
		Timeout:   c.Upstream.Timeout,
	}
}

// LogConfig returns the logging configuration.
func (c Config) LogConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Pretty = c.Log.Pretty
	return cfg
}

// TracingConfig returns the tracing configuration.
func (c Config) TracingConfig() tracing.Config {
	cfg := tracing.DefaultConfig()
	if c.Tracing.Stdout {
		cfg.Exporter = tracing.ExporterStdout
	}
	cfg.SampleRatio = c.Tracing.SampleRatio
	return cfg
}

type envParser struct {
	getenv func(string) string
	errs   []error
}

func (p *envParser) str(key, defaultValue string) string {
	if value := p.getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (p *envParser) integer(key string, defaultValue int) int {
	value := strings.TrimSpace(p.getenv(key))
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, value))
		return defaultValue
	}
	return n
}

func (p *envParser) millis(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(p.getenv(key))
	if value == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid milliseconds %q", key, value))
		return defaultValue
	}
	return time.Duration(n) * time.Millisecond
}

func (p *envParser) boolean(key string, defaultValue bool) bool {
	value := strings.TrimSpace(p.getenv(key))
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, value))
		return defaultValue
	}
	return b
}

func (p *envParser) float(key string, defaultValue float64) float64 {
	value := strings.TrimSpace(p.getenv(key))
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid number %q", key, value))
		return defaultValue
	}
	return f
}
