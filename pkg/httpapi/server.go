// Package httpapi exposes the page pipeline, health, metrics and the operator
// admin surface over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/render-gate/pkg/cache"
	"github.com/Sternrassler/render-gate/pkg/logging"
	"github.com/Sternrassler/render-gate/pkg/pipeline"
	"github.com/Sternrassler/render-gate/pkg/ratelimit"
	"github.com/rs/zerolog"
)

// Config holds the server dependencies.
type Config struct {
	Pipeline *pipeline.Pipeline
	Cache    *cache.Coordinator
	Limiter  *ratelimit.Limiter

	// Metrics serves /metrics. Nil leaves the route unregistered.
	Metrics http.Handler

	// RequestTimeout bounds one page request.
	// Default: 10 seconds
	RequestTimeout time.Duration

	// TrustProxy takes the client key from the first X-Forwarded-For hop.
	TrustProxy bool

	// MaxWarmItems caps the ids accepted by one warm request.
	// Default: 1000
	MaxWarmItems int

	Logger zerolog.Logger
}

// Server routes HTTP requests.
type Server struct {
	pipeline *pipeline.Pipeline
	cache    *cache.Coordinator
	limiter  *ratelimit.Limiter
	config   Config
	logger   zerolog.Logger
	mux      *http.ServeMux
}

// New creates a server and registers its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache coordinator is required")
	}
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxWarmItems <= 0 {
		cfg.MaxWarmItems = 1000
	}

	s := &Server{
		pipeline: cfg.Pipeline,
		cache:    cfg.Cache,
		limiter:  cfg.Limiter,
		config:   cfg,
		logger:   logging.WithComponent(cfg.Logger, logging.ComponentServer),
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /items/{id}", s.handleItem)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.config.Metrics != nil {
		s.mux.Handle("GET /metrics", s.config.Metrics)
	}

	s.mux.HandleFunc("GET /admin/cache/stats", s.handleCacheStats)
	s.mux.HandleFunc("POST /admin/cache/stats/reset", s.handleCacheStatsReset)
	s.mux.HandleFunc("DELETE /admin/cache/keys/{key}", s.handleCacheDeleteKey)
	s.mux.HandleFunc("DELETE /admin/cache", s.handleCacheDelete)
	s.mux.HandleFunc("DELETE /admin/items/{id}", s.handleItemInvalidate)
	s.mux.HandleFunc("POST /admin/cache/warm", s.handleCacheWarm)
	s.mux.HandleFunc("GET /admin/breakers", s.handleBreakers)
	s.mux.HandleFunc("POST /admin/breakers/reset", s.handleBreakersReset)
	s.mux.HandleFunc("POST /admin/breakers/{name}/reset", s.handleBreakerReset)
	s.mux.HandleFunc("GET /admin/ratelimit", s.handleRateLimit)
}

// clientKey identifies the caller for rate limiting.
func (s *Server) clientKey(r *http.Request) string {
	if s.config.TrustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.config.RequestTimeout)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
