package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Sternrassler/render-gate/pkg/breaker"
	"github.com/Sternrassler/render-gate/pkg/cache"
	"github.com/Sternrassler/render-gate/pkg/pipeline"
)

const maxWarmBodyBytes = 1 << 20

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Deleted *int   `json:"deleted,omitempty"`
}

// WarmRequest is the body of POST /admin/cache/warm.
type WarmRequest struct {
	IDs         []string `json:"ids"`
	Concurrency int      `json:"concurrency,omitempty"`
}

// WarmResponse reports a warm run.
type WarmResponse struct {
	Warmed   int                   `json:"warmed"`
	Failed   int                   `json:"failed"`
	Duration string                `json:"duration"`
	Results  []pipeline.WarmResult `json:"results"`
}

// BreakersResponse is the body of GET /admin/breakers.
type BreakersResponse struct {
	Breakers []breaker.Record `json:"breakers"`
}

// RateLimitResponse is the body of GET /admin/ratelimit.
type RateLimitResponse struct {
	TrackedKeys   int     `json:"trackedKeys"`
	Limit         int     `json:"limit"`
	WindowSeconds float64 `json:"windowSeconds"`
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleCacheStatsReset(w http.ResponseWriter, r *http.Request) {
	s.cache.ResetStats()
	s.logger.Info().Msg("Cache statistics reset")
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "statistics reset"})
}

func (s *Server) handleCacheDeleteKey(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := cache.ValidateKey(key); err != nil {
		badRequest(w, err.Error())
		return
	}

	s.cache.Delete(r.Context(), key)
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "deleted " + key})
}

// handleCacheDelete deletes keys matching ?pattern=, or everything without it.
func (s *Server) handleCacheDelete(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		s.cache.Clear(r.Context())
		writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "cache cleared"})
		return
	}

	n, err := s.cache.DeletePattern(r.Context(), pattern)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Deleted: &n})
}

func (s *Server) handleItemInvalidate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := cache.ValidateKey(cache.NewKey(cache.KindPage, id).String()); err != nil {
		badRequest(w, err.Error())
		return
	}

	s.pipeline.Invalidate(r.Context(), id)
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "invalidated " + id})
}

func (s *Server) handleCacheWarm(w http.ResponseWriter, r *http.Request) {
	var req WarmRequest
	body := http.MaxBytesReader(w, r.Body, maxWarmBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid warm request body")
		return
	}
	if len(req.IDs) == 0 {
		badRequest(w, "ids must not be empty")
		return
	}
	if len(req.IDs) > s.config.MaxWarmItems {
		badRequest(w, "too many ids")
		return
	}

	startTime := time.Now()
	results := s.pipeline.Warm(r.Context(), req.IDs, req.Concurrency)

	resp := WarmResponse{
		Duration: time.Since(startTime).String(),
		Results:  results,
	}
	for _, result := range results {
		if result.Err != nil {
			resp.Failed++
		} else {
			resp.Warmed++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BreakersResponse{Breakers: s.pipeline.Breakers().Stats()})
}

func (s *Server) handleBreakersReset(w http.ResponseWriter, r *http.Request) {
	s.pipeline.Breakers().ResetAll()
	s.logger.Info().Msg("All circuit breakers reset")
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "all breakers reset"})
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.pipeline.Breakers().Reset(name) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Message: "unknown breaker " + name})
		return
	}
	s.logger.Info().Str("breaker", name).Msg("Circuit breaker reset")
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "reset " + name})
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RateLimitResponse{
		TrackedKeys:   s.limiter.Len(),
		Limit:         s.limiter.Limit(),
		WindowSeconds: s.limiter.Window().Seconds(),
	})
}
