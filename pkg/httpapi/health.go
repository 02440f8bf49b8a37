package httpapi

import (
	"net/http"
	"time"

	"github.com/Sternrassler/render-gate/pkg/breaker"
)

// Health statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp string      `json:"timestamp"`
	Cache     CacheHealth `json:"cache"`
	Breakers  []string    `json:"openBreakers"`
}

// CacheHealth reports the remote tier.
type CacheHealth struct {
	RemoteConfigured bool `json:"remoteConfigured"`
	RemoteAvailable  bool `json:"remoteAvailable"`
}

// handleHealth always answers 200; a degraded gateway still serves pages.
// Half-open breakers count as open until they close again.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.cache.Stats()

	open := []string{}
	for _, record := range s.pipeline.Breakers().Stats() {
		if record.State != breaker.StateClosed {
			open = append(open, record.Name)
		}
	}

	status := StatusOK
	if (stats.RemoteConfigured && !stats.RemoteAvailable) || len(open) > 0 {
		status = StatusDegraded
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Cache: CacheHealth{
			RemoteConfigured: stats.RemoteConfigured,
			RemoteAvailable:  stats.RemoteAvailable,
		},
		Breakers: open,
	})
}
