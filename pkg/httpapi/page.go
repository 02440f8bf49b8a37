package httpapi

import (
	"net/http"
	"strconv"

	"github.com/Sternrassler/render-gate/pkg/pipeline"
	"github.com/Sternrassler/render-gate/pkg/ratelimit"
)

// Response headers set on page requests.
const (
	HeaderCache              = "X-Cache"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRenderStrategy     = "X-Render-Strategy"
	HeaderStrategyReason     = "X-Strategy-Reason"
)

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	resp, err := s.pipeline.Handle(ctx, pipeline.Request{
		ID:        r.PathValue("id"),
		ClientKey: s.clientKey(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	h := w.Header()
	setRateLimitHeaders(h, resp.RateLimit)
	if resp.CacheHit {
		h.Set(HeaderCache, "HIT")
	} else {
		h.Set(HeaderCache, "MISS")
	}
	h.Set(HeaderRenderStrategy, string(resp.Decision.RenderStrategy))
	h.Set(HeaderStrategyReason, resp.Decision.Reason)
	h.Set("Content-Type", "text/html; charset=utf-8")

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.Body); err != nil {
		s.logger.Debug().Err(err).Str("item_id", resp.ID).Msg("Failed to write page")
	}
}

func setRateLimitHeaders(h http.Header, d ratelimit.Decision) {
	h.Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderRateLimitReset, strconv.Itoa(d.ResetSeconds()))
}
