package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/Sternrassler/render-gate/pkg/pipeline"
	"github.com/Sternrassler/render-gate/pkg/upstream"
)

// Stable error codes returned in JSON bodies.
const (
	CodeRateLimited        = "RATE_LIMITED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeUpstreamError      = "UPSTREAM_ERROR"
	CodeRenderError        = "RENDER_ERROR"
	CodeInvalidItem        = "INVALID_ITEM"
	CodeNotFound           = "NOT_FOUND"
	CodeTimeout            = "TIMEOUT"
	CodeBadRequest         = "BAD_REQUEST"
	CodeInternal           = "INTERNAL_ERROR"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Success    bool   `json:"success"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// errorStatus maps a pipeline error to a status code and error body.
func errorStatus(err error) (int, ErrorResponse) {
	var (
		rateLimitErr *pipeline.RateLimitError
		upstreamErr  *pipeline.UpstreamError
		renderErr    *pipeline.RenderError
	)

	switch {
	case errors.As(err, &rateLimitErr):
		return http.StatusTooManyRequests, ErrorResponse{
			Code:       CodeRateLimited,
			Message:    "Too many requests, please retry later",
			RetryAfter: rateLimitErr.Decision.RetryAfterSeconds(),
		}
	case errors.Is(err, pipeline.ErrInvalidItemID):
		return http.StatusBadRequest, ErrorResponse{Code: CodeInvalidItem, Message: "Invalid item id"}
	case errors.Is(err, pipeline.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, ErrorResponse{Code: CodeServiceUnavailable, Message: "Item service temporarily unavailable"}
	case errors.Is(err, upstream.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Message: "Item not found"}
	case errors.As(err, &upstreamErr):
		return http.StatusServiceUnavailable, ErrorResponse{Code: CodeUpstreamError, Message: "Failed to load item data"}
	case errors.As(err, &renderErr):
		return http.StatusServiceUnavailable, ErrorResponse{Code: CodeRenderError, Message: "Failed to render page"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{Code: CodeTimeout, Message: "Request timed out"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Code: CodeInternal, Message: "Internal server error"}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		s.logger.Debug().Str("path", r.URL.Path).Msg("Client went away")
		return
	}

	status, body := errorStatus(err)

	var rateLimitErr *pipeline.RateLimitError
	if errors.As(err, &rateLimitErr) {
		setRateLimitHeaders(w.Header(), rateLimitErr.Decision)
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfter))
	}

	event := s.logger.Warn()
	if status == http.StatusTooManyRequests || status == http.StatusBadRequest || status == http.StatusNotFound {
		event = s.logger.Debug()
	}
	event.Err(err).
		Str("path", r.URL.Path).
		Int("status", status).
		Str("code", body.Code).
		Msg("Request failed")

	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: CodeBadRequest, Message: message})
}
