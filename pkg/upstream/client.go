// Package upstream talks to the item catalogue service: the cheap precheck
// signal and the full item data used for rendering.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/render-gate/pkg/logging"
	"github.com/Sternrassler/render-gate/pkg/strategy"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Operation names, also used as breaker names by the pipeline.
const (
	OpPrecheck = "precheck"
	OpFetch    = "item"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL of the catalogue service, e.g. "http://catalog:8081".
	BaseURL string

	// UserAgent sent with every request.
	UserAgent string

	// Timeout bounds each HTTP request.
	// Default: 5 seconds
	Timeout time.Duration

	// MaxBodyBytes caps item payloads.
	// Default: 1 MiB
	MaxBodyBytes int64

	Logger zerolog.Logger
}

// DefaultConfig returns a default configuration for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		UserAgent:    "render-gate/1.0",
		Timeout:      5 * time.Second,
		MaxBodyBytes: 1 << 20,
		Logger:       zerolog.Nop(),
	}
}

// Client implements the precheck and fetch collaborators over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
}

// New creates a new upstream client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}

	defaults := DefaultConfig(cfg.BaseURL)
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaults.MaxBodyBytes
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: base,
		config:  cfg,
		logger:  logging.WithComponent(cfg.Logger, logging.ComponentUpstream),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Precheck fetches the cheap signal for id.
func (c *Client) Precheck(ctx context.Context, id string) (strategy.Signal, error) {
	body, err := c.get(ctx, OpPrecheck, "/items/"+url.PathEscape(id)+"/precheck")
	if err != nil {
		return strategy.Signal{}, err
	}

	var signal strategy.Signal
	if err := json.Unmarshal(body, &signal); err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return strategy.Signal{}, &StatusError{
			Op:         OpPrecheck,
			StatusCode: http.StatusOK,
			Class:      ErrorClassDecode,
			Message:    "invalid precheck body",
			Err:        err,
		}
	}
	if signal.ItemID == "" {
		signal.ItemID = id
	}
	return signal, nil
}

// Fetch returns the raw item data for id.
func (c *Client) Fetch(ctx context.Context, id string) ([]byte, error) {
	return c.get(ctx, OpFetch, "/items/"+url.PathEscape(id))
}

func (c *Client) get(ctx context.Context, op, path string) ([]byte, error) {
	startTime := time.Now()
	defer func() {
		upstreamRequestDuration.WithLabelValues(op).Observe(time.Since(startTime).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.String()+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		class := classify(nil, err)
		upstreamErrorsTotal.WithLabelValues(string(class)).Inc()
		upstreamRequestsTotal.WithLabelValues(op, "network_error").Inc()
		c.logger.Warn().Err(err).Str("op", op).Str("path", path).Msg("Upstream request failed")
		return nil, &StatusError{Op: op, Class: class, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	upstreamRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := classify(resp, nil)
		upstreamErrorsTotal.WithLabelValues(string(class)).Inc()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

		c.logger.Warn().
			Str("op", op).
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Upstream request error")

		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Class: class, Message: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodyBytes+1))
	if err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Class: ErrorClassNetwork, Message: "read body", Err: err}
	}
	if int64(len(body)) > c.config.MaxBodyBytes {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &StatusError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Class:      ErrorClassDecode,
			Message:    fmt.Sprintf("body exceeds %d bytes", c.config.MaxBodyBytes),
		}
	}

	c.logger.Debug().Str("op", op).Str("path", path).Int("bytes", len(body)).Msg("Upstream request complete")
	return body, nil
}
