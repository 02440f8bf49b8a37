// Package pipeline gates every page request through admission control, the
// two-tier cache, the strategy engine and breaker-protected upstream calls.
//
// Request flow:
//  1. Rate limiter admission for the client key.
//  2. page:<id> lookup in the cache coordinator.
//  3. On a miss, one build per id runs at a time (single-flight) on a context
//     detached from the caller: decide (cached decision, precheck or id
//     fallback), fetch item data, render, cache according to the decision.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/render-gate/pkg/breaker"
	"github.com/Sternrassler/render-gate/pkg/cache"
	"github.com/Sternrassler/render-gate/pkg/logging"
	"github.com/Sternrassler/render-gate/pkg/ratelimit"
	"github.com/Sternrassler/render-gate/pkg/strategy"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Breaker names for the two upstream dependencies.
const (
	BreakerPrecheck = "precheck"
	BreakerItem     = "item"
)

const tracerName = "github.com/Sternrassler/render-gate/pkg/pipeline"

// Renderer turns item data into a page for a decision.
type Renderer interface {
	Render(ctx context.Context, decision strategy.Decision, data []byte) ([]byte, error)
}

// UpstreamFetcher returns raw item data.
type UpstreamFetcher interface {
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// Prechecker returns the cheap signal used to pick a strategy.
type Prechecker interface {
	Precheck(ctx context.Context, id string) (strategy.Signal, error)
}

// Config holds the pipeline dependencies.
type Config struct {
	Limiter    *ratelimit.Limiter
	Cache      *cache.Coordinator
	Breakers   *breaker.Registry
	Engine     *strategy.Engine
	Prechecker Prechecker
	Fetcher    UpstreamFetcher
	Renderer   Renderer

	// WarmConcurrency is the default worker count for Warm.
	// Default: 4
	WarmConcurrency int

	// WarmTimeout bounds each warmed item.
	// Default: 15 seconds
	WarmTimeout time.Duration

	Logger         zerolog.Logger
	TracerProvider trace.TracerProvider
}

// Request is one page request.
type Request struct {
	ID        string
	ClientKey string
}

// Response is a served page.
type Response struct {
	ID        string
	Body      []byte
	Decision  strategy.Decision
	CacheHit  bool
	RateLimit ratelimit.Decision
}

// storedPage is the cached form of a rendered page.
type storedPage struct {
	Decision   strategy.Decision `json:"decision"`
	Body       []byte            `json:"body"`
	RenderedAt time.Time         `json:"renderedAt"`
}

type builtPage struct {
	decision strategy.Decision
	body     []byte
	cached   bool
}

// Pipeline is the request pipeline.
type Pipeline struct {
	limiter    *ratelimit.Limiter
	cache      *cache.Coordinator
	breakers   *breaker.Registry
	engine     *strategy.Engine
	prechecker Prechecker
	fetcher    UpstreamFetcher
	renderer   Renderer
	config     Config

	group  singleflight.Group
	tracer trace.Tracer
	logger zerolog.Logger
}

// New creates a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache coordinator is required")
	}
	if cfg.Prechecker == nil {
		return nil, fmt.Errorf("prechecker is required")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("upstream fetcher is required")
	}
	if cfg.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}

	if cfg.Breakers == nil {
		cfg.Breakers = breaker.NewRegistry(breaker.DefaultConfig())
	}
	// Both upstream breakers are listed before the first request.
	cfg.Breakers.Get(BreakerPrecheck)
	cfg.Breakers.Get(BreakerItem)
	if cfg.Engine == nil {
		cfg.Engine = strategy.NewEngine(strategy.DefaultPolicies())
	}
	if cfg.WarmConcurrency <= 0 {
		cfg.WarmConcurrency = 4
	}
	if cfg.WarmTimeout <= 0 {
		cfg.WarmTimeout = 15 * time.Second
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}

	return &Pipeline{
		limiter:    cfg.Limiter,
		cache:      cfg.Cache,
		breakers:   cfg.Breakers,
		engine:     cfg.Engine,
		prechecker: cfg.Prechecker,
		fetcher:    cfg.Fetcher,
		renderer:   cfg.Renderer,
		config:     cfg,
		tracer:     cfg.TracerProvider.Tracer(tracerName),
		logger:     logging.WithComponent(cfg.Logger, logging.ComponentPipeline),
	}, nil
}

// Breakers returns the breaker registry used for upstream calls.
func (p *Pipeline) Breakers() *breaker.Registry {
	return p.breakers
}

// Handle serves one page request.
func (p *Pipeline) Handle(ctx context.Context, req Request) (*Response, error) {
	startTime := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.Handle", trace.WithAttributes(
		attribute.String("item.id", req.ID),
	))
	defer span.End()

	resp, outcome, err := p.handle(ctx, req)

	requestsTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}

	cacheResult := "miss"
	if resp.CacheHit {
		cacheResult = "hit"
	}
	requestDuration.WithLabelValues(cacheResult).Observe(time.Since(startTime).Seconds())
	span.SetAttributes(
		attribute.Bool("cache.hit", resp.CacheHit),
		attribute.String("render.strategy", string(resp.Decision.RenderStrategy)),
		attribute.Bool("decision.degraded", resp.Decision.Degraded),
	)
	return resp, nil
}

func (p *Pipeline) handle(ctx context.Context, req Request) (*Response, string, error) {
	pageKey := cache.NewKey(cache.KindPage, req.ID).String()
	if req.ID == "" || cache.ValidateKey(pageKey) != nil {
		return nil, outcomeInvalid, fmt.Errorf("%w: %q", ErrInvalidItemID, req.ID)
	}

	limit := p.limiter.Admit(req.ClientKey)
	if !limit.Allowed {
		p.logger.Debug().
			Str("client", req.ClientKey).
			Int("retry_after", limit.RetryAfterSeconds()).
			Msg("Request rejected by rate limiter")
		return nil, outcomeRateLimited, &RateLimitError{Decision: limit}
	}

	if page, ok := p.cachedPage(ctx, pageKey); ok {
		return &Response{
			ID:        req.ID,
			Body:      page.Body,
			Decision:  page.Decision,
			CacheHit:  true,
			RateLimit: limit,
		}, outcomeHit, nil
	}

	// The build must finish even if this caller goes away, so other waiters
	// and the shared counters see a complete result.
	detached := context.WithoutCancel(ctx)
	ch := p.group.DoChan(pageKey, func() (any, error) {
		return p.build(detached, req.ID)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, outcomeCanceled, ctx.Err()
	}
	if res.Shared {
		sharedMissesTotal.Inc()
	}
	if res.Err != nil {
		return nil, outcomeFor(res.Err), res.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, outcomeCanceled, err
	}

	built := res.Val.(*builtPage)
	return &Response{
		ID:        req.ID,
		Body:      built.body,
		Decision:  built.decision,
		CacheHit:  false,
		RateLimit: limit,
	}, outcomeMiss, nil
}

// Invalidate removes every cached artifact for id.
func (p *Pipeline) Invalidate(ctx context.Context, id string) {
	for _, kind := range []string{cache.KindPage, cache.KindPrecheck, cache.KindItem} {
		p.cache.Delete(ctx, cache.NewKey(kind, id).String())
	}
	p.logger.Info().Str("item_id", id).Msg("Invalidated item")
}

func (p *Pipeline) cachedPage(ctx context.Context, key string) (storedPage, bool) {
	value, ok := p.cache.Get(ctx, key)
	if !ok {
		return storedPage{}, false
	}

	var page storedPage
	if err := json.Unmarshal(value, &page); err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("Dropping undecodable cached page")
		p.cache.Delete(ctx, key)
		return storedPage{}, false
	}
	return page, true
}

// build runs decide, fetch, render and cache for one id.
func (p *Pipeline) build(ctx context.Context, id string) (*builtPage, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.build", trace.WithAttributes(
		attribute.String("item.id", id),
	))
	defer span.End()

	decision := p.decide(ctx, id)
	ttl := time.Duration(decision.CachePolicy.TTLSeconds) * time.Second

	data, err := p.fetchItem(ctx, id, decision, ttl)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	body, err := p.renderer.Render(ctx, decision, data)
	if err != nil {
		span.RecordError(err)
		p.logger.Error().Err(err).Str("item_id", id).Msg("Render failed")
		return nil, &RenderError{ID: id, Err: err}
	}
	rendersTotal.WithLabelValues(string(decision.RenderStrategy)).Inc()

	built := &builtPage{decision: decision, body: body}
	if cacheable(decision) {
		built.cached = p.store(ctx, cache.NewKey(cache.KindPage, id).String(), storedPage{
			Decision:   decision,
			Body:       body,
			RenderedAt: time.Now().UTC(),
		}, ttl)
	}

	p.logger.Debug().
		Str("item_id", id).
		Str("strategy", string(decision.RenderStrategy)).
		Str("reason", decision.Reason).
		Bool("cached", built.cached).
		Msg("Page built")

	return built, nil
}

// decide returns the cached decision, a fresh one from the precheck, or a
// fallback decision when the precheck is unavailable.
func (p *Pipeline) decide(ctx context.Context, id string) strategy.Decision {
	key := cache.NewKey(cache.KindPrecheck, id).String()

	if value, ok := p.cache.Get(ctx, key); ok {
		var decision strategy.Decision
		if err := json.Unmarshal(value, &decision); err == nil {
			return decision
		}
		p.cache.Delete(ctx, key)
	}

	signal, err := breaker.Do(ctx, p.breakers.Get(BreakerPrecheck), func(ctx context.Context) (strategy.Signal, error) {
		return p.prechecker.Precheck(ctx, id)
	})
	if err != nil {
		fallbackDecisionsTotal.Inc()
		decision := p.engine.DecideFallback(id, err)
		p.logger.Warn().
			Err(err).
			Str("item_id", id).
			Str("strategy", string(decision.RenderStrategy)).
			Msg("Precheck unavailable - using fallback decision")
		return decision
	}
	if signal.ItemID == "" {
		signal.ItemID = id
	}

	decision := p.engine.Decide(signal)
	if decision.CachePolicy.Enabled {
		p.store(ctx, key, decision, time.Duration(decision.CachePolicy.TTLSeconds)*time.Second)
	}
	return decision
}

// fetchItem returns item data from the cache when the decision allows
// caching, otherwise through the item breaker.
func (p *Pipeline) fetchItem(ctx context.Context, id string, decision strategy.Decision, ttl time.Duration) ([]byte, error) {
	key := cache.NewKey(cache.KindItem, id).String()

	if decision.CachePolicy.Enabled {
		if data, ok := p.cache.Get(ctx, key); ok {
			return data, nil
		}
	}

	data, err := breaker.Do(ctx, p.breakers.Get(BreakerItem), func(ctx context.Context) ([]byte, error) {
		return p.fetcher.Fetch(ctx, id)
	})
	if err != nil {
		if errors.Is(err, breaker.ErrCircuitOpen) {
			p.logger.Warn().Str("item_id", id).Msg("Item breaker open - rejecting request")
			return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
		}
		p.logger.Error().Err(err).Str("item_id", id).Msg("Item fetch failed")
		return nil, &UpstreamError{Op: "fetch", ID: id, Err: err}
	}

	if cacheable(decision) {
		if err := p.cache.Set(ctx, key, data, ttl); err != nil {
			p.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache item data")
		}
	}
	return data, nil
}

// cacheable reports whether results built from decision may be stored.
// Degraded decisions are never stored so a recovered precheck takes effect
// on the next request.
func cacheable(decision strategy.Decision) bool {
	return decision.CachePolicy.Enabled && !decision.Degraded
}

func (p *Pipeline) store(ctx context.Context, key string, v any, ttl time.Duration) bool {
	value, err := json.Marshal(v)
	if err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("Failed to encode cache value")
		return false
	}
	if err := p.cache.Set(ctx, key, value, ttl); err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache value")
		return false
	}
	return true
}

func outcomeFor(err error) string {
	var upstreamErr *UpstreamError
	var renderErr *RenderError
	switch {
	case errors.Is(err, ErrServiceUnavailable):
		return outcomeUnavailable
	case errors.As(err, &upstreamErr):
		return outcomeUpstreamError
	case errors.As(err, &renderErr):
		return outcomeRenderError
	default:
		return outcomeUpstreamError
	}
}
