package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/render-gate/internal/testutil"
	"github.com/Sternrassler/render-gate/pkg/breaker"
	"github.com/Sternrassler/render-gate/pkg/cache"
	"github.com/Sternrassler/render-gate/pkg/ratelimit"
	"github.com/Sternrassler/render-gate/pkg/strategy"
	"go.uber.org/atomic"
)

type fakePrechecker struct {
	mu      sync.Mutex
	signals map[string]strategy.Signal
	err     error
	calls   atomic.Int64
}

func (f *fakePrechecker) Precheck(_ context.Context, id string) (strategy.Signal, error) {
	f.calls.Inc()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return strategy.Signal{}, f.err
	}
	signal, ok := f.signals[id]
	if !ok {
		signal = strategy.Signal{ItemID: id, StockLevel: strategy.StockNormal}
	}
	return signal, nil
}

func (f *fakePrechecker) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeFetcher struct {
	mu      sync.Mutex
	err     error
	started chan struct{}
	release chan struct{}
	calls   atomic.Int64
}

func (f *fakeFetcher) Fetch(ctx context.Context, id string) ([]byte, error) {
	f.calls.Inc()
	f.mu.Lock()
	err, started, release := f.err, f.started, f.release
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf(`{"id":%q}`, id)), nil
}

func (f *fakeFetcher) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeFetcher) block() (started chan struct{}, release chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = make(chan struct{}, 1)
	f.release = make(chan struct{})
	return f.started, f.release
}

type fakeRenderer struct {
	err   error
	calls atomic.Int64
}

func (f *fakeRenderer) Render(_ context.Context, decision strategy.Decision, data []byte) ([]byte, error) {
	f.calls.Inc()
	if f.err != nil {
		return nil, f.err
	}
	return []byte(fmt.Sprintf("<%s>%s</%s>", decision.RenderStrategy, data, decision.RenderStrategy)), nil
}

type harness struct {
	pipeline   *Pipeline
	clock      *testutil.Clock
	cache      *cache.Coordinator
	limiter    *ratelimit.Limiter
	breakers   *breaker.Registry
	prechecker *fakePrechecker
	fetcher    *fakeFetcher
	renderer   *fakeRenderer
}

type harnessOptions struct {
	maxRequests      int
	failureThreshold int
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	clock := testutil.NewClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	local := cache.NewLocalTier(cache.LocalConfig{MaxEntries: 100, Now: clock.Now})
	coordinator := cache.NewCoordinator(local, cache.WithClock(clock.Now))
	t.Cleanup(coordinator.Close)

	if opts.maxRequests == 0 {
		opts.maxRequests = 100
	}
	limiter := ratelimit.New(ratelimit.Config{
		WindowSize:  60 * time.Second,
		MaxRequests: opts.maxRequests,
		Now:         clock.Now,
	})
	t.Cleanup(limiter.Close)

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: opts.failureThreshold,
		Timeout:          30 * time.Second,
		Now:              clock.Now,
	})

	h := &harness{
		clock:      clock,
		cache:      coordinator,
		limiter:    limiter,
		breakers:   breakers,
		prechecker: &fakePrechecker{signals: make(map[string]strategy.Signal)},
		fetcher:    &fakeFetcher{},
		renderer:   &fakeRenderer{},
	}

	p, err := New(Config{
		Limiter:    limiter,
		Cache:      coordinator,
		Breakers:   breakers,
		Engine:     strategy.NewEngine(strategy.DefaultPolicies()),
		Prechecker: h.prechecker,
		Fetcher:    h.fetcher,
		Renderer:   h.renderer,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.pipeline = p
	return h
}

func (h *harness) handle(t *testing.T, id string) *Response {
	t.Helper()
	resp, err := h.pipeline.Handle(context.Background(), Request{ID: id, ClientKey: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Handle(%q) failed: %v", id, err)
	}
	return resp
}

func TestNew_RequiresDependencies(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	full := Config{
		Limiter:    h.limiter,
		Cache:      h.cache,
		Prechecker: h.prechecker,
		Fetcher:    h.fetcher,
		Renderer:   h.renderer,
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"limiter", func(c *Config) { c.Limiter = nil }},
		{"cache", func(c *Config) { c.Cache = nil }},
		{"prechecker", func(c *Config) { c.Prechecker = nil }},
		{"fetcher", func(c *Config) { c.Fetcher = nil }},
		{"renderer", func(c *Config) { c.Renderer = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := full
			tt.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Errorf("New without %s succeeded", tt.name)
			}
		})
	}

	p, err := New(full)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if p.Breakers() == nil || p.config.WarmConcurrency != 4 {
		t.Errorf("defaults not applied: breakers=%v warm=%d", p.Breakers(), p.config.WarmConcurrency)
	}
}

func TestPipeline_Seckill_NeverCached(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.prechecker.signals["SK001"] = strategy.Signal{ItemID: "SK001", IsSeckill: true}

	first := h.handle(t, "SK001")
	if first.CacheHit {
		t.Error("first request was a cache hit")
	}
	if first.Decision.RenderStrategy != strategy.StrategyCSR || first.Decision.CachePolicy.Enabled {
		t.Errorf("decision = %+v, want csr with cache disabled", first.Decision)
	}

	h.clock.Advance(500 * time.Millisecond)

	second := h.handle(t, "SK001")
	if second.CacheHit {
		t.Error("second request was served from cache")
	}
	if got := h.renderer.calls.Load(); got != 2 {
		t.Errorf("renderer calls = %d, want 2", got)
	}
	if first.RateLimit.Remaining != 99 || second.RateLimit.Remaining != 98 {
		t.Errorf("remaining = %d then %d, want 99 then 98", first.RateLimit.Remaining, second.RateLimit.Remaining)
	}
	for _, kind := range []string{cache.KindPage, cache.KindPrecheck, cache.KindItem} {
		if _, ok := h.cache.Get(context.Background(), cache.NewKey(kind, "SK001").String()); ok {
			t.Errorf("%s:SK001 cached for a seckill item", kind)
		}
	}
}

func TestPipeline_HotLowStock_TTL(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.prechecker.signals["HOT777"] = strategy.Signal{ItemID: "HOT777", IsHot: true, StockLevel: strategy.StockLow}

	first := h.handle(t, "HOT777")
	if first.CacheHit {
		t.Error("first request was a cache hit")
	}
	if first.Decision.RenderStrategy != strategy.StrategyStreaming || first.Decision.CachePolicy.TTLSeconds != 30 {
		t.Fatalf("decision = %+v, want streaming with ttl 30", first.Decision)
	}

	h.clock.Advance(10 * time.Second)
	hit := h.handle(t, "HOT777")
	if !hit.CacheHit {
		t.Error("request at t+10s was not a cache hit")
	}
	if string(hit.Body) != string(first.Body) {
		t.Errorf("cached body = %q, want %q", hit.Body, first.Body)
	}
	if hit.Decision.RenderStrategy != strategy.StrategyStreaming {
		t.Errorf("cached strategy = %q, want streaming", hit.Decision.RenderStrategy)
	}

	h.clock.Advance(21 * time.Second)
	miss := h.handle(t, "HOT777")
	if miss.CacheHit {
		t.Error("request at t+31s was a cache hit")
	}
	if got := h.prechecker.calls.Load(); got != 2 {
		t.Errorf("precheck calls = %d, want 2 (re-decided after expiry)", got)
	}
	if got := h.renderer.calls.Load(); got != 2 {
		t.Errorf("renderer calls = %d, want 2", got)
	}
}

func TestPipeline_RateLimited(t *testing.T) {
	h := newHarness(t, harnessOptions{maxRequests: 1})

	h.handle(t, "1")

	_, err := h.pipeline.Handle(context.Background(), Request{ID: "1", ClientKey: "10.0.0.1"})
	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("err = %v, want *RateLimitError", err)
	}
	if rlErr.Decision.Allowed || rlErr.Decision.RetryAfterSeconds() != 60 {
		t.Errorf("Decision = %+v, want rejection with 60s retry", rlErr.Decision)
	}

	if _, err := h.pipeline.Handle(context.Background(), Request{ID: "1", ClientKey: "10.0.0.2"}); err != nil {
		t.Errorf("other client rejected: %v", err)
	}
}

func TestPipeline_PrecheckFailure_Fallback(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.prechecker.setErr(errors.New("precheck down"))

	resp := h.handle(t, "SK-flash-1")
	if !resp.Decision.Degraded {
		t.Error("Degraded = false for fallback decision")
	}
	if resp.Decision.RenderStrategy != strategy.StrategyCSR {
		t.Errorf("strategy = %q, want csr from id shape", resp.Decision.RenderStrategy)
	}

	resp = h.handle(t, "plain-1")
	if resp.Decision.RenderStrategy != strategy.StrategySSR || !resp.Decision.Degraded {
		t.Errorf("decision = %+v, want degraded ssr", resp.Decision)
	}
	for _, key := range []string{"precheck:plain-1", "page:plain-1", "item:plain-1"} {
		if _, ok := h.cache.Get(context.Background(), key); ok {
			t.Errorf("%s cached from a fallback decision", key)
		}
	}
}

func TestPipeline_PrecheckRecovery_NoStalePage(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.prechecker.setErr(errors.New("precheck down"))

	resp := h.handle(t, "flash-42")
	if resp.Decision.RenderStrategy != strategy.StrategySSR || !resp.Decision.Degraded {
		t.Fatalf("decision = %+v, want degraded ssr", resp.Decision)
	}

	h.prechecker.mu.Lock()
	h.prechecker.signals["flash-42"] = strategy.Signal{ItemID: "flash-42", IsSeckill: true}
	h.prechecker.mu.Unlock()
	h.prechecker.setErr(nil)
	h.clock.Advance(4 * time.Minute)

	resp = h.handle(t, "flash-42")
	if resp.CacheHit {
		t.Error("served a page cached from the fallback decision")
	}
	if resp.Decision.Degraded || resp.Decision.RenderStrategy != strategy.StrategyCSR {
		t.Errorf("decision = %+v, want csr from the recovered precheck", resp.Decision)
	}
}

func TestPipeline_PrecheckBreakerOpen_Fallback(t *testing.T) {
	h := newHarness(t, harnessOptions{failureThreshold: 1})
	h.prechecker.setErr(errors.New("precheck down"))

	h.handle(t, "a")
	if state := h.breakers.Get(BreakerPrecheck).State(); state != breaker.StateOpen {
		t.Fatalf("precheck breaker = %v, want open", state)
	}

	calls := h.prechecker.calls.Load()
	resp := h.handle(t, "b")
	if !resp.Decision.Degraded {
		t.Error("Degraded = false with open precheck breaker")
	}
	if got := h.prechecker.calls.Load(); got != calls {
		t.Errorf("precheck called %d times while open", got-calls)
	}
}

func TestPipeline_ItemBreakerOpen(t *testing.T) {
	h := newHarness(t, harnessOptions{failureThreshold: 1})
	h.fetcher.setErr(errors.New("connection refused"))

	_, err := h.pipeline.Handle(context.Background(), Request{ID: "1", ClientKey: "c"})
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("err = %v, want *UpstreamError", err)
	}
	if upstreamErr.ID != "1" {
		t.Errorf("UpstreamError.ID = %q, want 1", upstreamErr.ID)
	}

	_, err = h.pipeline.Handle(context.Background(), Request{ID: "2", ClientKey: "c"})
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("err = %v, want ErrServiceUnavailable", err)
	}
	if !errors.Is(err, breaker.ErrCircuitOpen) {
		t.Errorf("err = %v, want breaker.ErrCircuitOpen in chain", err)
	}
	if got := h.fetcher.calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
}

func TestPipeline_RenderError(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.renderer.err = errors.New("template exploded")

	_, err := h.pipeline.Handle(context.Background(), Request{ID: "1", ClientKey: "c"})
	var renderErr *RenderError
	if !errors.As(err, &renderErr) {
		t.Fatalf("err = %v, want *RenderError", err)
	}
	if _, ok := h.cache.Get(context.Background(), "page:1"); ok {
		t.Error("page cached after render failure")
	}
}

func TestPipeline_InvalidID(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	for _, id := range []string{"", "has space", "line\nbreak"} {
		_, err := h.pipeline.Handle(context.Background(), Request{ID: id, ClientKey: "c"})
		if !errors.Is(err, ErrInvalidItemID) {
			t.Errorf("Handle(%q) err = %v, want ErrInvalidItemID", id, err)
		}
	}
	if got := h.limiter.Len(); got != 0 {
		t.Errorf("limiter tracked %d keys for invalid requests", got)
	}
}

func TestPipeline_SingleFlight(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	started, release := h.fetcher.block()

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.pipeline.Handle(context.Background(), Request{ID: "42", ClientKey: "c"}); err != nil {
				errs <- err
			}
		}()
	}

	<-started
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Handle failed: %v", err)
	}
	if got := h.fetcher.calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
	if got := h.renderer.calls.Load(); got != 1 {
		t.Errorf("renderer calls = %d, want 1", got)
	}
	if got := h.prechecker.calls.Load(); got != 1 {
		t.Errorf("precheck calls = %d, want 1", got)
	}
}

func TestPipeline_CallerCanceled_BuildCompletes(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	started, release := h.fetcher.block()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.pipeline.Handle(ctx, Request{ID: "7", ClientKey: "c"})
		done <- err
	}()

	<-started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for h.renderer.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("detached build never finished")
		}
		time.Sleep(5 * time.Millisecond)
	}
	for {
		if _, ok := h.cache.Get(context.Background(), "page:7"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("page never cached after caller left")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if resp := h.handle(t, "7"); !resp.CacheHit {
		t.Error("request after detached build was not a cache hit")
	}
}

func TestPipeline_CorruptCachedPage(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	if err := h.cache.Set(context.Background(), "page:9", []byte("not json"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	resp := h.handle(t, "9")
	if resp.CacheHit {
		t.Error("corrupt page served as cache hit")
	}
	if got := h.renderer.calls.Load(); got != 1 {
		t.Errorf("renderer calls = %d, want 1", got)
	}
}

func TestPipeline_Invalidate(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.handle(t, "5")

	for _, kind := range []string{cache.KindPage, cache.KindPrecheck, cache.KindItem} {
		if _, ok := h.cache.Get(context.Background(), cache.NewKey(kind, "5").String()); !ok {
			t.Fatalf("%s:5 not cached after build", kind)
		}
	}

	h.pipeline.Invalidate(context.Background(), "5")

	for _, kind := range []string{cache.KindPage, cache.KindPrecheck, cache.KindItem} {
		if _, ok := h.cache.Get(context.Background(), cache.NewKey(kind, "5").String()); ok {
			t.Errorf("%s:5 still cached after Invalidate", kind)
		}
	}
}

func TestPipeline_CachedDecisionReused(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.handle(t, "11")

	h.cache.Delete(context.Background(), "page:11")
	h.handle(t, "11")

	if got := h.prechecker.calls.Load(); got != 1 {
		t.Errorf("precheck calls = %d, want 1 (decision cached)", got)
	}
	if got := h.fetcher.calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want 1 (item data cached)", got)
	}
	if got := h.renderer.calls.Load(); got != 2 {
		t.Errorf("renderer calls = %d, want 2", got)
	}
}
