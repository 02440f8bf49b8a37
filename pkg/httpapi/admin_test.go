package httpapi

import (
	"net/http"
	"testing"

	"github.com/Sternrassler/render-gate/internal/testutil"
	"github.com/Sternrassler/render-gate/pkg/cache"
	"github.com/Sternrassler/render-gate/pkg/pipeline"
)

func TestAdmin_CacheStats(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	ts.do(t, http.MethodGet, "/items/1", "")
	ts.do(t, http.MethodGet, "/items/1", "")

	w := ts.do(t, http.MethodGet, "/admin/cache/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	stats := decodeBody[cache.Stats](t, w)
	if stats.Hits == 0 || stats.LocalEntries == 0 {
		t.Errorf("stats = %+v, want hits and entries", stats)
	}

	if w := ts.do(t, http.MethodPost, "/admin/cache/stats/reset", ""); w.Code != http.StatusOK {
		t.Fatalf("reset status = %d, want 200", w.Code)
	}
	stats = decodeBody[cache.Stats](t, ts.do(t, http.MethodGet, "/admin/cache/stats", ""))
	if stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("stats after reset = %+v, want zero counters", stats)
	}
	if stats.LocalEntries == 0 {
		t.Error("reset removed entries, want counters only")
	}
}

func TestAdmin_DeleteKey(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	ts.do(t, http.MethodGet, "/items/1", "")

	if w := ts.do(t, http.MethodDelete, "/admin/cache/keys/page:1", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/items/1", ""); w.Header().Get(HeaderCache) != "MISS" {
		t.Errorf("X-Cache after delete = %q, want MISS", w.Header().Get(HeaderCache))
	}

	if w := ts.do(t, http.MethodDelete, "/admin/cache/keys/bad%20key", ""); w.Code != http.StatusBadRequest {
		t.Errorf("invalid key status = %d, want 400", w.Code)
	}
}

func TestAdmin_DeletePattern(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	ts.do(t, http.MethodGet, "/items/1", "")
	ts.do(t, http.MethodGet, "/items/2", "")

	w := ts.do(t, http.MethodDelete, "/admin/cache?pattern=page:*", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	resp := decodeBody[successResponse](t, w)
	if resp.Deleted == nil || *resp.Deleted != 2 {
		t.Errorf("deleted = %v, want 2", resp.Deleted)
	}

	// Decisions survive a page-only purge.
	if w := ts.do(t, http.MethodGet, "/items/1", ""); w.Header().Get(HeaderCache) != "MISS" {
		t.Errorf("X-Cache = %q, want MISS", w.Header().Get(HeaderCache))
	}
	if n := ts.mock.RequestCount("/items/1/precheck"); n != 1 {
		t.Errorf("precheck called %d times, want 1", n)
	}

	if w := ts.do(t, http.MethodDelete, "/admin/cache?pattern=page:[", ""); w.Code != http.StatusBadRequest {
		t.Errorf("malformed pattern status = %d, want 400", w.Code)
	}
}

func TestAdmin_Clear(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	ts.do(t, http.MethodGet, "/items/1", "")

	if w := ts.do(t, http.MethodDelete, "/admin/cache", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	stats := decodeBody[cache.Stats](t, ts.do(t, http.MethodGet, "/admin/cache/stats", ""))
	if stats.LocalEntries != 0 {
		t.Errorf("local entries = %d, want 0", stats.LocalEntries)
	}
}

func TestAdmin_InvalidateItem(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	ts.do(t, http.MethodGet, "/items/1", "")

	if w := ts.do(t, http.MethodDelete, "/admin/items/1", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	ts.do(t, http.MethodGet, "/items/1", "")
	if n := ts.mock.RequestCount("/items/1/precheck"); n != 2 {
		t.Errorf("precheck called %d times, want 2", n)
	}
	if n := ts.mock.RequestCount("/items/1"); n != 2 {
		t.Errorf("item fetched %d times, want 2", n)
	}
}

func TestAdmin_Warm(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	ts.mock.SetItem("gone", testutil.NewNotFoundResponse())

	w := ts.do(t, http.MethodPost, "/admin/cache/warm", `{"ids":["1","2","gone"],"concurrency":2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	resp := decodeBody[WarmResponse](t, w)
	if resp.Warmed != 2 || resp.Failed != 1 {
		t.Errorf("warmed/failed = %d/%d, want 2/1", resp.Warmed, resp.Failed)
	}
	if len(resp.Results) != 3 || resp.Results[2].ID != "gone" || resp.Results[2].Error == "" {
		t.Errorf("results = %+v", resp.Results)
	}

	if w := ts.do(t, http.MethodGet, "/items/2", ""); w.Header().Get(HeaderCache) != "HIT" {
		t.Errorf("X-Cache after warm = %q, want HIT", w.Header().Get(HeaderCache))
	}
	if n := ts.limiter.Len(); n != 1 {
		t.Errorf("tracked keys = %d, want 1 (warm bypasses the limiter)", n)
	}
}

func TestAdmin_WarmBadRequest(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"empty ids", `{"ids":[]}`},
		{"malformed", `{"ids":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := ts.do(t, http.MethodPost, "/admin/cache/warm", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestAdmin_Breakers(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp := decodeBody[BreakersResponse](t, ts.do(t, http.MethodGet, "/admin/breakers", ""))
	if len(resp.Breakers) != 2 {
		t.Fatalf("breakers = %d, want 2", len(resp.Breakers))
	}
	names := map[string]bool{}
	for _, record := range resp.Breakers {
		names[record.Name] = true
	}
	if !names[pipeline.BreakerPrecheck] || !names[pipeline.BreakerItem] {
		t.Errorf("breaker names = %v", names)
	}

	if w := ts.do(t, http.MethodPost, "/admin/breakers/reset", ""); w.Code != http.StatusOK {
		t.Errorf("reset all status = %d, want 200", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/admin/breakers/nope/reset", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown breaker status = %d, want 404", w.Code)
	}
}

func TestAdmin_RateLimit(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	ts.do(t, http.MethodGet, "/items/1", "")

	resp := decodeBody[RateLimitResponse](t, ts.do(t, http.MethodGet, "/admin/ratelimit", ""))
	if resp.TrackedKeys != 1 || resp.Limit != 100 || resp.WindowSeconds != 60 {
		t.Errorf("ratelimit = %+v", resp)
	}
}

func TestAdmin_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	if w := ts.do(t, http.MethodGet, "/admin/breakers/reset", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}
