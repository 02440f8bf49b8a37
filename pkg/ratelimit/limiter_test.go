package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/render-gate/internal/testutil"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	if cfg.Now == nil {
		cfg.Now = clock.Now
	}
	l := New(cfg)
	t.Cleanup(l.Close)
	return l, clock
}

func TestNew_Defaults(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})

	if l.config.WindowSize != 60*time.Second {
		t.Errorf("WindowSize = %v, want 60s", l.config.WindowSize)
	}
	if l.Limit() != 100 {
		t.Errorf("Limit = %d, want 100", l.Limit())
	}
}

func TestLimiter_Admit_FixedWindow(t *testing.T) {
	l, clock := newTestLimiter(t, Config{WindowSize: 60 * time.Second, MaxRequests: 3})

	for i, wantRemaining := range []int{2, 1, 0} {
		d := l.Admit("10.0.0.1")
		if !d.Allowed {
			t.Fatalf("request %d rejected, want allowed", i+1)
		}
		if d.Remaining != wantRemaining {
			t.Errorf("request %d Remaining = %d, want %d", i+1, d.Remaining, wantRemaining)
		}
		if d.Limit != 3 {
			t.Errorf("request %d Limit = %d, want 3", i+1, d.Limit)
		}
	}

	clock.Advance(1500 * time.Millisecond)

	d := l.Admit("10.0.0.1")
	if d.Allowed {
		t.Fatal("4th request allowed, want rejected")
	}
	if d.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", d.Remaining)
	}
	if got := d.RetryAfterSeconds(); got != 59 {
		t.Errorf("RetryAfterSeconds = %d, want 59", got)
	}
	if got := d.RetryAfterSeconds(); got <= 0 || got > 60 {
		t.Errorf("RetryAfterSeconds = %d, want in (0, 60]", got)
	}

	clock.Advance(58500 * time.Millisecond)

	d = l.Admit("10.0.0.1")
	if !d.Allowed {
		t.Fatal("request in next window rejected, want allowed")
	}
	if d.Remaining != 2 {
		t.Errorf("Remaining in new window = %d, want 2", d.Remaining)
	}
}

func TestLimiter_Admit_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxRequests: 1})

	if !l.Admit("a").Allowed {
		t.Fatal("first request for a rejected")
	}
	if l.Admit("a").Allowed {
		t.Error("second request for a allowed")
	}
	if !l.Admit("b").Allowed {
		t.Error("first request for b rejected")
	}
}

func TestDecision_Seconds(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want int
	}{
		{"zero", 0, 0},
		{"negative", -time.Second, 0},
		{"sub-second rounds up", 10 * time.Millisecond, 1},
		{"exact", 2 * time.Second, 2},
		{"fraction rounds up", 2001 * time.Millisecond, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decision{RetryAfter: tt.d, ResetAfter: tt.d}
			if got := d.RetryAfterSeconds(); got != tt.want {
				t.Errorf("RetryAfterSeconds = %d, want %d", got, tt.want)
			}
			if got := d.ResetSeconds(); got != tt.want {
				t.Errorf("ResetSeconds = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLimiter_Sweep(t *testing.T) {
	l, clock := newTestLimiter(t, Config{WindowSize: 10 * time.Second, MaxRequests: 5})

	l.Admit("old")
	clock.Advance(6 * time.Second)
	l.Admit("young")

	if got := l.Sweep(); got != 0 {
		t.Errorf("Sweep before expiry purged %d, want 0", got)
	}

	clock.Advance(5 * time.Second)
	if got := l.Sweep(); got != 1 {
		t.Errorf("Sweep purged %d, want 1", got)
	}
	if got := l.Len(); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}

	clock.Advance(10 * time.Second)
	l.Sweep()
	if got := l.Len(); got != 0 {
		t.Errorf("Len = %d, want 0", got)
	}
}

func TestLimiter_Reset(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxRequests: 1})

	l.Admit("a")
	l.Admit("b")
	l.Reset()

	if got := l.Len(); got != 0 {
		t.Errorf("Len = %d, want 0", got)
	}
	if !l.Admit("a").Allowed {
		t.Error("request after Reset rejected")
	}
}

func TestLimiter_StartClose(t *testing.T) {
	l := New(Config{WindowSize: 10 * time.Millisecond, MaxRequests: 1})
	l.Start()
	l.Admit("k")

	deadline := time.Now().Add(2 * time.Second)
	for l.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("background sweep never purged the expired window")
		}
		time.Sleep(5 * time.Millisecond)
	}

	l.Close()
	l.Close()
}

func TestLimiter_CloseWithoutStart(t *testing.T) {
	l := New(Config{})
	l.Close()
	l.Start()
}

func TestLimiter_Admit_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxRequests: 100})

	const goroutines = 20
	const perKey = 150
	keys := []string{"k1", "k2", "k3", "k4"}

	var mu sync.Mutex
	allowed := make(map[string]int)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perKey; i++ {
				key := keys[(g+i)%len(keys)]
				if l.Admit(key).Allowed {
					mu.Lock()
					allowed[key]++
					mu.Unlock()
				}
			}
		}(g)
	}
	wg.Wait()

	for _, key := range keys {
		if allowed[key] != 100 {
			t.Errorf("allowed[%s] = %d, want exactly 100", key, allowed[key])
		}
	}
}

func BenchmarkLimiter_Admit(b *testing.B) {
	l := New(Config{MaxRequests: 1 << 30})
	defer l.Close()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			l.Admit(fmt.Sprintf("client-%d", i%1024))
			i++
		}
	})
}
