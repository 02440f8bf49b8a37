package breaker

import (
	"context"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCircuitBreaker_Metrics(t *testing.T) {
	cb, clock := newTestBreaker(t, "metrics-test", Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	if got := promtest.ToFloat64(breakerState.WithLabelValues("metrics-test")); got != float64(StateOpen) {
		t.Errorf("state gauge = %v, want %v", got, float64(StateOpen))
	}

	clock.Advance(time.Second)
	if err := cb.Execute(ctx, succeed); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if got := promtest.ToFloat64(breakerState.WithLabelValues("metrics-test")); got != float64(StateClosed) {
		t.Errorf("state gauge = %v, want %v", got, float64(StateClosed))
	}

	transitions := []struct{ from, to string }{
		{"closed", "open"},
		{"open", "half-open"},
		{"half-open", "closed"},
	}
	for _, tr := range transitions {
		if got := promtest.ToFloat64(breakerTransitionsTotal.WithLabelValues("metrics-test", tr.from, tr.to)); got != 1 {
			t.Errorf("transitions %s->%s = %v, want 1", tr.from, tr.to, got)
		}
	}
}
