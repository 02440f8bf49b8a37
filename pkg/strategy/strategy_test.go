package strategy

import (
	"errors"
	"strings"
	"testing"
)

func TestEngine_Decide(t *testing.T) {
	e := NewEngine(DefaultPolicies())

	tests := []struct {
		name         string
		signal       Signal
		wantStrategy RenderStrategy
		wantEnabled  bool
		wantTTL      int
		wantReason   string
	}{
		{
			name:         "seckill disables cache",
			signal:       Signal{ItemID: "SK001", IsSeckill: true},
			wantStrategy: StrategyCSR,
			wantReason:   "realtime stock",
		},
		{
			name:         "seckill wins over hot and low stock",
			signal:       Signal{ItemID: "x", IsSeckill: true, IsHot: true, StockLevel: StockLow},
			wantStrategy: StrategyCSR,
			wantReason:   "realtime stock",
		},
		{
			name:         "hot with low stock streams",
			signal:       Signal{ItemID: "HOT1", IsHot: true, StockLevel: StockLow},
			wantStrategy: StrategyStreaming,
			wantEnabled:  true,
			wantTTL:      30,
			wantReason:   "hot item, low stock",
		},
		{
			name:         "hot",
			signal:       Signal{ItemID: "HOT777", IsHot: true, StockLevel: StockNormal},
			wantStrategy: StrategySSR,
			wantEnabled:  true,
			wantTTL:      60,
			wantReason:   "hot item",
		},
		{
			name:         "low stock alone is default",
			signal:       Signal{ItemID: "42", StockLevel: StockLow},
			wantStrategy: StrategySSR,
			wantEnabled:  true,
			wantTTL:      300,
			wantReason:   "default",
		},
		{
			name:         "default",
			signal:       Signal{ItemID: "42"},
			wantStrategy: StrategySSR,
			wantEnabled:  true,
			wantTTL:      300,
			wantReason:   "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Decide(tt.signal)
			if d.RenderStrategy != tt.wantStrategy {
				t.Errorf("RenderStrategy = %q, want %q", d.RenderStrategy, tt.wantStrategy)
			}
			if d.CachePolicy.Enabled != tt.wantEnabled || d.CachePolicy.TTLSeconds != tt.wantTTL {
				t.Errorf("CachePolicy = %+v, want enabled=%v ttl=%d", d.CachePolicy, tt.wantEnabled, tt.wantTTL)
			}
			if d.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", d.Reason, tt.wantReason)
			}
			if d.Metadata != tt.signal {
				t.Errorf("Metadata = %+v, want %+v", d.Metadata, tt.signal)
			}
			if d.Degraded {
				t.Error("Degraded = true for a real signal")
			}
		})
	}
}

func TestNewEngine_CustomPolicies(t *testing.T) {
	e := NewEngine(Policies{HotTTL: 90})

	if got := e.Decide(Signal{IsHot: true}).CachePolicy.TTLSeconds; got != 90 {
		t.Errorf("hot TTL = %d, want 90", got)
	}
	if got := e.Policies().DefaultTTL; got != 300 {
		t.Errorf("DefaultTTL = %d, want 300", got)
	}
}

func TestFallbackSignal(t *testing.T) {
	tests := []struct {
		id          string
		wantSeckill bool
		wantHot     bool
	}{
		{"SK001", true, false},
		{"sk-42", true, false},
		{"summer-seckill-7", true, false},
		{"HOT777", false, true},
		{"hot-1", false, true},
		{"12345", false, false},
		{"ASK1", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			s := FallbackSignal(tt.id)
			if s.ItemID != tt.id {
				t.Errorf("ItemID = %q, want %q", s.ItemID, tt.id)
			}
			if s.IsSeckill != tt.wantSeckill || s.IsHot != tt.wantHot {
				t.Errorf("FallbackSignal(%q) = %+v, want seckill=%v hot=%v", tt.id, s, tt.wantSeckill, tt.wantHot)
			}
		})
	}
}

func TestEngine_DecideFallback(t *testing.T) {
	e := NewEngine(DefaultPolicies())

	d := e.DecideFallback("SK001", errors.New("circuit open"))
	if d.RenderStrategy != StrategyCSR || d.CachePolicy.Enabled {
		t.Errorf("decision = %+v, want csr without cache", d)
	}
	if !d.Degraded {
		t.Error("Degraded = false for fallback decision")
	}
	if !strings.HasPrefix(d.Reason, FallbackReasonPrefix) {
		t.Errorf("Reason = %q, want %q prefix", d.Reason, FallbackReasonPrefix)
	}
	if !strings.Contains(d.Reason, "circuit open") {
		t.Errorf("Reason = %q, want cause included", d.Reason)
	}

	d = e.DecideFallback("plain", nil)
	if d.Reason != "fallback:default" {
		t.Errorf("Reason = %q, want %q", d.Reason, "fallback:default")
	}
	if d.RenderStrategy != StrategySSR || d.CachePolicy.TTLSeconds != 300 {
		t.Errorf("decision = %+v, want ssr/300", d)
	}
}
