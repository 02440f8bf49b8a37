// Package strategy turns a cheap upstream signal into a render decision.
package strategy

import (
	"strings"
)

// RenderStrategy selects how a page is produced.
type RenderStrategy string

// Render strategies.
const (
	StrategySSR       RenderStrategy = "ssr"
	StrategyCSR       RenderStrategy = "csr"
	StrategyStreaming RenderStrategy = "streaming"
)

// StockLevel values reported by the precheck.
const (
	StockLow    = "low"
	StockNormal = "normal"
)

// FallbackReasonPrefix marks decisions made without a real signal.
const FallbackReasonPrefix = "fallback:"

// Signal is the precheck result for one item.
type Signal struct {
	ItemID     string `json:"itemId"`
	IsSeckill  bool   `json:"isSeckill"`
	IsHot      bool   `json:"isHot"`
	StockLevel string `json:"stockLevel,omitempty"`
}

// CachePolicy says whether and how long the rendered page may be cached.
type CachePolicy struct {
	Enabled    bool `json:"enabled"`
	TTLSeconds int  `json:"ttl"`
}

// Decision is the output of the engine.
type Decision struct {
	RenderStrategy RenderStrategy `json:"renderStrategy"`
	CachePolicy    CachePolicy    `json:"cachePolicy"`
	Reason         string         `json:"reason"`
	Metadata       Signal         `json:"metadata"`
	Degraded       bool           `json:"degraded,omitempty"`
}

// Policies holds the cache TTLs per signal class, in seconds.
type Policies struct {
	HotLowStockTTL int
	HotTTL         int
	DefaultTTL     int
}

// DefaultPolicies returns the standard TTLs: 30s for hot items with low
// stock, 60s for hot items, 300s otherwise.
func DefaultPolicies() Policies {
	return Policies{
		HotLowStockTTL: 30,
		HotTTL:         60,
		DefaultTTL:     300,
	}
}

// Engine evaluates signals against Policies.
type Engine struct {
	policies Policies
}

// NewEngine creates an engine. Zero TTLs fall back to DefaultPolicies.
func NewEngine(policies Policies) *Engine {
	defaults := DefaultPolicies()
	if policies.HotLowStockTTL <= 0 {
		policies.HotLowStockTTL = defaults.HotLowStockTTL
	}
	if policies.HotTTL <= 0 {
		policies.HotTTL = defaults.HotTTL
	}
	if policies.DefaultTTL <= 0 {
		policies.DefaultTTL = defaults.DefaultTTL
	}
	return &Engine{policies: policies}
}

// Policies returns the effective TTL policies.
func (e *Engine) Policies() Policies {
	return e.policies
}

// Decide maps a signal to a decision. First match wins: seckill, hot with
// low stock, hot, default.
func (e *Engine) Decide(signal Signal) Decision {
	switch {
	case signal.IsSeckill:
		return Decision{
			RenderStrategy: StrategyCSR,
			CachePolicy:    CachePolicy{Enabled: false, TTLSeconds: 0},
			Reason:         "realtime stock",
			Metadata:       signal,
		}
	case signal.IsHot && strings.EqualFold(signal.StockLevel, StockLow):
		return Decision{
			RenderStrategy: StrategyStreaming,
			CachePolicy:    CachePolicy{Enabled: true, TTLSeconds: e.policies.HotLowStockTTL},
			Reason:         "hot item, low stock",
			Metadata:       signal,
		}
	case signal.IsHot:
		return Decision{
			RenderStrategy: StrategySSR,
			CachePolicy:    CachePolicy{Enabled: true, TTLSeconds: e.policies.HotTTL},
			Reason:         "hot item",
			Metadata:       signal,
		}
	default:
		return Decision{
			RenderStrategy: StrategySSR,
			CachePolicy:    CachePolicy{Enabled: true, TTLSeconds: e.policies.DefaultTTL},
			Reason:         "default",
			Metadata:       signal,
		}
	}
}

// FallbackSignal derives a signal from the item id alone. Ids starting with
// "SK" (any case) or containing "seckill" are seckill items; ids starting
// with "HOT" are hot.
func FallbackSignal(id string) Signal {
	lower := strings.ToLower(id)
	return Signal{
		ItemID:    id,
		IsSeckill: strings.HasPrefix(lower, "sk") || strings.Contains(lower, "seckill"),
		IsHot:     strings.HasPrefix(lower, "hot"),
	}
}

// DecideFallback decides from FallbackSignal(id). It never fails. cause is
// the reason the real signal was unavailable and is folded into Reason.
func (e *Engine) DecideFallback(id string, cause error) Decision {
	decision := e.Decide(FallbackSignal(id))
	decision.Degraded = true
	if cause != nil {
		decision.Reason = FallbackReasonPrefix + decision.Reason + " (" + cause.Error() + ")"
	} else {
		decision.Reason = FallbackReasonPrefix + decision.Reason
	}
	return decision
}
