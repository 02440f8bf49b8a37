package upstream

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Sternrassler/render-gate/pkg/strategy"
)

// Static is an in-memory catalogue. Unknown ids get a signal derived from
// the id shape and a generated item document. It backs local development
// when no catalogue URL is configured.
type Static struct {
	mu      sync.RWMutex
	signals map[string]strategy.Signal
	items   map[string][]byte
}

// NewStatic creates an empty in-memory catalogue.
func NewStatic() *Static {
	return &Static{
		signals: make(map[string]strategy.Signal),
		items:   make(map[string][]byte),
	}
}

// SetSignal stores the precheck signal for id.
func (s *Static) SetSignal(id string, signal strategy.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	signal.ItemID = id
	s.signals[id] = signal
}

// SetItem stores the item data for id.
func (s *Static) SetItem(id string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = append([]byte(nil), data...)
}

// Precheck returns the stored signal or one derived from the id.
func (s *Static) Precheck(ctx context.Context, id string) (strategy.Signal, error) {
	if err := ctx.Err(); err != nil {
		return strategy.Signal{}, err
	}

	s.mu.RLock()
	signal, ok := s.signals[id]
	s.mu.RUnlock()
	if ok {
		return signal, nil
	}

	signal = strategy.FallbackSignal(id)
	signal.StockLevel = strategy.StockNormal
	return signal, nil
}

// Fetch returns the stored item or a generated document.
func (s *Static) Fetch(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, ok := s.items[id]
	s.mu.RUnlock()
	if ok {
		return append([]byte(nil), data...), nil
	}

	return json.Marshal(map[string]string{
		"id":   id,
		"name": "Item " + id,
	})
}
