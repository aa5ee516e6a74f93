package oracle

import (
	"context"
	"fmt"
	"sync"
)

// StaticSource serves prices from a fixed in-memory table. Used by the
// simulation binary and by tests that need deterministic prices.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]float64
}

// NewStaticSource creates a source preloaded with the given prices,
// keyed by market symbol.
func NewStaticSource(prices map[string]float64) *StaticSource {
	table := make(map[string]float64, len(prices))
	for symbol, price := range prices {
		table[symbol] = price
	}
	return &StaticSource{prices: table}
}

// SetPrice updates or adds a symbol's price.
func (s *StaticSource) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

// GetTicker returns a ticker for a known symbol, or ErrUnavailable.
func (s *StaticSource) GetTicker(_ context.Context, symbol string) (*Ticker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	price, ok := s.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: no price for %s", ErrUnavailable, symbol)
	}
	return &Ticker{
		Symbol:    symbol,
		LastPrice: price,
		High24h:   price,
		Low24h:    price,
	}, nil
}
