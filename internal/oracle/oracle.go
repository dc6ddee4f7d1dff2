// Package oracle fetches current trade prices from the external quote service.
//
// The core never caches quotes: every buy, sell, valuation and leaderboard
// build asks the oracle again.
package oracle

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/coinarena/ledger-engine/internal/model"
)

// QuoteSource returns the current trade price for each requested market.
// Markets the provider does not quote are absent from the result; callers
// decide whether absence is fatal. A failed request returns an error
// wrapping model.ErrQuoteUnavailable.
type QuoteSource interface {
	GetPrices(ctx context.Context, markets []string) (map[string]decimal.Decimal, error)
}

// MarketLister lists tradable markets for UI population.
type MarketLister interface {
	ListMarkets(ctx context.Context) ([]model.MarketInfo, error)
}

// PriceOf fetches a single market's price. A missing quote is reported as
// model.ErrQuoteUnavailable.
func PriceOf(ctx context.Context, src QuoteSource, market string) (decimal.Decimal, error) {
	prices, err := src.GetPrices(ctx, []string{market})
	if err != nil {
		return decimal.Zero, err
	}
	p, ok := prices[market]
	if !ok || !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no price for %s", model.ErrQuoteUnavailable, market)
	}
	return p, nil
}

// StaticSource is an in-memory QuoteSource with settable prices. Used for
// tests and offline development.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	err    error
	calls  int
}

// NewStaticSource creates a StaticSource seeded with prices.
func NewStaticSource(prices map[string]decimal.Decimal) *StaticSource {
	s := &StaticSource{prices: make(map[string]decimal.Decimal, len(prices))}
	for m, p := range prices {
		s.prices[m] = p
	}
	return s
}

// Set updates the price of one market.
func (s *StaticSource) Set(market string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[market] = price
}

// Remove drops a market so it is no longer quoted.
func (s *StaticSource) Remove(market string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prices, market)
}

// Fail makes every subsequent call return err (nil restores normal behavior).
func (s *StaticSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls returns how many GetPrices calls have been made.
func (s *StaticSource) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

func (s *StaticSource) GetPrices(_ context.Context, markets []string) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrQuoteUnavailable, s.err)
	}
	out := make(map[string]decimal.Decimal, len(markets))
	for _, m := range markets {
		if p, ok := s.prices[m]; ok {
			out[m] = p
		}
	}
	return out, nil
}

func (s *StaticSource) ListMarkets(_ context.Context) ([]model.MarketInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.MarketInfo, 0, len(s.prices))
	for m := range s.prices {
		out = append(out, model.MarketInfo{Market: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Market < out[j].Market })
	return out, nil
}
