// Package ranking builds the competition leaderboard: every account valued
// against one shared batch of prices and ordered by net profit.
package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/shopspring/decimal"

	"github.com/coinarena/ledger-engine/internal/metrics"
	"github.com/coinarena/ledger-engine/internal/model"
	"github.com/coinarena/ledger-engine/internal/oracle"
	"github.com/coinarena/ledger-engine/internal/store"
	"github.com/coinarena/ledger-engine/internal/valuation"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100

	cacheKey = "leaderboard"
)

// Service builds leaderboards. Results may be served from a short-lived
// in-process cache, so the ranking is eventually consistent with trades.
type Service struct {
	store          store.Store
	quotes         oracle.QuoteSource
	initialBalance decimal.Decimal
	cache          *ristretto.Cache // nil when caching is disabled
	ttl            time.Duration
}

// NewService creates a ranking service. A cacheTTL of zero disables the
// result cache.
func NewService(st store.Store, quotes oracle.QuoteSource, initialBalance decimal.Decimal, cacheTTL time.Duration) (*Service, error) {
	s := &Service{
		store:          st,
		quotes:         quotes,
		initialBalance: initialBalance,
		ttl:            cacheTTL,
	}
	if cacheTTL > 0 {
		c, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 1e3,
			MaxCost:     1 << 20,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("leaderboard cache: %w", err)
		}
		s.cache = c
	}
	return s, nil
}

// ClampLimit maps a requested size onto [1, MaxLimit]; non-positive values
// select DefaultLimit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// BuildLeaderboard returns the top accounts by net profit, ties broken by
// account ID ascending. Ranks start at 1.
func (s *Service) BuildLeaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	limit = ClampLimit(limit)

	if s.cache != nil {
		if v, ok := s.cache.Get(cacheKey); ok {
			return top(v.([]model.LeaderboardEntry), limit), nil
		}
	}

	entries, err := s.build(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetWithTTL(cacheKey, entries, 1, s.ttl)
		s.cache.Wait()
	}
	return top(entries, limit), nil
}

// build ranks every account. One bulk read, one oracle call.
func (s *Service) build(ctx context.Context) ([]model.LeaderboardEntry, error) {
	start := time.Now()
	defer func() { metrics.LeaderboardBuild.Observe(time.Since(start).Seconds()) }()

	portfolios, err := s.store.ListPortfolios(ctx)
	if err != nil {
		return nil, fmt.Errorf("list portfolios: %w", err)
	}

	var all []model.Holding
	for _, p := range portfolios {
		all = append(all, p.Holdings...)
	}
	prices, err := valuation.FetchPrices(ctx, s.quotes, all)
	if err != nil {
		return nil, err
	}

	entries := make([]model.LeaderboardEntry, 0, len(portfolios))
	missing := 0
	for _, p := range portfolios {
		v := valuation.ValueHoldings(p.Account, p.Wallet, p.Holdings, prices, s.initialBalance)
		missing += len(v.MissingQuotes)
		entries = append(entries, model.LeaderboardEntry{
			AccountID:  v.AccountID,
			Nickname:   v.Nickname,
			TotalAsset: v.TotalAsset,
			NetProfit:  v.NetProfit,
			ProfitRate: v.ProfitRate,
		})
	}
	if missing > 0 {
		slog.Warn("leaderboard built with missing quotes", "holdings", missing)
	}

	Sort(entries)
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// Sort orders entries by net profit descending, then account ID ascending.
func Sort(entries []model.LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if c := entries[i].NetProfit.Cmp(entries[j].NetProfit); c != 0 {
			return c > 0
		}
		return entries[i].AccountID < entries[j].AccountID
	})
}

// top copies the first limit entries so callers cannot mutate the cache.
func top(entries []model.LeaderboardEntry, limit int) []model.LeaderboardEntry {
	if limit > len(entries) {
		limit = len(entries)
	}
	out := make([]model.LeaderboardEntry, limit)
	copy(out, entries[:limit])
	return out
}
