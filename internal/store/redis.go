package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/coinarena/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Cached entries are keyed by a per-account generation that every committed
// write bumps. A reader that loaded from the primary before a write can only
// store its copy under the old generation, which nobody reads any more.
//
// Cached accounts never carry the password hash. Credentials are checked
// through GetAccountByEmail, which always reads the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account, initialBalance decimal.Decimal) error {
	return s.primary.CreateAccount(ctx, a, initialBalance)
}

func (s *CachedStore) UpdateNickname(ctx context.Context, id, nickname string) error {
	if err := s.primary.UpdateNickname(ctx, id, nickname); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

// WithAccountTx delegates to the primary and retires the account's cached
// entries once the unit of work has committed.
func (s *CachedStore) WithAccountTx(ctx context.Context, accountID string, fn func(tx AccountTx) error) error {
	if err := s.primary.WithAccountTx(ctx, accountID, fn); err != nil {
		return err
	}
	s.invalidate(ctx, accountID)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	gen, ok := s.generation(ctx, id)
	if ok {
		var a model.Account
		if s.lookup(ctx, accountKey(id, gen), &a) {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	a.PasswordHash = ""

	if ok {
		s.cache(ctx, accountKey(id, gen), a)
	}
	return a, nil
}

func (s *CachedStore) GetWallet(ctx context.Context, accountID string) (*model.Wallet, error) {
	gen, ok := s.generation(ctx, accountID)
	if ok {
		var w model.Wallet
		if s.lookup(ctx, walletKey(accountID, gen), &w) {
			return &w, nil
		}
	}

	w, err := s.primary.GetWallet(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if ok {
		s.cache(ctx, walletKey(accountID, gen), w)
	}
	return w, nil
}

func (s *CachedStore) ListHoldings(ctx context.Context, accountID string) ([]model.Holding, error) {
	gen, ok := s.generation(ctx, accountID)
	if ok {
		var holdings []model.Holding
		if s.lookup(ctx, holdingsKey(accountID, gen), &holdings) {
			return holdings, nil
		}
	}

	holdings, err := s.primary.ListHoldings(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if ok {
		s.cache(ctx, holdingsKey(accountID, gen), holdings)
	}
	return holdings, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return s.primary.GetAccountByEmail(ctx, email)
}

// GetPortfolio always reads the primary; cached pieces could come from
// different commits.
func (s *CachedStore) GetPortfolio(ctx context.Context, accountID string) (*model.AccountPortfolio, error) {
	return s.primary.GetPortfolio(ctx, accountID)
}

func (s *CachedStore) ListTrades(ctx context.Context, accountID string, limit int) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, accountID, limit)
}

func (s *CachedStore) ListPortfolios(ctx context.Context) ([]model.AccountPortfolio, error) {
	return s.primary.ListPortfolios(ctx)
}

// --- Cache helpers ---

// generation returns the account's current cache generation. ok is false
// when Redis cannot be reached; callers then skip the cache entirely.
func (s *CachedStore) generation(ctx context.Context, accountID string) (int64, bool) {
	gen, err := s.rdb.Get(ctx, generationKey(accountID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	if err != nil {
		return 0, false
	}
	return gen, true
}

func (s *CachedStore) lookup(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

// invalidate moves the account to a new generation. Entries written under
// the old one expire with the TTL.
func (s *CachedStore) invalidate(ctx context.Context, accountID string) {
	if err := s.rdb.Incr(ctx, generationKey(accountID)).Err(); err != nil {
		slog.Warn("cache invalidation failed", "account", accountID, "err", err)
	}
}

func generationKey(id string) string          { return fmt.Sprintf("gen:%s", id) }
func accountKey(id string, gen int64) string  { return fmt.Sprintf("account:%s:%d", id, gen) }
func walletKey(id string, gen int64) string   { return fmt.Sprintf("wallet:%s:%d", id, gen) }
func holdingsKey(id string, gen int64) string { return fmt.Sprintf("holdings:%s:%d", id, gen) }
