// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/coinarena/ledger-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account and its wallet (funded with
	// initialBalance) atomically. Returns model.ErrDuplicate if the email
	// is taken.
	CreateAccount(ctx context.Context, account *model.Account, initialBalance decimal.Decimal) error

	// GetAccount retrieves an account by ID.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// GetAccountByEmail retrieves an account by its login email.
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)

	// UpdateNickname changes the only mutable account attribute.
	UpdateNickname(ctx context.Context, id, nickname string) error

	// --- Committed-state reads ---

	// GetWallet returns the account's wallet or model.ErrNotFound.
	GetWallet(ctx context.Context, accountID string) (*model.Wallet, error)

	// ListHoldings returns all open positions of an account ordered by market.
	ListHoldings(ctx context.Context, accountID string) ([]model.Holding, error)

	// GetPortfolio reads an account, its wallet and its holdings from one
	// committed snapshot. A unit of work is never seen half applied.
	GetPortfolio(ctx context.Context, accountID string) (*model.AccountPortfolio, error)

	// ListTrades returns an account's trades, newest first.
	ListTrades(ctx context.Context, accountID string, limit int) ([]model.Trade, error)

	// ListPortfolios bulk-reads every account that has a wallet, with
	// holdings, from one committed snapshot.
	ListPortfolios(ctx context.Context) ([]model.AccountPortfolio, error)

	// --- Unit of work ---

	// WithAccountTx runs fn as one atomic read-modify-write unit scoped to
	// accountID. Units of work for the same account never interleave. If fn
	// returns an error nothing it wrote is persisted.
	WithAccountTx(ctx context.Context, accountID string, fn func(tx AccountTx) error) error
}

// AccountTx is the view of one account inside a unit of work.
type AccountTx interface {
	// Wallet re-reads the wallet inside the unit of work.
	Wallet(ctx context.Context) (*model.Wallet, error)

	// SetBalance overwrites the wallet balance.
	SetBalance(ctx context.Context, balance decimal.Decimal) error

	// Holding returns the holding for market, or nil if there is none.
	Holding(ctx context.Context, market string) (*model.Holding, error)

	// PutHolding creates or replaces the holding for h.Market.
	PutHolding(ctx context.Context, h *model.Holding) error

	// DeleteHolding removes the holding for market.
	DeleteHolding(ctx context.Context, market string) error

	// AppendTrade records an immutable trade.
	AppendTrade(ctx context.Context, t *model.Trade) error
}
