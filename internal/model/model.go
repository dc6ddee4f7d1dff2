// Package model defines the core domain types shared across the ledger engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Precision of stored values.
const (
	// VolumeScale is the maximum number of decimal places accepted for a volume.
	VolumeScale int32 = 8

	// MoneyScale is the number of decimal places kept for currency amounts
	// (integer base-currency units).
	MoneyScale int32 = 0

	// PriceScale is the number of decimal places kept for average entry prices.
	PriceScale int32 = 8
)

// Account is a registered competitor. Only Nickname may change after creation.
type Account struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	Nickname     string    `json:"nickname" db:"nickname"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Wallet is an account's cash balance. Balance is never negative in any
// committed state.
type Wallet struct {
	AccountID string          `json:"account_id" db:"account_id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Holding is an open position in one market. A holding exists only while
// Volume > 0; it is deleted, not zeroed, when a sell exhausts it.
type Holding struct {
	AccountID string          `json:"account_id" db:"account_id"`
	Market    string          `json:"market" db:"market"`
	Volume    decimal.Decimal `json:"volume" db:"volume"`
	AvgPrice  decimal.Decimal `json:"avg_price" db:"avg_price"` // volume-weighted entry price
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Trade is an immutable record of a completed buy or sell.
// Once created, these are never modified or deleted.
type Trade struct {
	ID         string          `json:"id" db:"id"`
	AccountID  string          `json:"account_id" db:"account_id"`
	Market     string          `json:"market" db:"market"`
	Side       Side            `json:"side" db:"side"`
	Price      decimal.Decimal `json:"price" db:"price"` // oracle price at execution
	Volume     decimal.Decimal `json:"volume" db:"volume"`
	Total      decimal.Decimal `json:"total" db:"total"` // settled amount after fee
	ExecutedAt time.Time       `json:"executed_at" db:"executed_at"`
}

// Receipt is returned to the caller for every executed trade.
type Receipt struct {
	TradeID     string          `json:"trade_id"`
	Market      string          `json:"market"`
	Side        Side            `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Volume      decimal.Decimal `json:"volume"`
	OrderAmount decimal.Decimal `json:"order_amount"`
	Fee         decimal.Decimal `json:"fee"`
	Total       decimal.Decimal `json:"total"`
	Balance     decimal.Decimal `json:"balance"` // wallet balance after the trade
	ExecutedAt  time.Time       `json:"executed_at"`
}

// AccountPortfolio is the bulk-read shape used for ranking: an account that
// has a wallet, together with its holdings.
type AccountPortfolio struct {
	Account  Account
	Wallet   Wallet
	Holdings []Holding
}

// HoldingValuation is one mark-to-market line of a Valuation.
type HoldingValuation struct {
	Market        string          `json:"market"`
	Volume        decimal.Decimal `json:"volume"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	Value         decimal.Decimal `json:"value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"` // value - volume*avgPrice
}

// Valuation aggregates one account's net worth at current prices.
type Valuation struct {
	AccountID     string             `json:"account_id"`
	Nickname      string             `json:"nickname"`
	Balance       decimal.Decimal    `json:"balance"`
	CoinValue     decimal.Decimal    `json:"coin_value"`
	TotalAsset    decimal.Decimal    `json:"total_asset"`
	NetProfit     decimal.Decimal    `json:"net_profit"`
	ProfitRate    decimal.Decimal    `json:"profit_rate"` // percent
	Holdings      []HoldingValuation `json:"holdings"`
	MissingQuotes []string           `json:"missing_quotes,omitempty"`
}

// LeaderboardEntry is one ranked account.
type LeaderboardEntry struct {
	Rank       int             `json:"rank"`
	AccountID  string          `json:"account_id"`
	Nickname   string          `json:"nickname"`
	TotalAsset decimal.Decimal `json:"total_asset"`
	NetProfit  decimal.Decimal `json:"net_profit"`
	ProfitRate decimal.Decimal `json:"profit_rate"`
}

// MarketInfo is metadata for a tradable market, used for UI population only.
type MarketInfo struct {
	Market      string `json:"market"`
	KoreanName  string `json:"korean_name,omitempty"`
	EnglishName string `json:"english_name,omitempty"`
}

// TradeEvent is published to subscribers after a trade commits. It carries
// no wallet balance.
type TradeEvent struct {
	Type       string          `json:"type"` // always "trade_executed"
	TradeID    string          `json:"trade_id"`
	AccountID  string          `json:"account_id"`
	Market     string          `json:"market"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Volume     decimal.Decimal `json:"volume"`
	Total      decimal.Decimal `json:"total"`
	ExecutedAt time.Time       `json:"executed_at"`
}
