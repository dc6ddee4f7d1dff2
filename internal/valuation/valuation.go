// Package valuation marks an account's holdings to market and derives its
// total asset value and profit against the starting balance.
package valuation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/coinarena/ledger-engine/internal/model"
	"github.com/coinarena/ledger-engine/internal/oracle"
	"github.com/coinarena/ledger-engine/internal/store"
)

// ProfitRateScale is the number of decimal places kept for profit rates.
const ProfitRateScale int32 = 4

var hundred = decimal.NewFromInt(100)

// Service values single accounts. It is a pure reader: it never takes an
// account lock.
type Service struct {
	store          store.Store
	quotes         oracle.QuoteSource
	initialBalance decimal.Decimal
}

// NewService creates a valuation service. initialBalance is the amount every
// account started with; profit is measured against it.
func NewService(st store.Store, quotes oracle.QuoteSource, initialBalance decimal.Decimal) *Service {
	return &Service{store: st, quotes: quotes, initialBalance: initialBalance}
}

// ValueAccount values one account at current prices. Holdings the oracle
// does not quote are valued at zero and listed in MissingQuotes.
func (s *Service) ValueAccount(ctx context.Context, accountID string) (*model.Valuation, error) {
	p, err := s.store.GetPortfolio(ctx, accountID)
	if err != nil {
		return nil, err
	}

	prices, err := FetchPrices(ctx, s.quotes, p.Holdings)
	if err != nil {
		return nil, err
	}

	v := ValueHoldings(p.Account, p.Wallet, p.Holdings, prices, s.initialBalance)
	if len(v.MissingQuotes) > 0 {
		slog.Warn("valuation missing quotes", "account", accountID, "markets", v.MissingQuotes)
	}
	return &v, nil
}

// FetchPrices asks the oracle once for the distinct markets in holdings.
// No request is made when holdings is empty.
func FetchPrices(ctx context.Context, quotes oracle.QuoteSource, holdings []model.Holding) (map[string]decimal.Decimal, error) {
	markets := make([]string, 0, len(holdings))
	seen := make(map[string]struct{}, len(holdings))
	for _, h := range holdings {
		if _, ok := seen[h.Market]; ok {
			continue
		}
		seen[h.Market] = struct{}{}
		markets = append(markets, h.Market)
	}
	if len(markets) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	prices, err := quotes.GetPrices(ctx, markets)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	return prices, nil
}

// ValueHoldings is the valuation arithmetic shared by single-account
// valuation and the leaderboard:
//
//	coinValue  = Σ volume * currentPrice
//	totalAsset = balance + coinValue
//	netProfit  = totalAsset - initialBalance
//	profitRate = netProfit / initialBalance * 100
func ValueHoldings(account model.Account, wallet model.Wallet, holdings []model.Holding, prices map[string]decimal.Decimal, initialBalance decimal.Decimal) model.Valuation {
	v := model.Valuation{
		AccountID: account.ID,
		Nickname:  account.Nickname,
		Balance:   wallet.Balance,
		CoinValue: decimal.Zero,
		Holdings:  make([]model.HoldingValuation, 0, len(holdings)),
	}

	for _, h := range holdings {
		price, ok := prices[h.Market]
		if !ok || !price.IsPositive() {
			price = decimal.Zero
			v.MissingQuotes = append(v.MissingQuotes, h.Market)
		}
		value := h.Volume.Mul(price)
		v.CoinValue = v.CoinValue.Add(value)
		v.Holdings = append(v.Holdings, model.HoldingValuation{
			Market:        h.Market,
			Volume:        h.Volume,
			AvgPrice:      h.AvgPrice,
			CurrentPrice:  price,
			Value:         value,
			UnrealizedPnL: value.Sub(h.Volume.Mul(h.AvgPrice)),
		})
	}

	v.TotalAsset = v.Balance.Add(v.CoinValue)
	v.NetProfit = v.TotalAsset.Sub(initialBalance)
	v.ProfitRate = ProfitRate(v.NetProfit, initialBalance)
	return v
}

// ProfitRate returns netProfit as a percentage of initialBalance.
func ProfitRate(netProfit, initialBalance decimal.Decimal) decimal.Decimal {
	if !initialBalance.IsPositive() {
		return decimal.Zero
	}
	return netProfit.Div(initialBalance).Mul(hundred).Round(ProfitRateScale)
}
