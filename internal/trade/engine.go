// Package trade executes market orders against an account's wallet and
// holdings at the current oracle price.
//
// All monetary values use shopspring/decimal, never float64.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinarena/ledger-engine/internal/market"
	"github.com/coinarena/ledger-engine/internal/metrics"
	"github.com/coinarena/ledger-engine/internal/model"
	"github.com/coinarena/ledger-engine/internal/oracle"
	"github.com/coinarena/ledger-engine/internal/store"
)

// DefaultFeeRate is charged on the notional of both legs.
var DefaultFeeRate = decimal.NewFromFloat(0.01)

// Notifier receives an event for every committed trade.
type Notifier interface {
	Publish(ctx context.Context, event model.TradeEvent) error
}

// Engine executes buys and sells. Each order prices first, then runs one
// unit of work against the store; the oracle is never called while the
// account is locked.
type Engine struct {
	store    store.Store
	quotes   oracle.QuoteSource
	feeRate  decimal.Decimal
	notifier Notifier // optional
	now      func() time.Time
}

// NewEngine creates a trade engine. A negative feeRate falls back to
// DefaultFeeRate; zero means trades are free. Pass nil for notifier if no
// events are needed.
func NewEngine(st store.Store, quotes oracle.QuoteSource, feeRate decimal.Decimal, notifier Notifier) *Engine {
	if feeRate.IsNegative() {
		feeRate = DefaultFeeRate
	}
	return &Engine{
		store:    st,
		quotes:   quotes,
		feeRate:  feeRate,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// FeeRate returns the configured fee rate.
func (e *Engine) FeeRate() decimal.Decimal {
	return e.feeRate
}

// quote is the priced, pre-lock part of an order.
type quote struct {
	market      string
	volume      decimal.Decimal
	price       decimal.Decimal
	orderAmount decimal.Decimal
	fee         decimal.Decimal
}

// ExecuteBuy buys volume units of market at the current price. The wallet
// is debited orderAmount + fee.
func (e *Engine) ExecuteBuy(ctx context.Context, accountID, mkt string, volume decimal.Decimal) (*model.Receipt, error) {
	start := time.Now()
	q, err := e.price(ctx, model.SideBuy, mkt, volume)
	if err != nil {
		e.reject(model.SideBuy, err)
		return nil, err
	}
	total := q.orderAmount.Add(q.fee)

	var receipt *model.Receipt
	err = e.store.WithAccountTx(ctx, accountID, func(tx store.AccountTx) error {
		w, err := tx.Wallet(ctx)
		if err != nil {
			return err
		}
		if w.Balance.LessThan(total) {
			return fmt.Errorf("%w: need %s, have %s", model.ErrInsufficientFunds, total, w.Balance)
		}
		newBalance := w.Balance.Sub(total)
		if err := tx.SetBalance(ctx, newBalance); err != nil {
			return err
		}

		h, err := tx.Holding(ctx, q.market)
		if err != nil {
			return err
		}
		if h == nil {
			h = &model.Holding{
				AccountID: accountID,
				Market:    q.market,
				Volume:    q.volume,
				AvgPrice:  q.price.Round(model.PriceScale),
			}
		} else {
			// Weighted average over the unrounded notional of both lots.
			newVolume := h.Volume.Add(q.volume)
			cost := h.AvgPrice.Mul(h.Volume).Add(q.volume.Mul(q.price))
			h.AvgPrice = cost.Div(newVolume).Round(model.PriceScale)
			h.Volume = newVolume
		}
		if err := tx.PutHolding(ctx, h); err != nil {
			return err
		}

		t, err := e.appendTrade(ctx, tx, accountID, model.SideBuy, q, total)
		if err != nil {
			return err
		}
		receipt = newReceipt(t, q, newBalance)
		return nil
	})
	if err != nil {
		e.reject(model.SideBuy, err)
		return nil, err
	}

	e.committed(ctx, accountID, receipt, start)
	return receipt, nil
}

// ExecuteSell sells volume units of market at the current price. The wallet
// is credited orderAmount - fee; the holding's average price is unchanged
// and the holding is deleted when fully sold.
func (e *Engine) ExecuteSell(ctx context.Context, accountID, mkt string, volume decimal.Decimal) (*model.Receipt, error) {
	start := time.Now()
	q, err := e.price(ctx, model.SideSell, mkt, volume)
	if err != nil {
		e.reject(model.SideSell, err)
		return nil, err
	}
	receive := q.orderAmount.Sub(q.fee)

	var receipt *model.Receipt
	err = e.store.WithAccountTx(ctx, accountID, func(tx store.AccountTx) error {
		h, err := tx.Holding(ctx, q.market)
		if err != nil {
			return err
		}
		if h == nil {
			return fmt.Errorf("%w: %s", model.ErrNoPosition, q.market)
		}
		if q.volume.GreaterThan(h.Volume) {
			return fmt.Errorf("%w: selling %s, holding %s", model.ErrInsufficientHoldings, q.volume, h.Volume)
		}

		w, err := tx.Wallet(ctx)
		if err != nil {
			return err
		}
		newBalance := w.Balance.Add(receive)
		if err := tx.SetBalance(ctx, newBalance); err != nil {
			return err
		}

		newVolume := h.Volume.Sub(q.volume)
		if newVolume.LessThanOrEqual(decimal.Zero) {
			err = tx.DeleteHolding(ctx, q.market)
		} else {
			h.Volume = newVolume
			err = tx.PutHolding(ctx, h)
		}
		if err != nil {
			return err
		}

		t, err := e.appendTrade(ctx, tx, accountID, model.SideSell, q, receive)
		if err != nil {
			return err
		}
		receipt = newReceipt(t, q, newBalance)
		return nil
	})
	if err != nil {
		e.reject(model.SideSell, err)
		return nil, err
	}

	e.committed(ctx, accountID, receipt, start)
	return receipt, nil
}

// price validates the order and fetches the execution price. A buy must cost
// something; a sell may settle for zero so dust positions can still be closed.
func (e *Engine) price(ctx context.Context, side model.Side, mkt string, volume decimal.Decimal) (*quote, error) {
	sym, err := market.Parse(mkt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	if !volume.IsPositive() {
		return nil, fmt.Errorf("%w: volume must be positive, got %s", model.ErrValidation, volume)
	}
	if !volume.Equal(volume.Truncate(model.VolumeScale)) {
		return nil, fmt.Errorf("%w: volume %s has more than %d decimal places", model.ErrValidation, volume, model.VolumeScale)
	}

	p, err := oracle.PriceOf(ctx, e.quotes, sym.Code)
	if err != nil {
		return nil, err
	}

	notional := volume.Mul(p)
	q := &quote{
		market:      sym.Code,
		volume:      volume,
		price:       p,
		orderAmount: notional.Round(model.MoneyScale),
		fee:         notional.Mul(e.feeRate).Round(model.MoneyScale),
	}
	if side == model.SideBuy && !q.orderAmount.IsPositive() {
		return nil, fmt.Errorf("%w: order amount for %s %s rounds to zero", model.ErrValidation, volume, sym.Code)
	}
	return q, nil
}

func (e *Engine) appendTrade(ctx context.Context, tx store.AccountTx, accountID string, side model.Side, q *quote, total decimal.Decimal) (*model.Trade, error) {
	t := &model.Trade{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		Market:     q.market,
		Side:       side,
		Price:      q.price,
		Volume:     q.volume,
		Total:      total,
		ExecutedAt: e.now(),
	}
	if err := tx.AppendTrade(ctx, t); err != nil {
		return nil, fmt.Errorf("record trade: %w", err)
	}
	return t, nil
}

func newReceipt(t *model.Trade, q *quote, balance decimal.Decimal) *model.Receipt {
	return &model.Receipt{
		TradeID:     t.ID,
		Market:      t.Market,
		Side:        t.Side,
		Price:       t.Price,
		Volume:      t.Volume,
		OrderAmount: q.orderAmount,
		Fee:         q.fee,
		Total:       t.Total,
		Balance:     balance,
		ExecutedAt:  t.ExecutedAt,
	}
}

// committed records metrics, logs and notifies for a committed trade.
// Notification failures never fail the trade.
func (e *Engine) committed(ctx context.Context, accountID string, r *model.Receipt, start time.Time) {
	side := string(r.Side)
	metrics.TradesTotal.WithLabelValues(side).Inc()
	metrics.TradeLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())
	metrics.MarketVolume.WithLabelValues(r.Market, side).Add(r.Volume.InexactFloat64())
	metrics.FeesCollected.Add(r.Fee.InexactFloat64())

	slog.Info("trade executed",
		"trade_id", r.TradeID,
		"account", accountID,
		"market", r.Market,
		"side", side,
		"volume", r.Volume.String(),
		"price", r.Price.String(),
		"fee", r.Fee.String(),
		"total", r.Total.String(),
		"balance", r.Balance.String(),
	)

	if e.notifier == nil {
		return
	}
	event := model.TradeEvent{
		Type:       "trade_executed",
		TradeID:    r.TradeID,
		AccountID:  accountID,
		Market:     r.Market,
		Side:       r.Side,
		Price:      r.Price,
		Volume:     r.Volume,
		Total:      r.Total,
		ExecutedAt: r.ExecutedAt,
	}
	if err := e.notifier.Publish(ctx, event); err != nil {
		slog.Warn("trade notification failed", "trade_id", r.TradeID, "err", err)
	}
}

func (e *Engine) reject(side model.Side, err error) {
	metrics.TradeRejections.WithLabelValues(string(side), rejectReason(err)).Inc()
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, model.ErrValidation):
		return "validation"
	case errors.Is(err, model.ErrQuoteUnavailable):
		return "quote_unavailable"
	case errors.Is(err, model.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, model.ErrInsufficientHoldings):
		return "insufficient_holdings"
	case errors.Is(err, model.ErrNoPosition):
		return "no_position"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
