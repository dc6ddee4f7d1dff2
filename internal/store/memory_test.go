package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinarena/ledger-engine/internal/model"
	"github.com/coinarena/ledger-engine/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedAccount(t *testing.T, s store.Store, id, email string) {
	t.Helper()
	err := s.CreateAccount(context.Background(), &model.Account{
		ID:           id,
		Email:        email,
		Nickname:     "nick-" + id,
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC(),
	}, d("1000000"))
	require.NoError(t, err)
}

func TestMemoryStore_CreateAccountProvisionsWallet(t *testing.T) {
	ms := store.NewMemoryStore()
	seedAccount(t, ms, "a1", "a1@example.com")

	w, err := ms.GetWallet(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(d("1000000")))

	a, err := ms.GetAccountByEmail(context.Background(), "a1@example.com")
	require.NoError(t, err)
	assert.Equal(t, "a1", a.ID)
	assert.Equal(t, "hash", a.PasswordHash)
}

func TestMemoryStore_DuplicateEmail(t *testing.T) {
	ms := store.NewMemoryStore()
	seedAccount(t, ms, "a1", "same@example.com")

	err := ms.CreateAccount(context.Background(), &model.Account{ID: "a2", Email: "same@example.com"}, d("1"))
	assert.ErrorIs(t, err, model.ErrDuplicate)

	_, err = ms.GetWallet(context.Background(), "a2")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMemoryStore_NotFound(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	_, err := ms.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = ms.GetWallet(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, ms.UpdateNickname(ctx, "missing", "x"), model.ErrNotFound)

	err = ms.WithAccountTx(ctx, "missing", func(tx store.AccountTx) error {
		_, err := tx.Wallet(ctx)
		return err
	})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMemoryStore_UnknownAccountLeavesNoLock(t *testing.T) {
	ms := store.NewMemoryStore()
	seedAccount(t, ms, "a1", "a1@example.com")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := ms.WithAccountTx(ctx, fmt.Sprintf("ghost-%d", i), func(store.AccountTx) error {
			t.Fatal("unit of work ran for an unknown account")
			return nil
		})
		assert.ErrorIs(t, err, model.ErrNotFound)
	}
	assert.Equal(t, 1, ms.LockCount())
}

func TestMemoryStore_UpdateNickname(t *testing.T) {
	ms := store.NewMemoryStore()
	seedAccount(t, ms, "a1", "a1@example.com")

	require.NoError(t, ms.UpdateNickname(context.Background(), "a1", "whale"))
	a, err := ms.GetAccount(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "whale", a.Nickname)
}

func TestMemoryStore_WithAccountTx_Commit(t *testing.T) {
	ms := store.NewMemoryStore()
	seedAccount(t, ms, "a1", "a1@example.com")
	ctx := context.Background()

	err := ms.WithAccountTx(ctx, "a1", func(tx store.AccountTx) error {
		if err := tx.SetBalance(ctx, d("900")); err != nil {
			return err
		}
		if err := tx.PutHolding(ctx, &model.Holding{Market: "KRW-BTC", Volume: d("0.5"), AvgPrice: d("100")}); err != nil {
			return err
		}
		// Reads inside the unit of work see staged writes.
		h, err := tx.Holding(ctx, "KRW-BTC")
		if err != nil {
			return err
		}
		if h == nil || !h.Volume.Equal(d("0.5")) {
			return errors.New("staged holding not visible")
		}
		w, err := tx.Wallet(ctx)
		if err != nil {
			return err
		}
		if !w.Balance.Equal(d("900")) {
			return errors.New("staged balance not visible")
		}
		return tx.AppendTrade(ctx, &model.Trade{ID: "t1", Market: "KRW-BTC", Side: model.SideBuy})
	})
	require.NoError(t, err)

	w, _ := ms.GetWallet(ctx, "a1")
	assert.True(t, w.Balance.Equal(d("900")))

	holdings, _ := ms.ListHoldings(ctx, "a1")
	require.Len(t, holdings, 1)
	assert.Equal(t, "a1", holdings[0].AccountID)

	trades, _ := ms.ListTrades(ctx, "a1", 10)
	require.Len(t, trades, 1)
	assert.Equal(t, "a1", trades[0].AccountID)
}

func TestMemoryStore_WithAccountTx_RollbackOnError(t *testing.T) {
	ms := store.NewMemoryStore()
	seedAccount(t, ms, "a1", "a1@example.com")
	ctx := context.Background()
	boom := errors.New("boom")

	err := ms.WithAccountTx(ctx, "a1", func(tx store.AccountTx) error {
		_ = tx.SetBalance(ctx, d("1"))
		_ = tx.PutHolding(ctx, &model.Holding{Market: "KRW-BTC", Volume: d("1"), AvgPrice: d("1")})
		_ = tx.AppendTrade(ctx, &model.Trade{ID: "t1", Market: "KRW-BTC", Side: model.SideBuy})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	w, _ := ms.GetWallet(ctx, "a1")
	assert.True(t, w.Balance.Equal(d("1000000")), "balance must be unchanged, got %s", w.Balance)
	holdings, _ := ms.ListHoldings(ctx, "a1")
	assert.Empty(t, holdings)
	trades, _ := ms.ListTrades(ctx, "a1", 0)
	assert.Empty(t, trades)
}

func TestMemoryStore_DeleteHolding(t *testing.T) {
	ms := store.NewMemoryStore()
	seedAccount(t, ms, "a1", "a1@example.com")
	ctx := context.Background()

	require.NoError(t, ms.WithAccountTx(ctx, "a1", func(tx store.AccountTx) error {
		return tx.PutHolding(ctx, &model.Holding{Market: "KRW-ETH", Volume: d("2"), AvgPrice: d("10")})
	}))
	require.NoError(t, ms.WithAccountTx(ctx, "a1", func(tx store.AccountTx) error {
		if err := tx.DeleteHolding(ctx, "KRW-ETH"); err != nil {
			return err
		}
		h, err := tx.Holding(ctx, "KRW-ETH")
		if err != nil {
			return err
		}
		if h != nil {
			return errors.New("deleted holding still visible")
		}
		return nil
	}))

	holdings, _ := ms.ListHoldings(ctx, "a1")
	assert.Empty(t, holdings)
}

func TestMemoryStore_RejectsNegativeBalanceAndEmptyHolding(t *testing.T) {
	ms := store.NewMemoryStore()
	seedAccount(t, ms, "a1", "a1@example.com")
	ctx := context.Background()

	err := ms.WithAccountTx(ctx, "a1", func(tx store.AccountTx) error {
		return tx.SetBalance(ctx, d("-1"))
	})
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	err = ms.WithAccountTx(ctx, "a1", func(tx store.AccountTx) error {
		return tx.PutHolding(ctx, &model.Holding{Market: "KRW-BTC", Volume: decimal.Zero, AvgPrice: d("1")})
	})
	assert.Error(t, err)
}

func TestMemoryStore_ListTradesNewestFirstWithLimit(t *testing.T) {
	ms := store.NewMemoryStore()
	seedAccount(t, ms, "a1", "a1@example.com")
	seedAccount(t, ms, "a2", "a2@example.com")
	ctx := context.Background()

	for _, id := range []string{"t1", "t2", "t3"} {
		id := id
		require.NoError(t, ms.WithAccountTx(ctx, "a1", func(tx store.AccountTx) error {
			return tx.AppendTrade(ctx, &model.Trade{ID: id, Market: "KRW-BTC", Side: model.SideBuy})
		}))
	}
	require.NoError(t, ms.WithAccountTx(ctx, "a2", func(tx store.AccountTx) error {
		return tx.AppendTrade(ctx, &model.Trade{ID: "other", Market: "KRW-BTC", Side: model.SideBuy})
	}))

	trades, err := ms.ListTrades(ctx, "a1", 2)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "t3", trades[0].ID)
	assert.Equal(t, "t2", trades[1].ID)
}

func TestMemoryStore_ListPortfolios(t *testing.T) {
	ms := store.NewMemoryStore()
	seedAccount(t, ms, "b", "b@example.com")
	seedAccount(t, ms, "a", "a@example.com")
	ctx := context.Background()

	require.NoError(t, ms.WithAccountTx(ctx, "b", func(tx store.AccountTx) error {
		return tx.PutHolding(ctx, &model.Holding{Market: "KRW-BTC", Volume: d("1"), AvgPrice: d("5")})
	}))

	portfolios, err := ms.ListPortfolios(ctx)
	require.NoError(t, err)
	require.Len(t, portfolios, 2)
	assert.Equal(t, "a", portfolios[0].Account.ID)
	assert.Empty(t, portfolios[0].Holdings)
	assert.Equal(t, "b", portfolios[1].Account.ID)
	require.Len(t, portfolios[1].Holdings, 1)
	assert.Equal(t, "KRW-BTC", portfolios[1].Holdings[0].Market)
	assert.Empty(t, portfolios[1].Account.PasswordHash)
}

func TestMemoryStore_GetPortfolio(t *testing.T) {
	ms := store.NewMemoryStore()
	seedAccount(t, ms, "a1", "a1@example.com")
	ctx := context.Background()

	require.NoError(t, ms.WithAccountTx(ctx, "a1", func(tx store.AccountTx) error {
		if err := tx.SetBalance(ctx, d("400000")); err != nil {
			return err
		}
		return tx.PutHolding(ctx, &model.Holding{Market: "KRW-BTC", Volume: d("0.01"), AvgPrice: d("50000000")})
	}))

	p, err := ms.GetPortfolio(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "nick-a1", p.Account.Nickname)
	assert.Empty(t, p.Account.PasswordHash)
	assert.True(t, p.Wallet.Balance.Equal(d("400000")))
	require.Len(t, p.Holdings, 1)
	assert.True(t, p.Holdings[0].Volume.Equal(d("0.01")))

	_, err = ms.GetPortfolio(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

// GetPortfolio reads under one lock, so it observes either none or all of
// a concurrent unit of work.
func TestMemoryStore_GetPortfolioNeverTorn(t *testing.T) {
	ms := store.NewMemoryStore()
	seedAccount(t, ms, "a1", "a1@example.com")
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_ = ms.WithAccountTx(ctx, "a1", func(tx store.AccountTx) error {
				w, err := tx.Wallet(ctx)
				if err != nil {
					return err
				}
				if err := tx.SetBalance(ctx, w.Balance.Sub(d("10"))); err != nil {
					return err
				}
				h, err := tx.Holding(ctx, "KRW-X")
				if err != nil {
					return err
				}
				if h == nil {
					h = &model.Holding{Market: "KRW-X", Volume: decimal.Zero, AvgPrice: d("10")}
				}
				h.Volume = h.Volume.Add(d("1"))
				return tx.PutHolding(ctx, h)
			})
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		p, err := ms.GetPortfolio(ctx, "a1")
		require.NoError(t, err)
		total := p.Wallet.Balance
		for _, h := range p.Holdings {
			total = total.Add(h.Volume.Mul(h.AvgPrice))
		}
		require.True(t, total.Equal(d("1000000")), "torn read: %s", total)
	}
}
