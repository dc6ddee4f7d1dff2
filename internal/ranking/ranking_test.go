package ranking_test

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
	"github.com/coinarena/ledger-engine/internal/oracle"
	"github.com/coinarena/ledger-engine/internal/ranking"
	"github.com/coinarena/ledger-engine/internal/store"
	"github.com/coinarena/ledger-engine/internal/trade"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var initial = d("1000000")

type env struct {
	store  *store.MemoryStore
	quotes *oracle.StaticSource
	engine *trade.Engine
}

func newEnv(t *testing.T, accounts ...string) *env {
	t.Helper()
	ms := store.NewMemoryStore()
	quotes := oracle.NewStaticSource(map[string]decimal.Decimal{
		"KRW-BTC": d("50000000"),
		"KRW-ETH": d("1000"),
	})
	for _, id := range accounts {
		require.NoError(t, ms.CreateAccount(context.Background(), &model.Account{
			ID: id, Email: id + "@example.com", Nickname: "nick-" + id, CreatedAt: time.Now().UTC(),
		}, initial))
	}
	return &env{store: ms, quotes: quotes, engine: trade.NewEngine(ms, quotes, d("0.01"), nil)}
}

func TestBuildLeaderboard_OrdersByNetProfit(t *testing.T) {
	e := newEnv(t, "a", "b", "c")
	ctx := context.Background()

	_, err := e.engine.ExecuteBuy(ctx, "a", "KRW-BTC", d("0.01"))
	require.NoError(t, err)
	_, err = e.engine.ExecuteBuy(ctx, "b", "KRW-ETH", d("10"))
	require.NoError(t, err)

	// BTC +20%: a gains 100,000 - 5,000 fee. b paid 100 in fees; c untouched.
	e.quotes.Set("KRW-BTC", d("60000000"))

	svc, err := ranking.NewService(e.store, e.quotes, initial, 0)
	require.NoError(t, err)

	calls := e.quotes.Calls()
	board, err := svc.BuildLeaderboard(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, calls+1, e.quotes.Calls(), "one batched oracle call per build")

	require.Len(t, board, 3)
	assert.Equal(t, []string{"a", "c", "b"}, []string{board[0].AccountID, board[1].AccountID, board[2].AccountID})
	assert.Equal(t, []int{1, 2, 3}, []int{board[0].Rank, board[1].Rank, board[2].Rank})
	assert.True(t, board[0].NetProfit.Equal(d("95000")), "a net profit %s", board[0].NetProfit)
	assert.True(t, board[1].NetProfit.IsZero())
	assert.True(t, board[2].NetProfit.Equal(d("-100")))
	assert.Equal(t, "nick-a", board[0].Nickname)
	assert.True(t, board[0].ProfitRate.Equal(d("9.5")))
}

func TestBuildLeaderboard_TieBreakByAccountID(t *testing.T) {
	e := newEnv(t, "zed", "amy", "kim")
	svc, err := ranking.NewService(e.store, e.quotes, initial, 0)
	require.NoError(t, err)

	board, err := svc.BuildLeaderboard(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, board, 3)
	assert.Equal(t, "amy", board[0].AccountID)
	assert.Equal(t, "kim", board[1].AccountID)
	assert.Equal(t, "zed", board[2].AccountID)
	assert.Equal(t, 0, e.quotes.Calls(), "no holdings means no oracle call")
}

func TestBuildLeaderboard_Limit(t *testing.T) {
	ids := make([]string, 0, 120)
	for i := 0; i < 120; i++ {
		ids = append(ids, fmt.Sprintf("acct-%03d", i))
	}
	e := newEnv(t, ids...)
	svc, err := ranking.NewService(e.store, e.quotes, initial, 0)
	require.NoError(t, err)
	ctx := context.Background()

	board, err := svc.BuildLeaderboard(ctx, -1)
	require.NoError(t, err)
	assert.Len(t, board, ranking.DefaultLimit)

	board, err = svc.BuildLeaderboard(ctx, 500)
	require.NoError(t, err)
	assert.Len(t, board, ranking.MaxLimit)
	assert.Equal(t, ranking.MaxLimit, board[len(board)-1].Rank)

	board, err = svc.BuildLeaderboard(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, board, 3)
}

func TestBuildLeaderboard_CachedWithinTTL(t *testing.T) {
	e := newEnv(t, "a", "b")
	ctx := context.Background()
	_, err := e.engine.ExecuteBuy(ctx, "a", "KRW-ETH", d("1"))
	require.NoError(t, err)

	svc, err := ranking.NewService(e.store, e.quotes, initial, time.Minute)
	require.NoError(t, err)

	_, err = svc.BuildLeaderboard(ctx, 10)
	require.NoError(t, err)
	calls := e.quotes.Calls()

	board, err := svc.BuildLeaderboard(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, calls, e.quotes.Calls(), "second build should be served from cache")
	require.Len(t, board, 2)

	// Mutating the returned slice must not affect later reads.
	board[0].AccountID = "tampered"
	again, err := svc.BuildLeaderboard(ctx, 10)
	require.NoError(t, err)
	assert.NotEqual(t, "tampered", again[0].AccountID)
}

func TestBuildLeaderboard_OracleFailure(t *testing.T) {
	e := newEnv(t, "a")
	ctx := context.Background()
	_, err := e.engine.ExecuteBuy(ctx, "a", "KRW-ETH", d("1"))
	require.NoError(t, err)

	e.quotes.Fail(errors.New("down"))
	svc, err := ranking.NewService(e.store, e.quotes, initial, 0)
	require.NoError(t, err)

	_, err = svc.BuildLeaderboard(ctx, 10)
	assert.ErrorIs(t, err, model.ErrQuoteUnavailable)
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 10}, {-5, 10}, {1, 1}, {100, 100}, {101, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ranking.ClampLimit(tt.in), "ClampLimit(%d)", tt.in)
	}
}
