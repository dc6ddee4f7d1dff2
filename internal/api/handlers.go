// Package api exposes the ledger engine over HTTP: registration and login,
// market orders, portfolio valuation and the leaderboard.
//
// All monetary values are JSON decimal strings.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/coinarena/ledger-engine/internal/account"
	"github.com/coinarena/ledger-engine/internal/auth"
	"github.com/coinarena/ledger-engine/internal/model"
	"github.com/coinarena/ledger-engine/internal/oracle"
	"github.com/coinarena/ledger-engine/internal/ranking"
	"github.com/coinarena/ledger-engine/internal/store"
	"github.com/coinarena/ledger-engine/internal/trade"
	"github.com/coinarena/ledger-engine/internal/valuation"
)

const (
	defaultTradeLimit = 50
	maxTradeLimit     = 500
)

// Handlers holds the services behind the HTTP surface.
type Handlers struct {
	accounts   *account.Service
	tokens     *auth.JWTService
	engine     *trade.Engine
	valuations *valuation.Service
	ranking    *ranking.Service
	store      store.Store
	markets    oracle.MarketLister
}

// NewHandlers wires the HTTP handlers.
func NewHandlers(
	accounts *account.Service,
	tokens *auth.JWTService,
	engine *trade.Engine,
	valuations *valuation.Service,
	rank *ranking.Service,
	st store.Store,
	markets oracle.MarketLister,
) *Handlers {
	return &Handlers{
		accounts:   accounts,
		tokens:     tokens,
		engine:     engine,
		valuations: valuations,
		ranking:    rank,
		store:      st,
		markets:    markets,
	}
}

// --- Request/Response types ---

// RegisterRequest is the JSON body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the session token.
type LoginResponse struct {
	Token   string         `json:"token"`
	Account *model.Account `json:"account"`
}

// TradeRequest is the JSON body for POST /trade/buy and /trade/sell.
type TradeRequest struct {
	Market string          `json:"market"` // e.g. KRW-BTC
	Volume decimal.Decimal `json:"volume"`
}

// UpdateAccountRequest is the JSON body for PATCH /account.
type UpdateAccountRequest struct {
	Nickname string `json:"nickname"`
}

// LeaderboardResponse wraps the ranked entries.
type LeaderboardResponse struct {
	Ranking []model.LeaderboardEntry `json:"ranking"`
}

// --- Auth ---

// Register handles POST /api/v1/auth/register
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	a, err := h.accounts.Register(r.Context(), req.Email, req.Password, req.Nickname)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	a, err := h.accounts.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	token, err := h.tokens.Sign(a.ID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, Account: a})
}

// --- Trading (authenticated) ---

// Buy handles POST /api/v1/trade/buy
func (h *Handlers) Buy(w http.ResponseWriter, r *http.Request) {
	h.executeTrade(w, r, model.SideBuy)
}

// Sell handles POST /api/v1/trade/sell
func (h *Handlers) Sell(w http.ResponseWriter, r *http.Request) {
	h.executeTrade(w, r, model.SideSell)
}

func (h *Handlers) executeTrade(w http.ResponseWriter, r *http.Request, side model.Side) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	accountID := auth.AccountIDFromCtx(r.Context())
	var (
		receipt *model.Receipt
		err     error
	)
	if side == model.SideBuy {
		receipt, err = h.engine.ExecuteBuy(r.Context(), accountID, req.Market, req.Volume)
	} else {
		receipt, err = h.engine.ExecuteSell(r.Context(), accountID, req.Market, req.Volume)
	}
	if err != nil {
		writeCallerErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// --- Portfolio ---

// GetPortfolio handles GET /api/v1/portfolio
func (h *Handlers) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	v, err := h.valuations.ValueAccount(r.Context(), auth.AccountIDFromCtx(r.Context()))
	if err != nil {
		writeCallerErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetUserPortfolio handles GET /api/v1/users/{accountID}/portfolio
// Portfolios are public.
func (h *Handlers) GetUserPortfolio(w http.ResponseWriter, r *http.Request) {
	v, err := h.valuations.ValueAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ListTrades handles GET /api/v1/trades?limit=
// Returns the caller's trades, newest first.
func (h *Handlers) ListTrades(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, defaultTradeLimit, maxTradeLimit)
	if !ok {
		return
	}

	trades, err := h.store.ListTrades(r.Context(), auth.AccountIDFromCtx(r.Context()), limit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// UpdateAccount handles PATCH /api/v1/account
func (h *Handlers) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req UpdateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	a, err := h.accounts.Rename(r.Context(), auth.AccountIDFromCtx(r.Context()), req.Nickname)
	if err != nil {
		writeCallerErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// --- Public ---

// Leaderboard handles GET /api/v1/leaderboard?limit=
func (h *Handlers) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, ranking.DefaultLimit, ranking.MaxLimit)
	if !ok {
		return
	}

	entries, err := h.ranking.BuildLeaderboard(r.Context(), limit)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LeaderboardResponse{Ranking: entries})
}

// ListMarkets handles GET /api/v1/markets
func (h *Handlers) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.markets.ListMarkets(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if markets == nil {
		markets = []model.MarketInfo{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// parseLimit reads ?limit=, defaulting when absent or non-positive and capping at ceiling.
func parseLimit(w http.ResponseWriter, r *http.Request, fallback, ceiling int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, "limit must be an integer", http.StatusBadRequest)
		return 0, false
	}
	if n <= 0 {
		n = fallback
	}
	if n > ceiling {
		n = ceiling
	}
	return n, true
}
