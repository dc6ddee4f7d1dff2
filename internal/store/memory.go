package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinarena/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Units of work take a per-account mutex, stage their writes, and apply them
// under the store-wide write lock only when the work function succeeds.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	emails   map[string]string // email -> account ID
	wallets  map[string]*model.Wallet
	holdings map[string]map[string]*model.Holding // account ID -> market -> holding
	trades   []model.Trade

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
		emails:   make(map[string]string),
		wallets:  make(map[string]*model.Wallet),
		holdings: make(map[string]map[string]*model.Holding),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account, initialBalance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.emails[a.Email]; ok {
		return fmt.Errorf("email %s: %w", a.Email, model.ErrDuplicate)
	}
	if _, ok := s.accounts[a.ID]; ok {
		return fmt.Errorf("account %s: %w", a.ID, model.ErrDuplicate)
	}

	// Store a copy to avoid external mutation.
	copy := *a
	s.accounts[a.ID] = &copy
	s.emails[a.Email] = a.ID
	s.wallets[a.ID] = &model.Wallet{
		AccountID: a.ID,
		Balance:   initialBalance,
		UpdatedAt: a.CreatedAt,
	}

	s.locksMu.Lock()
	s.locks[a.ID] = &sync.Mutex{}
	s.locksMu.Unlock()
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) GetAccountByEmail(_ context.Context, email string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[email]
	if !ok {
		return nil, fmt.Errorf("account with email %s: %w", email, model.ErrNotFound)
	}
	copy := *s.accounts[id]
	return &copy, nil
}

func (s *MemoryStore) UpdateNickname(_ context.Context, id, nickname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}
	a.Nickname = nickname
	return nil
}

func (s *MemoryStore) GetWallet(_ context.Context, accountID string) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[accountID]
	if !ok {
		return nil, fmt.Errorf("wallet for account %s: %w", accountID, model.ErrNotFound)
	}
	copy := *w
	return &copy, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, accountID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.holdingsLocked(accountID), nil
}

// holdingsLocked copies an account's holdings ordered by market. Caller holds s.mu.
func (s *MemoryStore) holdingsLocked(accountID string) []model.Holding {
	byMarket := s.holdings[accountID]
	out := make([]model.Holding, 0, len(byMarket))
	for _, h := range byMarket {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Market < out[j].Market })
	return out
}

func (s *MemoryStore) GetPortfolio(_ context.Context, accountID string) (*model.AccountPortfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", accountID, model.ErrNotFound)
	}
	w, ok := s.wallets[accountID]
	if !ok {
		return nil, fmt.Errorf("wallet for account %s: %w", accountID, model.ErrNotFound)
	}
	p := &model.AccountPortfolio{
		Account:  *a,
		Wallet:   *w,
		Holdings: s.holdingsLocked(accountID),
	}
	p.Account.PasswordHash = ""
	return p, nil
}

func (s *MemoryStore) ListTrades(_ context.Context, accountID string, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for i := len(s.trades) - 1; i >= 0; i-- {
		if s.trades[i].AccountID != accountID {
			continue
		}
		result = append(result, s.trades[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) ListPortfolios(_ context.Context) ([]model.AccountPortfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.AccountPortfolio, 0, len(s.wallets))
	for id, w := range s.wallets {
		a, ok := s.accounts[id]
		if !ok {
			continue
		}
		p := model.AccountPortfolio{
			Account:  *a,
			Wallet:   *w,
			Holdings: s.holdingsLocked(id),
		}
		p.Account.PasswordHash = ""
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account.ID < out[j].Account.ID })
	return out, nil
}

func (s *MemoryStore) WithAccountTx(ctx context.Context, accountID string, fn func(tx AccountTx) error) error {
	lock, ok := s.accountLock(accountID)
	if !ok {
		return fmt.Errorf("wallet for account %s: %w", accountID, model.ErrNotFound)
	}
	lock.Lock()
	defer lock.Unlock()

	tx := &memoryTx{
		store:     s,
		accountID: accountID,
		holdings:  make(map[string]*model.Holding),
	}
	if _, err := tx.Wallet(ctx); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.apply(tx)
	return nil
}

// accountLock returns the unit-of-work mutex created with the account.
func (s *MemoryStore) accountLock(accountID string) (*sync.Mutex, bool) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[accountID]
	return l, ok
}

// apply publishes a unit of work's staged writes in one step.
func (s *MemoryStore) apply(tx *memoryTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.wallet != nil && tx.walletDirty {
		copy := *tx.wallet
		s.wallets[tx.accountID] = &copy
	}
	for market, h := range tx.holdings {
		if h == nil {
			if byMarket := s.holdings[tx.accountID]; byMarket != nil {
				delete(byMarket, market)
			}
			continue
		}
		byMarket := s.holdings[tx.accountID]
		if byMarket == nil {
			byMarket = make(map[string]*model.Holding)
			s.holdings[tx.accountID] = byMarket
		}
		copy := *h
		byMarket[market] = &copy
	}
	s.trades = append(s.trades, tx.trades...)
}

// memoryTx stages writes for one unit of work. A nil entry in holdings marks
// a deletion.
type memoryTx struct {
	store       *MemoryStore
	accountID   string
	wallet      *model.Wallet
	walletDirty bool
	holdings    map[string]*model.Holding
	trades      []model.Trade
}

func (tx *memoryTx) Wallet(ctx context.Context) (*model.Wallet, error) {
	if tx.wallet == nil {
		w, err := tx.store.GetWallet(ctx, tx.accountID)
		if err != nil {
			return nil, err
		}
		tx.wallet = w
	}
	copy := *tx.wallet
	return &copy, nil
}

func (tx *memoryTx) SetBalance(ctx context.Context, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return fmt.Errorf("%w: balance would become %s", model.ErrInsufficientFunds, balance)
	}
	if _, err := tx.Wallet(ctx); err != nil {
		return err
	}
	tx.wallet.Balance = balance
	tx.wallet.UpdatedAt = time.Now().UTC()
	tx.walletDirty = true
	return nil
}

func (tx *memoryTx) Holding(_ context.Context, market string) (*model.Holding, error) {
	if h, staged := tx.holdings[market]; staged {
		if h == nil {
			return nil, nil
		}
		copy := *h
		return &copy, nil
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	h, ok := tx.store.holdings[tx.accountID][market]
	if !ok {
		return nil, nil
	}
	copy := *h
	return &copy, nil
}

func (tx *memoryTx) PutHolding(_ context.Context, h *model.Holding) error {
	if !h.Volume.IsPositive() {
		return fmt.Errorf("put holding %s: volume must be positive, got %s", h.Market, h.Volume)
	}
	copy := *h
	copy.AccountID = tx.accountID
	copy.UpdatedAt = time.Now().UTC()
	tx.holdings[h.Market] = &copy
	return nil
}

func (tx *memoryTx) DeleteHolding(_ context.Context, market string) error {
	tx.holdings[market] = nil
	return nil
}

func (tx *memoryTx) AppendTrade(_ context.Context, t *model.Trade) error {
	copy := *t
	copy.AccountID = tx.accountID
	tx.trades = append(tx.trades, copy)
	return nil
}
