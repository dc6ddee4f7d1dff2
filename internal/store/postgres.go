package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/coinarena/ledger-engine/internal/model"
)

const pgUniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account, initialBalance decimal.Decimal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create account: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO accounts (id, email, nickname, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.Email, a.Nickname, a.PasswordHash, a.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("email %s: %w", a.Email, model.ErrDuplicate)
		}
		return fmt.Errorf("insert account: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO wallets (account_id, balance, updated_at)
		 VALUES ($1, $2::NUMERIC, $3)`,
		a.ID, initialBalance.String(), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, nickname, password_hash, created_at
		 FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.Email, &a.Nickname, &a.PasswordHash, &a.CreatedAt)
	if err != nil {
		return nil, notFound(fmt.Sprintf("account %s", id), err)
	}
	return &a, nil
}

func (s *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	var a model.Account
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, nickname, password_hash, created_at
		 FROM accounts WHERE email = $1`, email).
		Scan(&a.ID, &a.Email, &a.Nickname, &a.PasswordHash, &a.CreatedAt)
	if err != nil {
		return nil, notFound(fmt.Sprintf("account with email %s", email), err)
	}
	return &a, nil
}

func (s *PostgresStore) UpdateNickname(ctx context.Context, id, nickname string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET nickname = $2 WHERE id = $1`, id, nickname)
	if err != nil {
		return fmt.Errorf("update nickname %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetWallet(ctx context.Context, accountID string) (*model.Wallet, error) {
	return scanWallet(s.pool.QueryRow(ctx,
		`SELECT account_id, balance::TEXT, updated_at
		 FROM wallets WHERE account_id = $1`, accountID), accountID)
}

func (s *PostgresStore) ListHoldings(ctx context.Context, accountID string) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, market, volume::TEXT, avg_price::TEXT, updated_at
		 FROM holdings WHERE account_id = $1 ORDER BY market`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanHoldings(rows)
}

func (s *PostgresStore) ListTrades(ctx context.Context, accountID string, limit int) ([]model.Trade, error) {
	// LIMIT NULL means no limit.
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, market, side,
		        price::TEXT, volume::TEXT, total::TEXT, executed_at
		 FROM trades WHERE account_id = $1
		 ORDER BY executed_at DESC, id DESC
		 LIMIT $2`, accountID, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var priceS, volumeS, totalS string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Market, &t.Side,
			&priceS, &volumeS, &totalS, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.Price, _ = decimal.NewFromString(priceS)
		t.Volume, _ = decimal.NewFromString(volumeS)
		t.Total, _ = decimal.NewFromString(totalS)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// snapshotTx is a read-only transaction that sees one committed state for
// every statement it runs.
var snapshotTx = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

func (s *PostgresStore) GetPortfolio(ctx context.Context, accountID string) (*model.AccountPortfolio, error) {
	var p model.AccountPortfolio
	err := pgx.BeginTxFunc(ctx, s.pool, snapshotTx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT id, email, nickname, created_at
			 FROM accounts WHERE id = $1`, accountID).
			Scan(&p.Account.ID, &p.Account.Email, &p.Account.Nickname, &p.Account.CreatedAt)
		if err != nil {
			return notFound(fmt.Sprintf("account %s", accountID), err)
		}

		w, err := scanWallet(tx.QueryRow(ctx,
			`SELECT account_id, balance::TEXT, updated_at
			 FROM wallets WHERE account_id = $1`, accountID), accountID)
		if err != nil {
			return err
		}
		p.Wallet = *w

		rows, err := tx.Query(ctx,
			`SELECT account_id, market, volume::TEXT, avg_price::TEXT, updated_at
			 FROM holdings WHERE account_id = $1 ORDER BY market`, accountID)
		if err != nil {
			return err
		}
		defer rows.Close()
		p.Holdings, err = scanHoldings(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) ListPortfolios(ctx context.Context) ([]model.AccountPortfolio, error) {
	var portfolios []model.AccountPortfolio
	err := pgx.BeginTxFunc(ctx, s.pool, snapshotTx, func(tx pgx.Tx) error {
		var err error
		portfolios, err = listPortfolios(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return portfolios, nil
}

func listPortfolios(ctx context.Context, tx pgx.Tx) ([]model.AccountPortfolio, error) {
	rows, err := tx.Query(ctx,
		`SELECT a.id, a.email, a.nickname, a.created_at,
		        w.balance::TEXT, w.updated_at
		 FROM accounts a
		 JOIN wallets w ON w.account_id = a.id
		 ORDER BY a.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var portfolios []model.AccountPortfolio
	index := make(map[string]int)
	for rows.Next() {
		var p model.AccountPortfolio
		var balanceS string
		if err := rows.Scan(&p.Account.ID, &p.Account.Email, &p.Account.Nickname, &p.Account.CreatedAt,
			&balanceS, &p.Wallet.UpdatedAt); err != nil {
			return nil, err
		}
		p.Wallet.AccountID = p.Account.ID
		p.Wallet.Balance, _ = decimal.NewFromString(balanceS)
		index[p.Account.ID] = len(portfolios)
		portfolios = append(portfolios, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	hrows, err := tx.Query(ctx,
		`SELECT account_id, market, volume::TEXT, avg_price::TEXT, updated_at
		 FROM holdings ORDER BY account_id, market`)
	if err != nil {
		return nil, err
	}
	defer hrows.Close()

	holdings, err := scanHoldings(hrows)
	if err != nil {
		return nil, err
	}
	for _, h := range holdings {
		i, ok := index[h.AccountID]
		if !ok {
			continue
		}
		portfolios[i].Holdings = append(portfolios[i].Holdings, h)
	}
	return portfolios, nil
}

// WithAccountTx runs fn inside one database transaction. The wallet row is
// locked first so concurrent units of work for the account queue on it.
func (s *PostgresStore) WithAccountTx(ctx context.Context, accountID string, fn func(tx AccountTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin account tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := scanWallet(tx.QueryRow(ctx,
		`SELECT account_id, balance::TEXT, updated_at
		 FROM wallets WHERE account_id = $1 FOR UPDATE`, accountID), accountID); err != nil {
		return err
	}

	if err := fn(&pgAccountTx{tx: tx, accountID: accountID}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit account tx: %w", err)
	}
	return nil
}

type pgAccountTx struct {
	tx        pgx.Tx
	accountID string
}

func (t *pgAccountTx) Wallet(ctx context.Context) (*model.Wallet, error) {
	return scanWallet(t.tx.QueryRow(ctx,
		`SELECT account_id, balance::TEXT, updated_at
		 FROM wallets WHERE account_id = $1`, t.accountID), t.accountID)
}

func (t *pgAccountTx) SetBalance(ctx context.Context, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return fmt.Errorf("%w: balance would become %s", model.ErrInsufficientFunds, balance)
	}
	_, err := t.tx.Exec(ctx,
		`UPDATE wallets SET balance = $2::NUMERIC, updated_at = $3
		 WHERE account_id = $1`,
		t.accountID, balance.String(), time.Now().UTC(),
	)
	return err
}

func (t *pgAccountTx) Holding(ctx context.Context, market string) (*model.Holding, error) {
	var h model.Holding
	var volumeS, avgS string
	err := t.tx.QueryRow(ctx,
		`SELECT account_id, market, volume::TEXT, avg_price::TEXT, updated_at
		 FROM holdings WHERE account_id = $1 AND market = $2`, t.accountID, market).
		Scan(&h.AccountID, &h.Market, &volumeS, &avgS, &h.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get holding %s: %w", market, err)
	}
	h.Volume, _ = decimal.NewFromString(volumeS)
	h.AvgPrice, _ = decimal.NewFromString(avgS)
	return &h, nil
}

func (t *pgAccountTx) PutHolding(ctx context.Context, h *model.Holding) error {
	if !h.Volume.IsPositive() {
		return fmt.Errorf("put holding %s: volume must be positive, got %s", h.Market, h.Volume)
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO holdings (account_id, market, volume, avg_price, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5)
		 ON CONFLICT (account_id, market)
		 DO UPDATE SET volume = EXCLUDED.volume, avg_price = EXCLUDED.avg_price, updated_at = EXCLUDED.updated_at`,
		t.accountID, h.Market, h.Volume.String(), h.AvgPrice.String(), time.Now().UTC(),
	)
	return err
}

func (t *pgAccountTx) DeleteHolding(ctx context.Context, market string) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM holdings WHERE account_id = $1 AND market = $2`, t.accountID, market)
	return err
}

func (t *pgAccountTx) AppendTrade(ctx context.Context, tr *model.Trade) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO trades (id, account_id, market, side, price, volume, total, executed_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)`,
		tr.ID, t.accountID, tr.Market, tr.Side,
		tr.Price.String(), tr.Volume.String(), tr.Total.String(),
		tr.ExecutedAt,
	)
	return err
}

// notFound maps pgx.ErrNoRows to model.ErrNotFound.
func notFound(what string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func scanWallet(row pgx.Row, accountID string) (*model.Wallet, error) {
	var w model.Wallet
	var balanceS string
	if err := row.Scan(&w.AccountID, &balanceS, &w.UpdatedAt); err != nil {
		return nil, notFound(fmt.Sprintf("wallet for account %s", accountID), err)
	}
	w.Balance, _ = decimal.NewFromString(balanceS)
	return &w, nil
}

// pgxRows is the subset of pgx.Rows the scanners need.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanHoldings(rows pgxRows) ([]model.Holding, error) {
	var holdings []model.Holding
	for rows.Next() {
		var h model.Holding
		var volumeS, avgS string
		if err := rows.Scan(&h.AccountID, &h.Market, &volumeS, &avgS, &h.UpdatedAt); err != nil {
			return nil, err
		}
		h.Volume, _ = decimal.NewFromString(volumeS)
		h.AvgPrice, _ = decimal.NewFromString(avgS)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}
