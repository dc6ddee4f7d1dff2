// Package account registers competitors, verifies their credentials and
// manages the one mutable profile field, the nickname.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/coinarena/ledger-engine/internal/metrics"
	"github.com/coinarena/ledger-engine/internal/model"
	"github.com/coinarena/ledger-engine/internal/store"
)

const (
	// DefaultBcryptCost is used when no cost is configured.
	DefaultBcryptCost = 12

	MaxNicknameLength = 30
	maxPasswordBytes  = 72 // bcrypt input limit
)

// Service handles registration, login and profile updates.
type Service struct {
	store          store.Store
	initialBalance decimal.Decimal
	bcryptCost     int
}

// NewService creates an account service. Every new wallet is funded with
// initialBalance. A bcryptCost of zero selects DefaultBcryptCost.
func NewService(st store.Store, initialBalance decimal.Decimal, bcryptCost int) *Service {
	if bcryptCost == 0 {
		bcryptCost = DefaultBcryptCost
	}
	return &Service{store: st, initialBalance: initialBalance, bcryptCost: bcryptCost}
}

// Register creates an account and its funded wallet atomically. Emails are
// compared case-insensitively.
func (s *Service) Register(ctx context.Context, email, password, nickname string) (*model.Account, error) {
	email = normalizeEmail(email)
	nickname = strings.TrimSpace(nickname)

	if email == "" || password == "" || nickname == "" {
		return nil, fmt.Errorf("%w: email, password and nickname are required", model.ErrValidation)
	}
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: malformed email", model.ErrValidation)
	}
	if len(password) > maxPasswordBytes {
		return nil, fmt.Errorf("%w: password longer than %d bytes", model.ErrValidation, maxPasswordBytes)
	}
	if err := validateNickname(nickname); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	a := &model.Account{
		ID:           uuid.New().String(),
		Email:        email,
		Nickname:     nickname,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, a, s.initialBalance); err != nil {
		return nil, err
	}

	metrics.RegisteredAccounts.Inc()
	slog.Info("account registered", "account", a.ID, "nickname", a.Nickname)
	return a, nil
}

// Authenticate verifies credentials. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.Account, error) {
	a, err := s.store.GetAccountByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("%w: invalid credentials", model.ErrUnauthenticated)
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("%w: invalid credentials", model.ErrUnauthenticated)
	}
	return a, nil
}

// Get returns an account by ID.
func (s *Service) Get(ctx context.Context, id string) (*model.Account, error) {
	return s.store.GetAccount(ctx, id)
}

// Rename changes an account's nickname and returns the updated account.
func (s *Service) Rename(ctx context.Context, id, nickname string) (*model.Account, error) {
	nickname = strings.TrimSpace(nickname)
	if err := validateNickname(nickname); err != nil {
		return nil, err
	}
	if err := s.store.UpdateNickname(ctx, id, nickname); err != nil {
		return nil, err
	}
	return s.store.GetAccount(ctx, id)
}

func validateNickname(nickname string) error {
	if nickname == "" {
		return fmt.Errorf("%w: nickname is required", model.ErrValidation)
	}
	if utf8.RuneCountInString(nickname) > MaxNicknameLength {
		return fmt.Errorf("%w: nickname longer than %d characters", model.ErrValidation, MaxNicknameLength)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
