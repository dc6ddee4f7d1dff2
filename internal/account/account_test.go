package account_test

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/coinarena/ledger-engine/internal/account"
	"github.com/coinarena/ledger-engine/internal/model"
	"github.com/coinarena/ledger-engine/internal/store"
)

func newService(t *testing.T) (*account.Service, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return account.NewService(ms, decimal.NewFromInt(1000000), bcrypt.MinCost), ms
}

func TestRegister_ProvisionsWallet(t *testing.T) {
	svc, ms := newService(t)
	ctx := context.Background()

	a, err := svc.Register(ctx, "  Alice@Example.com ", "pw-123456", " alice ")
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "alice@example.com", a.Email)
	assert.Equal(t, "alice", a.Nickname)
	assert.NotEqual(t, "pw-123456", a.PasswordHash)

	w, err := ms.GetWallet(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(1000000)))
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "bob@example.com", "pw", "bob")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "BOB@example.com", "other", "bobby")
	assert.ErrorIs(t, err, model.ErrDuplicate)
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		name, email, password, nickname string
	}{
		{"missing email", "", "pw", "n"},
		{"missing password", "a@b.c", "", "n"},
		{"missing nickname", "a@b.c", "pw", "  "},
		{"malformed email", "not-an-email", "pw", "n"},
		{"long nickname", "a@b.c", "pw", strings.Repeat("x", account.MaxNicknameLength+1)},
		{"long password", "a@b.c", strings.Repeat("p", 73), "n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.email, tc.password, tc.nickname)
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "carol@example.com", "correct-horse", "carol")
	require.NoError(t, err)

	a, err := svc.Authenticate(ctx, "Carol@Example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, reg.ID, a.ID)

	_, err = svc.Authenticate(ctx, "carol@example.com", "wrong")
	assert.ErrorIs(t, err, model.ErrUnauthenticated)

	_, err = svc.Authenticate(ctx, "nobody@example.com", "correct-horse")
	assert.ErrorIs(t, err, model.ErrUnauthenticated)
}

func TestRename(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "dan@example.com", "pw", "dan")
	require.NoError(t, err)

	a, err := svc.Rename(ctx, reg.ID, "  daniel ")
	require.NoError(t, err)
	assert.Equal(t, "daniel", a.Nickname)
	assert.Equal(t, reg.Email, a.Email)

	_, err = svc.Rename(ctx, reg.ID, "")
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = svc.Rename(ctx, "ghost", "x")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
