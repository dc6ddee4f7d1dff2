// Package auth issues and verifies the session tokens that identify the
// account behind an authenticated request.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/coinarena/ledger-engine/internal/model"
)

// DefaultTTL is the token lifetime when none is configured.
const DefaultTTL = 24 * time.Hour

// JWTService signs and parses HS256 tokens carrying an account ID.
type JWTService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService creates a token service. A non-positive ttl selects DefaultTTL.
func NewJWTService(secret string, ttl time.Duration) *JWTService {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &JWTService{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Claims is the token payload.
type Claims struct {
	AccountID string `json:"account_id"`
	jwt.RegisteredClaims
}

// Sign issues a token for accountID.
func (s *JWTService) Sign(accountID string) (string, error) {
	now := s.now()
	claims := Claims{
		AccountID: accountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Parse verifies tokenStr and returns its claims. Any failure wraps
// model.ErrUnauthenticated.
func (s *JWTService) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrUnauthenticated, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.AccountID == "" {
		return nil, fmt.Errorf("%w: invalid token", model.ErrUnauthenticated)
	}
	return claims, nil
}
