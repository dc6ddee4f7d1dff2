package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const contextKeyAccountID contextKey = "account_id"

// Middleware rejects requests without a valid Bearer token and stores the
// token's account ID in the request context.
func Middleware(jwtSvc *JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				unauthorized(w)
				return
			}
			claims, err := jwtSvc.Parse(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccountID(r.Context(), claims.AccountID)))
		})
	}
}

// WithAccountID returns a copy of ctx carrying accountID.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, contextKeyAccountID, accountID)
}

// AccountIDFromCtx returns the authenticated account ID, or "" if none.
func AccountIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(contextKeyAccountID).(string)
	return v
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized"}`))
}
