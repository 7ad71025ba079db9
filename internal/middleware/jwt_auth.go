package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/vividforge/backend/internal/models"
)

// TokenValidator verifies a bearer JWT and returns the account it was
// issued to.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, error)
}

// JWTAuth authenticates requests with a session JWT from the login endpoint.
// Key management runs behind this instead of APIKeyAuth so a leaked API key
// cannot mint or revoke keys. Only the account ID is populated in the
// context.
func JWTAuth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}
			accountID, err := tokens.ValidateToken(r.Context(), raw)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}
			acc := &models.Account{ID: accountID}
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), acc)))
		})
	}
}
