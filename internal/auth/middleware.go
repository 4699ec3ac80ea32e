package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type ctxKey int

const accountKey ctxKey = iota

// Identity is the caller resolved from a bearer token.
type Identity struct {
	AccountID string
	Username  string
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, accountKey, id)
}

// FromContext returns the caller set by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(accountKey).(Identity)
	return id, ok
}

// Middleware rejects requests without a valid "Authorization: Bearer"
// token and stores the caller's Identity in the request context.
func (m *TokenManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			unauthorized(w, "missing bearer token")
			return
		}

		claims, err := m.Parse(strings.TrimSpace(token))
		if err != nil {
			unauthorized(w, "could not validate credentials")
			return
		}

		ctx := WithIdentity(r.Context(), Identity{AccountID: claims.Subject, Username: claims.Username})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "detail": detail})
}
