package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"autoblog/internal/identity"
)

type contextKey string

const principalKey contextKey = "principal"

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Authenticate(w http.ResponseWriter, r *http.Request) (*identity.Principal, error)
}

type AuthMiddleware struct {
	auth Authenticator
}

func NewAuthMiddleware(auth Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: auth}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := m.auth.Authenticate(w, r)
		if errors.Is(err, identity.ErrUnauthenticated) {
			unauthorized(w, "Authentication required")
			return
		}
		if err != nil {
			slog.ErrorContext(r.Context(), "error authenticating request", "error", err)
			internalError(w)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetPrincipal returns the caller set by RequireAuth, or nil.
func GetPrincipal(r *http.Request) *identity.Principal {
	if v, ok := r.Context().Value(principalKey).(*identity.Principal); ok {
		return v
	}
	return nil
}

func GetUserID(r *http.Request) string {
	if p := GetPrincipal(r); p != nil && p.User != nil {
		return p.User.ID
	}
	return ""
}
