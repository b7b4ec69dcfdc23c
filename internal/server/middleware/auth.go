package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/datagate-io/datagate/internal/auth"
)

type contextKeyAuth string

// AdminKey is the context key for the authenticated admin principal.
const AdminKey contextKeyAuth = "admin_principal"

// RequireAdmin returns an HTTP middleware guarding the management API. It
// accepts only a JWT Bearer token issued by the session endpoint; proxy
// access tokens are a separate credential and never grant management
// access. On success the admin principal is attached to the request
// context.
func RequireAdmin(authSvc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeAuthError(w, http.StatusUnauthorized, "admin session required")
				return
			}
			principal, err := authSvc.ValidateJWT(r.Context(), strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}
			ctx := context.WithValue(r.Context(), AdminKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAdmin extracts the authenticated admin from the context. Returns nil
// for unauthenticated requests.
func GetAdmin(ctx context.Context) *auth.AdminPrincipal {
	if p, ok := ctx.Value(AdminKey).(*auth.AdminPrincipal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Manually construct JSON to avoid an import cycle with the handler
	// package.
	w.Write([]byte(`{"error_code":"INVALID_TOKEN","message":"` + message + `"}`))
}
