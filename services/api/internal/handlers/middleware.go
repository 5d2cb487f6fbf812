package handlers

import (
	"context"
	"net/http"
	"strings"

	"openpix/pixelpost/services/api/internal/auth"
	"openpix/pixelpost/services/api/internal/httpHelpers"
)

type contextKey string

const claimsKey contextKey = "authClaims"

// ClaimsFrom returns the verified token claims stored by RequireAuth, or
// nil outside an authenticated request.
func ClaimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// RequireAuth verifies the Bearer token and rejects denylisted tokens.
func (env *Env) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			httpHelpers.WriteError(w, http.StatusUnauthorized, "Missing bearer token")
			return
		}

		claims, err := env.Tokens.Verify(token)
		if err != nil {
			httpHelpers.WriteError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		denied, err := env.Sessions.IsDenied(r.Context(), claims.ID)
		if err != nil {
			env.Log.Error("denylist check failed", "error", err)
			httpHelpers.WriteError(w, http.StatusInternalServerError, "Authorization check failed")
			return
		}
		if denied {
			httpHelpers.WriteError(w, http.StatusUnauthorized, "Token has been revoked")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}
