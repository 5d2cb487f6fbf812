package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"openpix/pixelpost/services/api/internal/auth"
	"openpix/pixelpost/services/api/internal/database"
	"openpix/pixelpost/services/api/internal/httpHelpers"
)

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Login verifies credentials and issues a token.
func (env *Env) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpHelpers.WriteError(w, http.StatusBadRequest, "Expected JSON body with login and password")
		return
	}

	req.Login = strings.TrimSpace(req.Login)
	if req.Login == "" || req.Password == "" {
		httpHelpers.WriteError(w, http.StatusBadRequest, "login and password are required")
		return
	}

	user, err := env.Users.FindByLogin(r.Context(), req.Login)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			httpHelpers.WriteError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		env.Log.Error("login lookup failed", "error", err)
		httpHelpers.WriteError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		httpHelpers.WriteError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, jti, err := env.Tokens.Issue(user.ID.Hex(), user.Username)
	if err != nil {
		env.Log.Error("failed to issue token", "error", err)
		httpHelpers.WriteError(w, http.StatusInternalServerError, "Login failed")
		return
	}
	if err := env.Sessions.StoreSession(r.Context(), jti, user.ID.Hex(), env.Tokens.TTL()); err != nil {
		env.Log.Error("failed to store session", "error", err)
	}

	env.Log.Info("user logged in", "username", user.Username)
	httpHelpers.WriteOutput(w, map[string]any{
		"token": token,
		"user":  user,
	})
}

// Logout denylists the presented token until its natural expiry and
// drops the session.
func (env *Env) Logout(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	if claims == nil {
		httpHelpers.WriteError(w, http.StatusUnauthorized, "Missing token")
		return
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if err := env.Sessions.DenyToken(r.Context(), claims.ID, ttl); err != nil {
		env.Log.Error("failed to deny token", "error", err)
		httpHelpers.WriteError(w, http.StatusInternalServerError, "Logout failed")
		return
	}
	if err := env.Sessions.DropSession(r.Context(), claims.ID); err != nil {
		env.Log.Error("failed to drop session", "error", err)
	}

	env.Log.Info("user logged out", "username", claims.Username)
	httpHelpers.WriteOutput(w, map[string]any{"msg": "Logged out"})
}
