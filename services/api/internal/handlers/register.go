package handlers

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"openpix/pixelpost/services/api/internal/auth"
	"openpix/pixelpost/services/api/internal/database"
	"openpix/pixelpost/services/api/internal/httpHelpers"
)

const minPasswordLength = 8

// Register creates an account from a multipart form: username, email,
// password, plus an optional avatar file uploaded to media storage.
func (env *Env) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(env.MaxUploadBytes); err != nil {
		httpHelpers.WriteError(w, http.StatusBadRequest, "Expected multipart form data")
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")

	if username == "" || email == "" || password == "" {
		httpHelpers.WriteError(w, http.StatusBadRequest, "username, email and password are required")
		return
	}
	if _, err := mail.ParseAddress(email); err != nil {
		httpHelpers.WriteError(w, http.StatusBadRequest, "Invalid email address")
		return
	}
	if len(password) < minPasswordLength {
		httpHelpers.WriteError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		env.Log.Error("failed to hash password", "error", err)
		httpHelpers.WriteError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	// Upload the avatar first so a failed upload never leaves a half
	// registered account behind.
	avatarURL := ""
	if file, _, err := r.FormFile("avatar"); err == nil {
		defer file.Close()
		avatarURL, err = env.Media.UploadAvatar(r.Context(), file, uuid.NewString())
		if err != nil {
			env.Log.Error("avatar upload failed", "error", err)
			httpHelpers.WriteError(w, http.StatusBadGateway, "Avatar upload failed")
			return
		}
	}

	user, err := env.Users.Create(r.Context(), database.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		AvatarURL:    avatarURL,
	})
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			httpHelpers.WriteError(w, http.StatusConflict, "Username or email already taken")
			return
		}
		env.Log.Error("failed to create user", "error", err)
		httpHelpers.WriteError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	token, jti, err := env.Tokens.Issue(user.ID.Hex(), user.Username)
	if err != nil {
		env.Log.Error("failed to issue token", "error", err)
		httpHelpers.WriteError(w, http.StatusInternalServerError, "Registration failed")
		return
	}
	if err := env.Sessions.StoreSession(r.Context(), jti, user.ID.Hex(), env.Tokens.TTL()); err != nil {
		env.Log.Error("failed to store session", "error", err)
	}

	env.Log.Info("user registered", "username", user.Username)
	if env.Notify != nil && user.AvatarURL != "" {
		env.Notify.Broadcast(map[string]string{
			"event":     "avatar_updated",
			"username":  user.Username,
			"avatarUrl": user.AvatarURL,
		})
	}
	httpHelpers.WriteJSON(w, http.StatusCreated, map[string]any{
		"token": token,
		"user":  user,
	})
}
