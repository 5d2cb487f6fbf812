package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"openpix/pixelpost/services/api/internal/httpHelpers"
)

// UpdateAvatar replaces the authenticated user's avatar with a freshly
// uploaded image.
func (env *Env) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	if claims == nil {
		httpHelpers.WriteError(w, http.StatusUnauthorized, "Missing token")
		return
	}

	if err := r.ParseMultipartForm(env.MaxUploadBytes); err != nil {
		httpHelpers.WriteError(w, http.StatusBadRequest, "Expected multipart form data")
		return
	}

	file, _, err := r.FormFile("avatar")
	if err != nil {
		httpHelpers.WriteError(w, http.StatusBadRequest, "avatar file is required")
		return
	}
	defer file.Close()

	url, err := env.Media.UploadAvatar(r.Context(), file, uuid.NewString())
	if err != nil {
		env.Log.Error("avatar upload failed", "error", err)
		httpHelpers.WriteError(w, http.StatusBadGateway, "Avatar upload failed")
		return
	}

	userID, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		httpHelpers.WriteError(w, http.StatusUnauthorized, "Invalid token subject")
		return
	}
	if err := env.Users.SetAvatar(r.Context(), userID, url); err != nil {
		env.Log.Error("failed to store avatar url", "error", err)
		httpHelpers.WriteError(w, http.StatusInternalServerError, "Avatar update failed")
		return
	}

	env.Log.Info("avatar updated", "username", claims.Username)
	if env.Notify != nil {
		env.Notify.Broadcast(map[string]string{
			"event":     "avatar_updated",
			"username":  claims.Username,
			"avatarUrl": url,
		})
	}
	httpHelpers.WriteOutput(w, map[string]any{"avatarUrl": url})
}
