// Package handlers holds the api service's HTTP routes.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"openpix/pixelpost/services/api/internal/auth"
	"openpix/pixelpost/services/api/internal/database"
	"openpix/pixelpost/services/api/internal/media"
)

// UserStore is the slice of the database layer the handlers use.
type UserStore interface {
	Create(ctx context.Context, user database.User) (database.User, error)
	FindByLogin(ctx context.Context, login string) (database.User, error)
	SetAvatar(ctx context.Context, id primitive.ObjectID, url string) error
}

// Notifier fans application events out to connected WebSocket clients.
type Notifier interface {
	Broadcast(v any)
}

// SessionCache is the slice of the cache layer the handlers use.
type SessionCache interface {
	StoreSession(ctx context.Context, jti, userID string, ttl time.Duration) error
	DropSession(ctx context.Context, jti string) error
	DenyToken(ctx context.Context, jti string, ttl time.Duration) error
	IsDenied(ctx context.Context, jti string) (bool, error)
}

// Env carries the handlers' collaborators.
type Env struct {
	Log      *slog.Logger
	Users    UserStore
	Sessions SessionCache
	Tokens   *auth.Tokens
	Media    media.Uploader
	// Notify may be nil when the worker runs without a WebSocket hub.
	Notify Notifier

	WorkerIndex    int
	MaxUploadBytes int64
}

// RouterOptions is the middleware configuration for the route tree.
type RouterOptions struct {
	CORSOrigins []string
	RateLimit   int
	// WebSocket is mounted at /ws on the same listener.
	WebSocket http.HandlerFunc
}

// NewRouter builds the full route tree with the middleware chain.
func NewRouter(env *Env, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	if opts.RateLimit > 0 {
		r.Use(httprate.LimitByIP(opts.RateLimit, time.Minute))
	}

	r.Get("/health", env.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/test", env.Test)
		r.Post("/register", env.Register)
		r.Post("/login", env.Login)

		r.Group(func(r chi.Router) {
			r.Use(env.RequireAuth)
			r.Post("/logout", env.Logout)
			r.Post("/avatar", env.UpdateAvatar)
		})
	})

	if opts.WebSocket != nil {
		r.Get("/ws", opts.WebSocket)
	}

	return r
}
