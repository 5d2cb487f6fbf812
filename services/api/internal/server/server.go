// Package server assembles one worker's network-facing stack: data
// dependencies, route tree, WebSocket hub and the shared-port listener.
// It implements the cluster core's Server contract, so nothing here runs
// before readiness is granted.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"openpix/pixelpost/pkg/config"
	"openpix/pixelpost/services/api/internal/auth"
	"openpix/pixelpost/services/api/internal/cache"
	"openpix/pixelpost/services/api/internal/database"
	"openpix/pixelpost/services/api/internal/handlers"
	"openpix/pixelpost/services/api/internal/media"
	"openpix/pixelpost/services/api/internal/netutil"
	"openpix/pixelpost/services/api/internal/ws"
)

type Server struct {
	cfg         *config.Config
	log         *slog.Logger
	workerIndex int
	// onFault reports asynchronous serve failures to the worker runtime's
	// local fault path.
	onFault func(error)

	httpSrv *http.Server
	store   *database.Store
	kv      *cache.Cache
	hub     *ws.Hub
}

func New(cfg *config.Config, logger *slog.Logger, workerIndex int, onFault func(error)) *Server {
	return &Server{
		cfg:         cfg,
		log:         logger,
		workerIndex: workerIndex,
		onFault:     onFault,
	}
}

// Start connects this worker's own database and cache clients, builds the
// route tree, and binds the shared port. Non-blocking: serving continues
// on a background goroutine, with failures reported through onFault.
func (s *Server) Start(ctx context.Context) (string, error) {
	store, err := database.Connect(ctx, s.cfg.Database.URL, s.cfg.Database.Name, s.log)
	if err != nil {
		return "", err
	}
	s.store = store

	if err := store.Users().EnsureIndexes(ctx); err != nil {
		return "", err
	}

	kv, err := cache.Connect(ctx, s.cfg.Cache.URL, s.log)
	if err != nil {
		return "", err
	}
	s.kv = kv

	var uploader media.Uploader = media.Disabled{}
	if s.cfg.Media.CloudinaryURL != "" {
		uploader, err = media.NewCloudinary(s.cfg.Media.CloudinaryURL, s.cfg.Media.Folder)
		if err != nil {
			return "", err
		}
	}

	s.hub = ws.NewHub(s.log)

	env := &handlers.Env{
		Log:            s.log,
		Users:          store.Users(),
		Sessions:       kv,
		Tokens:         auth.NewTokens(s.cfg.Auth.JWTSecret, s.cfg.Auth.TokenTTL),
		Media:          uploader,
		Notify:         s.hub,
		WorkerIndex:    s.workerIndex,
		MaxUploadBytes: s.cfg.Server.MaxUploadBytes,
	}
	router := handlers.NewRouter(env, handlers.RouterOptions{
		CORSOrigins: s.cfg.Server.CORSOrigins,
		RateLimit:   s.cfg.Server.RateLimit,
		WebSocket:   s.hub.Handle,
	})

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Hostname, s.cfg.Server.Port)
	ln, err := netutil.ListenReusable(ctx, "tcp", addr)
	if err != nil {
		return "", err
	}

	s.httpSrv = &http.Server{Handler: router}
	go func() {
		err := s.httpSrv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.onFault(fmt.Errorf("http server: %w", err))
		}
	}()

	return ln.Addr().String(), nil
}

// Drain stops accepting new connections and lets in-flight requests
// finish until ctx expires, then closes everything including the data
// clients.
func (s *Server) Drain(ctx context.Context) error {
	var drainErr error
	if s.httpSrv != nil {
		s.httpSrv.SetKeepAlivesEnabled(false)
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			// Deadline hit: remaining connections are force-cut.
			drainErr = err
			_ = s.httpSrv.Close()
		}
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if s.kv != nil {
		_ = s.kv.Close()
	}
	if s.store != nil {
		_ = s.store.Close(context.Background())
	}
	return drainErr
}
