package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"openpix/pixelpost/pkg/config"
	"openpix/pixelpost/pkg/shared"
	"openpix/pixelpost/pkg/shared/helpers"
	"openpix/pixelpost/services/api/internal/cache"
	"openpix/pixelpost/services/api/internal/cluster"
	"openpix/pixelpost/services/api/internal/database"
	"openpix/pixelpost/services/api/internal/server"
)

// Internal flags, set only by the primary when re-executing itself in the
// worker role. User configuration arrives entirely via environment
// variables.
var (
	clusterWorker      = pflag.Bool(cluster.FlagWorker, false, "internal: run in the worker role")
	clusterWorkerIndex = pflag.Int(cluster.FlagWorkerIndex, 0, "internal: worker index within the fleet")
	clusterWorkerID    = pflag.String(cluster.FlagWorkerID, "", "internal: worker id assigned by the primary")
)

func main() {
	pflag.Parse()

	cfg := config.Load("")
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if *clusterWorker {
		runWorker(cfg)
		return
	}
	runPrimary(cfg)
}

func runPrimary(cfg *config.Config) {
	logger := shared.NewLogger("api", cfg.LogLevel)
	logger.Info("starting primary", "pid", os.Getpid())

	boot := cluster.NewBootstrap(func(ctx context.Context) (cluster.ConnectionInfo, error) {
		store, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.Name, logger)
		if err != nil {
			return cluster.ConnectionInfo{}, err
		}
		if err := store.Users().EnsureIndexes(ctx); err != nil {
			_ = store.Close(ctx)
			return cluster.ConnectionInfo{}, err
		}
		// The primary only proves the dependencies are reachable; each
		// worker dials its own clients once readiness is relayed.
		kv, err := cache.Connect(ctx, cfg.Cache.URL, logger)
		if err != nil {
			_ = store.Close(ctx)
			return cluster.ConnectionInfo{}, err
		}
		helpers.CloseOrLog(kv)
		if err := store.Close(ctx); err != nil {
			logger.Warn("closing bootstrap connection", "error", err)
		}
		return cluster.ConnectionInfo{URI: cfg.Database.URL, Database: cfg.Database.Name}, nil
	})

	coord := cluster.NewCoordinator(boot, cluster.Options{
		Workers:      cfg.Cluster.Workers,
		ShutdownWait: cfg.Cluster.ShutdownWait,
		Spawn:        cluster.NewSelfSpawner(logger),
		Logger:       logger,
	})

	defer func() {
		if r := recover(); r != nil {
			coord.Fail(fmt.Errorf("panic: %v", r))
			select {}
		}
	}()

	// Installed before Start so a signal landing during a slow bootstrap
	// dial still takes the graceful path instead of the default
	// disposition.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for sig := range sigCh {
			coord.Shutdown("signal:"+sig.String(), 0)
		}
	}()

	if err := coord.Start(context.Background()); err != nil {
		logger.Error("primary startup failed", "error", err)
		os.Exit(1)
	}
	select {}
}

func runWorker(cfg *config.Config) {
	id := *clusterWorkerID
	if id == "" {
		id = uuid.NewString()
	}
	index := *clusterWorkerIndex

	// Stdout carries the lifecycle event channel; logs go to stderr.
	logger := shared.NewLoggerTo(os.Stderr, "api", cfg.LogLevel)

	var w *cluster.Worker
	srv := server.New(cfg, logger.With("label", "worker", "index", index), index, func(err error) {
		w.Fail(err)
	})

	w = cluster.NewWorker(cluster.WorkerOptions{
		Config:       cluster.WorkerConfig{Index: index, ID: id},
		Server:       srv,
		DrainTimeout: cfg.Cluster.DrainTimeout,
		In:           os.Stdin,
		Out:          os.Stdout,
		Logger:       logger,
	})

	w.Run(context.Background())
}
