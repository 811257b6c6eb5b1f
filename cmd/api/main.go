// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Api is the entry point for the registry HTTP API server.

The server maintains consistent person and location aggregates, derived from
an append-only stream of JSON Merge Patch events, and exposes both the
current aggregates and the event streams over HTTP.

Usage:

	go run cmd/api/main.go [flags]

The flags/environment variables are:

	SERVER_PORT        Port to listen on (default: 8080)
	ENVIRONMENT         deployment environment (development, production)
	STORE_DSN           "memory" for the in-process store, or a Postgres DSN
	MIGRATION_PATH      filesystem path to SQL migrations (Postgres only)
	RETENTION_EVENTS    count-based retention window for the reaper
	RETENTION_AGE       age-based retention window, used only when RETENTION_EVENTS is 0
	REAPER_INTERVAL     how often the reaper sweeps expired events
	SSE_KEEPALIVE       keep-alive comment interval for event-stream subscribers

Startup Sequence:

 1. Logger: Initialize structured JSON logging (slog).
 2. Config: Load and validate environment variables.
 3. Storage: Select and construct the Store backend (memory or Postgres).
 4. Migration: Run idempotent schema updates (Postgres backend only).
 5. Wiring: Inject dependencies into the aggregator, broker, reaper, and handler.
 6. Server: Bind HTTP listener, run the reaper, and handle graceful shutdown.

No business logic lives here. This file is strictly for orchestration and wiring.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taibuivan/registry/internal/api"
	"github.com/taibuivan/registry/internal/core/registry"
	"github.com/taibuivan/registry/internal/platform/config"
	"github.com/taibuivan/registry/internal/platform/constants"
	"github.com/taibuivan/registry/internal/platform/migration"
	pgstore "github.com/taibuivan/registry/internal/platform/postgres"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application_startup_failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	// # 1. Logger
	// Initialize first, at the default level, so that a configuration load
	// failure is still logged as structured JSON.
	rawLog := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Add global context to all log entries for trace correlation.
	log := rawLog.With(slog.String("app", constants.AppName))
	slog.SetDefault(log)

	log.Info("service_initializing")

	// # 2. Configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	// Re-initialize the logger at the configured level now that LogLevel is
	// known.
	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})).With(slog.String("app", constants.AppName))
	slog.SetDefault(log)
	log.Debug("log_level_configured", slog.String("level", cfg.LogLevel))

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.ServerPort),
		slog.Bool("memory_store", cfg.UsesMemoryStore()),
	)

	// Root context for startup. A 30s deadline prevents the app from hanging
	// on an unreachable Postgres instance.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// # 3. Store
	store, closeStore, err := newStore(startupCtx, cfg, log)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer closeStore()

	// # 4. Health Wiring
	liveness, readiness := api.NewHealthHandlers(api.HealthDependencies{
		CheckDatabase: func() error {
			return store.Ping(context.Background())
		},
	}, log)

	// # 5. Domain Wiring
	broker := registry.NewBroker()
	aggregator := registry.NewAggregator(store, broker, log)
	reaper := registry.NewReaper(store, log, cfg.ReaperInterval, cfg.RetentionEvents, cfg.RetentionAge)
	registryHandler := registry.NewHandler(aggregator, broker, store, registry.SSEOptions{
		KeepAliveInterval: cfg.SSEKeepAlive,
	})

	// # 6. API Assembly
	handlers := api.Handlers{
		Liveness:  liveness,
		Readiness: readiness,
		Registry:  registryHandler,
	}

	// appCtx governs the whole application lifecycle: the HTTP server and the
	// reaper both stop when it is cancelled, either by a shutdown signal or
	// by one of them returning an unrecoverable error.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	server := api.NewServer(appCtx, cfg, log, handlers)

	// # 7. Lifecycle Handling
	//
	// The HTTP server and the reaper run as sibling goroutines under a single
	// errgroup: if either returns a non-nil error, the group context is
	// cancelled and the other is asked to stop, so a reaper crash can never
	// leave the API silently serving stale data forever, and vice versa.
	group, groupCtx := errgroup.WithContext(appCtx)

	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http_server_crash: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		return reaper.Run(groupCtx)
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	group.Go(func() error {
		select {
		case sig := <-quit:
			log.Info("shutdown_signal_received", slog.String("signal", sig.String()))
		case <-groupCtx.Done():
		}
		appCancel()

		log.Info("shutting_down_api_server", slog.Duration("timeout", constants.ShutdownTimeout))
		if err := server.Shutdown(constants.ShutdownTimeout); err != nil {
			return fmt.Errorf("server_shutdown_failed: %w", err)
		}
		return nil
	})

	log.Info("registry_api_running", slog.String("port", cfg.ServerPort))

	if err := group.Wait(); err != nil {
		return err
	}

	log.Info("graceful_shutdown_complete")
	return nil
}

// newStore constructs the [registry.Store] selected by cfg.StoreDSN, running
// migrations first when the Postgres backend is selected. The returned close
// function releases whatever resources the chosen backend opened; it is a
// no-op for the in-process store.
func newStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (registry.Store, func(), error) {
	if cfg.UsesMemoryStore() {
		log.Info("store_backend_selected", slog.String("backend", "memory"))
		store, err := registry.NewMemDBStore()
		if err != nil {
			return nil, nil, fmt.Errorf("construct memory store: %w", err)
		}
		return store, func() {}, nil
	}

	log.Info("store_backend_selected", slog.String("backend", "postgres"))

	if err := migration.RunUp(cfg.StoreDSN, cfg.MigrationPath, log); err != nil {
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	pool, err := pgstore.NewPool(ctx, cfg.StoreDSN, log)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	store := registry.NewPostgresStore(pool)
	closeFn := func() {
		log.Info("closing_postgres_pool")
		pool.Close()
	}
	return store, closeFn, nil
}
