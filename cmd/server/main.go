// Package main is the entrypoint for the try-on API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/tryon/internal/api"
	"github.com/kiranshivaraju/tryon/internal/api/handler"
	mw "github.com/kiranshivaraju/tryon/internal/api/middleware"
	"github.com/kiranshivaraju/tryon/internal/api/response"
	"github.com/kiranshivaraju/tryon/internal/cache"
	"github.com/kiranshivaraju/tryon/internal/config"
	"github.com/kiranshivaraju/tryon/internal/gateway"
	"github.com/kiranshivaraju/tryon/internal/storage"
	"github.com/kiranshivaraju/tryon/internal/store"
	"github.com/kiranshivaraju/tryon/internal/tryon"
	"github.com/kiranshivaraju/tryon/internal/worker"
	"github.com/spf13/afero"
	"github.com/subosito/gotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := loadDotEnv(".env"); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// loadDotEnv applies a .env file if one exists. Variables already set in the
// environment are kept.
func loadDotEnv(path string) error {
	err := gotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "gateway_provider", cfg.Gateway.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Status store
	redisCache, err := cache.NewRedisCacheFromConfig(cfg.Redis)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 3. Optional task history
	var history store.Store = store.NopStore{}
	if cfg.Database.Enabled() {
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		history = store.NewPostgresStore(pool)
		slog.Info("task history enabled")
	}

	// 4. File storage
	osFs := afero.NewOsFs()
	uploads, err := storage.NewUploads(osFs, cfg.Storage.UploadDir)
	if err != nil {
		return err
	}
	results, err := storage.NewResults(osFs, cfg.Storage.ResultDir(), api.ResultsPrefix)
	if err != nil {
		return err
	}

	// 5. Inference gateway
	provider, err := gateway.NewProvider(cfg.Gateway)
	if err != nil {
		return fmt.Errorf("create gateway provider: %w", err)
	}
	gw := gateway.New(provider, uploads, results, cfg.Gateway.Timeout)
	slog.Info("gateway initialized", "provider", provider.Name(), "timeout", cfg.Gateway.Timeout)

	// 6. Workers and task manager
	workers := worker.NewPool(worker.Config{
		Workers:     cfg.Worker.Count,
		QueueSize:   cfg.Worker.QueueSize,
		CancelGrace: cfg.Worker.CancelGrace,
	})
	manager := tryon.NewManager(redisCache, history, uploads, gw, workers, cfg.Redis.StatusTTL)

	// 7. Build router with dependencies
	deps := api.Dependencies{
		RootHandler:   handler.NewRootHandler(),
		HealthHandler: healthHandler(history, redisCache, workers),
		UploadHandler: handler.NewUploadHandler(manager, handler.UploadOptions{
			MaxBytes:        cfg.Server.UploadMaxBytes,
			MultipartMemory: cfg.Server.MultipartMemory,
		}),
		StatusHandler: handler.NewStatusHandler(manager),
		Results:       results.Handler(),
	}
	if cfg.Server.RateLimitPerMin > 0 {
		deps.RateLimit = mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin)
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// In-flight inference gets whatever is left of the shutdown budget; past
	// it, jobs are cancelled and given CancelGrace to record their outcome
	// before the status store is closed.
	if err := workers.Shutdown(shutdownCtx); err != nil {
		slog.Warn("worker pool did not drain", "error", err, "stats", workers.Stats())
	}

	slog.Info("server stopped gracefully")
	return nil
}

type poolStats interface {
	Stats() worker.Stats
}

// healthHandler checks history, status store and worker pool state.
func healthHandler(s store.Store, c cache.Cache, pool poolStats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		body := map[string]any{
			"status":   "ok",
			"services": checks,
			"workers":  pool.Stats(),
		}

		if checks["database"] != "ok" || checks["cache"] != "ok" {
			body["status"] = "degraded"
			response.Status(w, http.StatusServiceUnavailable, body)
			return
		}

		response.JSON(w, body)
	}
}
