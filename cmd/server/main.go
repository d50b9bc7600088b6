// Package main is the entrypoint for the FormCoach API server.
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

	"github.com/robfig/cron/v3"

	"github.com/anavarrete/formcoach/internal/analysis"
	"github.com/anavarrete/formcoach/internal/api"
	"github.com/anavarrete/formcoach/internal/api/handler"
	mw "github.com/anavarrete/formcoach/internal/api/middleware"
	"github.com/anavarrete/formcoach/internal/cache"
	"github.com/anavarrete/formcoach/internal/config"
	"github.com/anavarrete/formcoach/internal/genai"
	"github.com/anavarrete/formcoach/internal/imagegen"
	"github.com/anavarrete/formcoach/internal/lock"
	"github.com/anavarrete/formcoach/internal/plan"
	"github.com/anavarrete/formcoach/internal/storage"
	"github.com/anavarrete/formcoach/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "model_tiers", cfg.GenAI.ModelTiers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create cache and locker, in-process when Redis is not configured
	var appCache cache.Cache
	var locker lock.Locker
	if cfg.Redis.URL != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		appCache = redisCache
		locker = lock.NewRedisLocker(redisCache.Client())
		slog.Info("redis connected")
	} else {
		appCache = cache.NewMemoryCache()
		locker = lock.NewMemoryLocker()
		slog.Warn("REDIS_URL not set; using in-process cache and locks, only safe with a single server instance")
	}

	// 5. Select object storage
	var objects storage.Storage
	var mediaDir string
	if cfg.Storage.CredentialsFile != "" {
		gcs, err := storage.NewGCSStorage(ctx, cfg.Storage.CredentialsFile, cfg.Storage.Bucket, cfg.Storage.CDNDomain)
		if err != nil {
			return fmt.Errorf("create gcs storage: %w", err)
		}
		defer gcs.Close()
		objects = gcs
		slog.Info("object storage initialized", "backend", "gcs", "bucket", cfg.Storage.Bucket)
	} else {
		local, err := storage.NewLocalStorage(cfg.Storage.MediaDir)
		if err != nil {
			return fmt.Errorf("create local storage: %w", err)
		}
		objects = local
		mediaDir = local.Dir()
		slog.Info("object storage initialized", "backend", "local", "dir", mediaDir)
	}

	// 6. Create inference clients
	genaiClient := genai.NewHTTPClient(cfg.GenAI.BaseURL, cfg.GenAI.APIKey, cfg.GenAI.InferenceTimeout)
	stager := genai.NewStager(genaiClient, cfg.GenAI.StagingPoll, cfg.GenAI.StagingTimeout)
	gateway := genai.NewGateway(genaiClient, cfg.GenAI.ModelTiers, logger)

	imageKey := cfg.ImageGen.APIKey
	if imageKey == "" {
		imageKey = cfg.GenAI.APIKey
	}
	images := imagegen.NewHTTPClient(cfg.ImageGen.BaseURL, imageKey, cfg.ImageGen.Model, cfg.ImageGen.Timeout)

	// 7. Create store and services
	pgStore := store.NewPostgresStore(pool)

	analysisSvc := analysis.NewService(pgStore, appCache, objects, stager, gateway, locker,
		cfg.GenAI.InferenceTimeout, logger)
	planSvc := plan.NewService(pgStore, gateway, images, objects, logger)

	// 8. Schedule the stale job reaper
	if cfg.Reaper.Enabled {
		scheduler := cron.New()
		_, err := scheduler.AddFunc(cfg.Reaper.Schedule, func() {
			if n, err := analysisSvc.ReapStale(context.Background()); err != nil {
				slog.Error("reap sweep failed", "error", err)
			} else if n > 0 {
				slog.Info("reap sweep done", "reaped", n)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule reaper: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
		slog.Info("stale job reaper scheduled", "schedule", cfg.Reaper.Schedule)
	}

	// 9. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(appCache, 60),

		HealthHandler:         handler.NewHealthHandler(pgStore, appCache),
		ListTechniquesHandler: handler.NewListTechniquesHandler(pgStore),
		CreateAnalysisHandler: handler.NewCreateAnalysisHandler(analysisSvc),
		GetAnalysisHandler:    handler.NewGetAnalysisHandler(analysisSvc),
		RetryAnalysisHandler:  handler.NewRetryAnalysisHandler(analysisSvc),
		SynthesizePlanHandler: handler.NewSynthesizePlanHandler(planSvc),
		GetPlanHandler:        handler.NewGetPlanHandler(planSvc),
		ReapHandler:           handler.NewReapHandler(analysisSvc),

		MediaDir: mediaDir,
	}

	router := api.NewRouter(deps)

	// 10. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
