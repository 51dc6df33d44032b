package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/siddharthggs/mediggs-sub000/internal/app"
	"github.com/siddharthggs/mediggs-sub000/internal/einvoice"
	"github.com/siddharthggs/mediggs-sub000/internal/observability"
	"github.com/siddharthggs/mediggs-sub000/internal/platform/cache"
	"github.com/siddharthggs/mediggs-sub000/internal/platform/db"
	"github.com/siddharthggs/mediggs-sub000/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	var pool *pgxpool.Pool
	if cfg.StoreDriver == "postgres" {
		pool, err = db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
	}

	var redisClient *redis.Client
	if cfg.LockDriver == "redis" || cfg.EInvoiceSyncMode == "worker" || cfg.StoreDriver == "postgres" {
		redisClient, err = cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
		if err != nil && cfg.LockDriver == "redis" {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		if err != nil {
			// Cache and worker mode degrade without Redis; scope locks cannot.
			logger.Warn("redis unavailable, master-data cache disabled", slog.Any("error", err))
			redisClient = nil
		}
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	services, err := app.Build(cfg, app.Dependencies{Pool: pool, Redis: redisClient, Metrics: metrics}, logger)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}
	if err := services.Warmup(ctx); err != nil {
		logger.Warn("master-data cache warmup", slog.Any("error", err))
	}
	if err := services.Cache.ListenForInvalidation(ctx, func(version int64) {
		logger.Debug("master-data cache bumped", slog.Int64("version", version))
	}); err != nil {
		logger.Warn("master-data invalidation listener", slog.Any("error", err))
	}

	var jobHandler *jobs.Handler
	if redisClient != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	var scheduler *einvoice.Scheduler
	if cfg.EInvoiceSyncMode == "inline" {
		scheduler = einvoice.NewScheduler(cfg.EInvoiceSyncSpec, services.EInvoice, services.Locker, logger)
		if err := scheduler.Start(); err != nil {
			logger.Error("start einvoice scheduler", slog.Any("error", err))
			os.Exit(1)
		}
		defer scheduler.Stop()
	}

	var pinger app.Pinger
	if pool != nil {
		pinger = pool
	}
	router := services.Router(cfg, logger, metrics, pinger, jobHandler)

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("store", cfg.StoreDriver),
			slog.String("lock", cfg.LockDriver),
			slog.String("einvoice_sync", cfg.EInvoiceSyncMode))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
