package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/siddharthggs/mediggs-sub000/internal/app"
	jobmetrics "github.com/siddharthggs/mediggs-sub000/internal/jobs"
	"github.com/siddharthggs/mediggs-sub000/internal/observability"
	"github.com/siddharthggs/mediggs-sub000/internal/platform/cache"
	"github.com/siddharthggs/mediggs-sub000/internal/platform/db"
	"github.com/siddharthggs/mediggs-sub000/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))
	slog.SetDefault(logger)

	if cfg.StoreDriver != "postgres" {
		logger.Error("worker needs STORE_DRIVER=postgres; memory stores are per-process")
		os.Exit(1)
	}

	var pool *pgxpool.Pool
	pool, err = db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var redisClient *redis.Client
	redisClient, err = cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	services, err := app.Build(cfg, app.Dependencies{Pool: pool, Redis: redisClient, Metrics: metrics}, logger)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}

	syncJob := jobs.NewEInvoiceSyncJob(services.EInvoice, logger, jobMetrics)
	verifyJob := jobs.NewLedgerVerifyJob(services.Ledger, logger, jobMetrics)

	var cron []jobs.CronRegistration
	if cfg.EInvoiceSyncMode == "worker" {
		syncTask, err := jobs.NewEInvoiceSyncTask(0)
		if err != nil {
			logger.Error("build sync task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.EInvoiceSyncSpec, Task: syncTask,
			Options: []asynq.Option{asynq.Unique(cfg.EInvoiceLockTimeout)}})
	}
	if cfg.LedgerVerifySpec != "" {
		verifyTask, err := jobs.NewLedgerVerifyTask(time.Now().UTC())
		if err != nil {
			logger.Error("build verify task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.LedgerVerifySpec, Task: verifyTask})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.AsynqConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskEInvoiceSync, Handler: syncJob.Handle},
			{Type: jobs.TaskLedgerVerify, Handler: verifyJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return serveMetrics(gctx, cfg.WorkerMetricsAddr, metrics, logger) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
