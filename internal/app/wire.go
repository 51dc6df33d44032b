package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/siddharthggs/mediggs-sub000/internal/billing"
	"github.com/siddharthggs/mediggs-sub000/internal/einvoice"
	"github.com/siddharthggs/mediggs-sub000/internal/inventory"
	"github.com/siddharthggs/mediggs-sub000/internal/masterdata"
	"github.com/siddharthggs/mediggs-sub000/internal/observability"
	"github.com/siddharthggs/mediggs-sub000/internal/platform/lock"
	"github.com/siddharthggs/mediggs-sub000/internal/shared"
	"github.com/siddharthggs/mediggs-sub000/jobs"
)

// Dependencies are the externally owned connections. Pool and Redis may be nil
// when the configured drivers do not need them.
type Dependencies struct {
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Submitter einvoice.Submitter
	Metrics   *observability.Metrics
}

// Services is the assembled domain layer.
type Services struct {
	MasterData *masterdata.Service
	Cache      *masterdata.Cache
	Ledger     *inventory.Service
	Billing    *billing.Service
	EInvoice   *einvoice.Queue
	Locker     lock.Locker
}

// Build wires repositories, locks and services for the configured drivers.
func Build(cfg *Config, deps Dependencies, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	unit, err := cfg.RoundingUnit()
	if err != nil {
		return nil, err
	}

	var locker lock.Locker
	switch cfg.LockDriver {
	case "redis":
		if deps.Redis == nil {
			return nil, fmt.Errorf("app: LOCK_DRIVER=redis needs a redis client")
		}
		locker = lock.NewRedisLocker(deps.Redis, lock.RedisOptions{TTL: cfg.LockTTL, Wait: cfg.LockWait})
	default:
		locker = lock.NewMemoryLocker(cfg.LockWait)
	}

	var (
		mdRepo     masterdata.Repository
		ledgerRepo inventory.RepositoryPort
		queueRepo  einvoice.Repository
		billStore  billing.Store
		audit      billing.AuditPort
		idem       inventory.IdempotencyPort
	)
	switch cfg.StoreDriver {
	case "memory":
		ledgerMem := inventory.NewMemoryRepository()
		queueMem := einvoice.NewMemoryRepository()
		mdRepo = masterdata.NewMemoryRepository()
		ledgerRepo = ledgerMem
		queueRepo = queueMem
		billStore = billing.NewMemoryStore(ledgerMem, queueMem)
		audit = shared.NewLogAuditor(logger)
		idem = shared.NewMemoryIdempotencyStore()
	default:
		if deps.Pool == nil {
			return nil, fmt.Errorf("app: STORE_DRIVER=postgres needs a pool")
		}
		mdRepo = masterdata.NewRepository(deps.Pool)
		ledgerRepo = inventory.NewRepository(deps.Pool)
		queueRepo = einvoice.NewPgRepository(deps.Pool)
		billStore = billing.NewPgStore(deps.Pool)
		audit = shared.NewAuditLogger(deps.Pool)
		idem = shared.NewIdempotencyStore(deps.Pool)
	}

	cache := masterdata.NewCache(deps.Redis, cfg.MasterDataCacheTTL)
	md := masterdata.NewService(mdRepo, cache, logger)
	ledger := inventory.NewService(ledgerRepo, locker, audit, idem, logger)

	submitter := deps.Submitter
	if submitter == nil {
		submitter = einvoice.NewHTTPSubmitter(cfg.EInvoiceHTTP())
	}
	queue := einvoice.NewQueue(queueRepo, submitter, nil, cfg.EInvoice(), logger)
	bills := billing.NewService(billStore, locker, md, audit, logger, billing.Options{RoundingUnit: unit}).
		WithBatches(ledger)
	if deps.Metrics != nil {
		bills.WithMetrics(deps.Metrics)
		queue.WithMetrics(deps.Metrics)
	}
	queue.SetBillSource(bills)

	return &Services{
		MasterData: md,
		Cache:      cache,
		Ledger:     ledger,
		Billing:    bills,
		EInvoice:   queue,
		Locker:     locker,
	}, nil
}

// Router builds the HTTP router around the services. db and jobHandler are
// optional.
func (s *Services) Router(cfg *Config, logger *slog.Logger, metrics *observability.Metrics, db Pinger, jobHandler *jobs.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return NewRouter(RouterParams{
		Logger:            logger,
		Config:            cfg,
		BillingHandler:    billing.NewHandler(logger, s.Billing),
		InventoryHandler:  inventory.NewHandler(logger, s.Ledger),
		EInvoiceHandler:   einvoice.NewHandler(logger, s.EInvoice),
		MasterDataHandler: masterdata.NewHandler(logger, s.MasterData),
		JobHandler:        jobHandler,
		Metrics:           metrics,
		DB:                db,
	})
}

// Warmup checks the master-data cache version so a broken Redis shows at boot.
func (s *Services) Warmup(ctx context.Context) error {
	_, err := s.Cache.Version(ctx)
	return err
}
