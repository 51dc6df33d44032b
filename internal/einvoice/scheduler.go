package einvoice

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/siddharthggs/mediggs-sub000/internal/platform/lock"
	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

// Syncer drains the queue once.
type Syncer interface {
	Sync(ctx context.Context) (SyncReport, error)
}

// Scheduler runs Sync on a cron schedule inside the server process.
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	syncer  Syncer
	locker  lock.Locker
	timeout time.Duration
	logger  *slog.Logger
}

// NewScheduler creates a scheduler. locker, when set, keeps instances sharing
// a Redis lock from running the same tick twice.
func NewScheduler(spec string, syncer Syncer, locker lock.Locker, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		spec:    spec,
		syncer:  syncer,
		locker:  locker,
		timeout: 2 * time.Minute,
		logger:  logger,
	}
}

// Start registers the sync job and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.tick); err != nil {
		return err
	}
	s.logger.Info("starting einvoice scheduler", slog.String("spec", s.spec))
	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for a running tick.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping einvoice scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("einvoice sync failed", slog.Any("error", err))
	}
}

// RunOnce performs one scheduled sync. A tick held by another instance is
// skipped without error.
func (s *Scheduler) RunOnce(ctx context.Context) (SyncReport, error) {
	if s.locker != nil {
		release, err := s.locker.Lock(ctx, shared.EInvoiceSyncLockKey())
		if errors.Is(err, shared.ErrAllocationConflict) {
			s.logger.Debug("einvoice sync skipped, another instance holds the lock")
			return SyncReport{}, nil
		}
		if err != nil {
			return SyncReport{}, err
		}
		defer release()
	}
	return s.syncer.Sync(ctx)
}
