package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/siddharthggs/mediggs-sub000/internal/einvoice"
	jobmetrics "github.com/siddharthggs/mediggs-sub000/internal/jobs"
	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

// EInvoiceSyncer is the queue surface used by the sync job.
type EInvoiceSyncer interface {
	Sync(ctx context.Context) (einvoice.SyncReport, error)
	SyncBill(ctx context.Context, billID int64) (einvoice.Entry, error)
}

// EInvoiceSyncJob drains the e-invoice queue from the worker.
type EInvoiceSyncJob struct {
	Queue   EInvoiceSyncer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewEInvoiceSyncJob constructs the handler.
func NewEInvoiceSyncJob(queue EInvoiceSyncer, logger *slog.Logger, metrics *jobmetrics.Metrics) *EInvoiceSyncJob {
	return &EInvoiceSyncJob{Queue: queue, Logger: logger, Metrics: metrics}
}

// Handle executes one sync run.
func (j *EInvoiceSyncJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Queue == nil {
		return errors.New("einvoice sync: handler not configured")
	}
	var payload EInvoiceSyncPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}

	tracker := j.Metrics.Track(TaskEInvoiceSync)
	defer func() { err = tracker.End(err) }()
	start := time.Now()
	logger := j.logger()

	if payload.BillID > 0 {
		entry, err := j.Queue.SyncBill(ctx, payload.BillID)
		if errors.Is(err, shared.ErrExternalSubmission) {
			// Stored on the entry; the queue owns the retry schedule.
			logger.Warn("einvoice submission failed",
				slog.Int64("bill_id", payload.BillID),
				slog.Any("error", err))
			return nil
		}
		if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrValidation) {
			return errors.Join(err, asynq.SkipRetry)
		}
		if err != nil {
			return err
		}
		logger.Info("einvoice bill synced",
			slog.Int64("bill_id", entry.BillID),
			slog.String("status", string(entry.Status)))
		return nil
	}

	report, err := j.Queue.Sync(ctx)
	j.Metrics.AddSyncResults(report.Synced, report.Failed, report.Dead)
	if err != nil {
		logger.Error("einvoice sync failed", slog.Any("error", err))
		return err
	}
	logger.Info("einvoice sync completed",
		slog.Int("claimed", report.Claimed),
		slog.Int("synced", report.Synced),
		slog.Int("failed", report.Failed),
		slog.Int("dead", report.Dead),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *EInvoiceSyncJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default().With(slog.String("job", TaskEInvoiceSync))
	}
	return j.Logger.With(slog.String("job", TaskEInvoiceSync))
}
