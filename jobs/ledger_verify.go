package jobs

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/siddharthggs/mediggs-sub000/internal/inventory"
	jobmetrics "github.com/siddharthggs/mediggs-sub000/internal/jobs"
)

// LedgerVerifier replays ledger scopes.
type LedgerVerifier interface {
	VerifyAll(ctx context.Context) ([]inventory.Verification, error)
}

// LedgerVerifyJob checks the stock ledger invariant for every scope.
type LedgerVerifyJob struct {
	Ledger  LedgerVerifier
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLedgerVerifyJob constructs the handler.
func NewLedgerVerifyJob(ledger LedgerVerifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerVerifyJob {
	return &LedgerVerifyJob{Ledger: ledger, Logger: logger, Metrics: metrics}
}

// Handle runs the verification. Mismatches are reported, not returned, so a
// corrupt scope does not put the task into a retry loop.
func (j *LedgerVerifyJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger verify: handler not configured")
	}
	var payload LedgerVerifyPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}

	tracker := j.Metrics.Track(TaskLedgerVerify)
	defer func() { err = tracker.End(err) }()

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job", TaskLedgerVerify))
	start := time.Now()
	logger.Info("starting ledger verification", slog.Time("scheduled_for", payload.ScheduledFor))

	_, bad, err := Verify(ctx, j.Ledger, logger)
	if err != nil {
		logger.Error("ledger verification failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddLedgerDiscrepancies(len(bad))
	logger.Info("completed ledger verification",
		slog.Int("discrepancies", len(bad)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Verify runs VerifyAll and logs every failing scope. It returns all results
// and the failing subset.
func Verify(ctx context.Context, ledger LedgerVerifier, logger *slog.Logger) ([]inventory.Verification, []inventory.Verification, error) {
	results, err := ledger.VerifyAll(ctx)
	if err != nil {
		return results, nil, err
	}
	var bad []inventory.Verification
	for _, v := range results {
		if v.OK() {
			continue
		}
		bad = append(bad, v)
		if logger != nil {
			logger.Warn("ledger discrepancy",
				slog.Int64("product_id", v.Scope.ProductID),
				slog.Int64("batch_id", v.Scope.BatchID),
				slog.Int64("warehouse_id", v.Scope.WarehouseID),
				slog.String("sum", v.Sum.String()),
				slog.String("balance", v.Balance.String()),
				slog.String("problems", strings.Join(v.Problems, "; ")))
		}
	}
	return results, bad, nil
}
