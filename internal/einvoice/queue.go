package einvoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

var tracer = otel.Tracer("mediggs/einvoice")

// TxRepository is the transactional surface of the queue store.
type TxRepository interface {
	EntryByBill(ctx context.Context, billID int64, forUpdate bool) (e Entry, found bool, err error)
	InsertEntry(ctx context.Context, e Entry) (Entry, error)
	UpdateEntry(ctx context.Context, e Entry) (Entry, error)
	// ClaimDue locks up to limit entries that are due at now, skipping rows
	// locked by another worker. SYNCING entries locked before staleBefore are
	// reclaimed.
	ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]Entry, error)
}

// Repository abstracts persistence for the queue.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, billID int64) (Entry, error)
	List(ctx context.Context, filter Filter) ([]Entry, error)
}

// Submitter is the IRN collaborator.
type Submitter interface {
	Submit(ctx context.Context, p Payload) (Result, error)
}

// BillSource resolves the document of a queued bill.
type BillSource interface {
	Document(ctx context.Context, billID int64) (Document, error)
}

// MetricsRecorder receives submission outcomes.
type MetricsRecorder interface {
	RecordEInvoiceOutcome(outcome string)
}

// Config tunes the sync worker.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BatchSize      int
	LockTimeout    time.Duration
}

// DefaultConfig returns the worker defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    8,
		InitialBackoff: 30 * time.Second,
		MaxBackoff:     30 * time.Minute,
		BatchSize:      50,
		LockTimeout:    2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = max(def.MaxBackoff, c.InitialBackoff)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = def.LockTimeout
	}
	return c
}

// Backoff returns the wait after the given failed attempt: InitialBackoff doubled
// per earlier attempt, capped at MaxBackoff.
func (c Config) Backoff(attempt int) time.Duration {
	wait := c.InitialBackoff
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return min(wait, c.MaxBackoff)
}

// Queue hands finalized sales bills to the IRN collaborator. It never touches
// bill or ledger state; failures stay on the entry.
type Queue struct {
	repo      Repository
	submitter Submitter
	bills     BillSource
	cfg       Config
	logger    *slog.Logger
	metrics   MetricsRecorder
	now       func() time.Time
}

// NewQueue builds the queue service.
func NewQueue(repo Repository, submitter Submitter, bills BillSource, cfg Config, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		repo:      repo,
		submitter: submitter,
		bills:     bills,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		now:       time.Now,
	}
}

// WithMetrics attaches a recorder and returns q.
func (q *Queue) WithMetrics(m MetricsRecorder) *Queue {
	q.metrics = m
	return q
}

// SetBillSource replaces the bill source. Used when the source is built after
// the queue.
func (q *Queue) SetBillSource(bills BillSource) {
	q.bills = bills
}

// Config returns the effective worker configuration.
func (q *Queue) Config() Config {
	return q.cfg
}

// EnqueueTx creates the PENDING entry of billID inside a caller-owned
// transaction. An existing entry is returned unchanged.
func EnqueueTx(ctx context.Context, tx TxRepository, billID int64) (Entry, error) {
	if billID <= 0 {
		return Entry{}, fmt.Errorf("%w: bill id required", shared.ErrValidation)
	}
	existing, found, err := tx.EntryByBill(ctx, billID, true)
	if err != nil {
		return Entry{}, err
	}
	if found {
		return existing, nil
	}
	return tx.InsertEntry(ctx, Entry{
		BillID:    billID,
		Status:    StatusPending,
		RequestID: uuid.NewString(),
	})
}

// CancelTx marks the entry of a cancelled bill FAILED with no further attempts.
// Missing and SYNCED entries are left alone; the flag reports whether an entry
// was changed.
func CancelTx(ctx context.Context, tx TxRepository, billID int64) (Entry, bool, error) {
	e, found, err := tx.EntryByBill(ctx, billID, true)
	if err != nil || !found || e.Status == StatusSynced {
		return e, false, err
	}
	e.Status = StatusFailed
	e.LastError = reasonCancelled
	e.NextAttemptAt = nil
	e.LockedAt = nil
	updated, err := tx.UpdateEntry(ctx, e)
	return updated, err == nil, err
}

// Enqueue queues a finalized sales bill. Enqueueing twice is a no-op.
func (q *Queue) Enqueue(ctx context.Context, billID int64) (Entry, error) {
	if q.bills != nil {
		doc, err := q.bills.Document(ctx, billID)
		if err != nil {
			return Entry{}, err
		}
		if !doc.Eligible() {
			return Entry{}, fmt.Errorf("%w: bill %d is %s %s", ErrNotEligible, billID, doc.Type, doc.Status)
		}
	}
	var entry Entry
	err := q.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		e, err := EnqueueTx(ctx, tx, billID)
		entry = e
		return err
	})
	return entry, err
}

// Get returns the entry of billID.
func (q *Queue) Get(ctx context.Context, billID int64) (Entry, error) {
	return q.repo.Get(ctx, billID)
}

// List returns entries, newest first.
func (q *Queue) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, filter.Status)
	}
	if filter.Limit <= 0 {
		filter.Limit = 200
	}
	return q.repo.List(ctx, filter)
}

// Retry resets a FAILED entry to PENDING with a fresh attempt budget.
func (q *Queue) Retry(ctx context.Context, billID int64) (Entry, error) {
	var entry Entry
	err := q.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		e, found, err := tx.EntryByBill(ctx, billID, true)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: bill %d", ErrEntryNotFound, billID)
		}
		if e.Status != StatusFailed {
			return fmt.Errorf("%w: bill %d is %s", ErrNotRetryable, billID, e.Status)
		}
		e.Status = StatusPending
		e.Attempts = 0
		e.NextAttemptAt = nil
		e.LastError = ""
		e.LockedAt = nil
		entry, err = tx.UpdateEntry(ctx, e)
		return err
	})
	if err == nil {
		q.logger.Info("einvoice entry reset", slog.Int64("bill_id", billID))
	}
	return entry, err
}

// Sync claims due entries and submits them. Submission happens outside the
// claiming transaction; each entry ends SYNCED or FAILED with its next attempt
// scheduled.
func (q *Queue) Sync(ctx context.Context) (report SyncReport, err error) {
	ctx, span := tracer.Start(ctx, "einvoice.sync")
	defer func() {
		span.SetAttributes(
			attribute.Int("einvoice.claimed", report.Claimed),
			attribute.Int("einvoice.synced", report.Synced),
			attribute.Int("einvoice.failed", report.Failed),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	now := q.now().UTC()
	var claimed []Entry
	err = q.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		due, err := tx.ClaimDue(ctx, now, now.Add(-q.cfg.LockTimeout), q.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, e := range due {
			claim, err := tx.UpdateEntry(ctx, q.claim(e, now))
			if err != nil {
				return err
			}
			claimed = append(claimed, claim)
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("einvoice: claim: %w", err)
	}
	report.Claimed = len(claimed)

	for _, e := range claimed {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		done, subErr := q.process(ctx, e, false)
		switch {
		case done.Status == StatusSynced:
			report.Synced++
		case done.Terminal():
			report.Dead++
		default:
			report.Failed++
		}
		if subErr != nil && !errors.Is(subErr, shared.ErrExternalSubmission) {
			q.logger.Error("einvoice entry update failed", slog.Int64("bill_id", e.BillID), slog.Any("error", subErr))
		}
	}
	if report.Claimed > 0 {
		q.logger.Info("einvoice sync finished",
			slog.Int("claimed", report.Claimed),
			slog.Int("synced", report.Synced),
			slog.Int("failed", report.Failed),
			slog.Int("dead", report.Dead))
	}
	return report, nil
}

// SyncBill submits the entry of billID now. A SYNCED entry is returned
// unchanged without a new submission; a FAILED one is retried from scratch
// regardless of its schedule. A failed submission is returned as ErrExternalSubmission.
func (q *Queue) SyncBill(ctx context.Context, billID int64) (Entry, error) {
	ctx, span := tracer.Start(ctx, "einvoice.sync_bill")
	span.SetAttributes(attribute.Int64("bill.id", billID))
	defer span.End()

	now := q.now().UTC()
	var (
		claimed Entry
		skip    bool
	)
	err := q.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		e, found, err := tx.EntryByBill(ctx, billID, true)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: bill %d", ErrEntryNotFound, billID)
		}
		if e.Status == StatusSynced || (e.Status == StatusSyncing && !q.stale(e, now)) {
			claimed, skip = e, true
			return nil
		}
		if e.Status == StatusFailed {
			// An explicit trigger starts a fresh attempt budget, as Retry does.
			e.Attempts = 0
			e.LastError = ""
		}
		claimed, err = tx.UpdateEntry(ctx, q.claim(e, now))
		return err
	})
	if err != nil || skip {
		return claimed, err
	}
	done, err := q.process(ctx, claimed, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return done, err
}

func (q *Queue) stale(e Entry, now time.Time) bool {
	return e.LockedAt == nil || !e.LockedAt.After(now.Add(-q.cfg.LockTimeout))
}

func (q *Queue) claim(e Entry, now time.Time) Entry {
	e.Status = StatusSyncing
	e.Attempts++
	e.LastAttemptAt = &now
	e.LockedAt = &now
	e.NextAttemptAt = nil
	return e
}

// process submits a claimed entry and stores the outcome. The returned error
// is the submission failure, if any, or a store failure. Unless forced, an
// entry reclaimed with its attempt budget spent is failed without submitting.
func (q *Queue) process(ctx context.Context, e Entry, force bool) (Entry, error) {
	if !force && e.Attempts > q.cfg.MaxAttempts {
		subErr := fmt.Errorf("%w: max attempts (%d) exceeded", shared.ErrExternalSubmission, q.cfg.MaxAttempts)
		return q.finish(ctx, e, Result{}, subErr, true)
	}

	doc, err := q.document(ctx, e.BillID)
	if err != nil {
		return q.finish(ctx, e, Result{}, err, false)
	}
	if doc.Cancelled() {
		return q.finish(ctx, e, Result{}, errors.New(reasonCancelled), true)
	}

	res, err := q.submitter.Submit(ctx, Payload{RequestID: e.RequestID, Document: doc})
	if err == nil && res.IRN == "" {
		err = fmt.Errorf("%w: %w", shared.ErrExternalSubmission, ErrEmptyAcknowledgement)
	}
	if err != nil && !errors.Is(err, shared.ErrExternalSubmission) {
		err = fmt.Errorf("%w: %w", shared.ErrExternalSubmission, err)
	}
	return q.finish(ctx, e, res, err, false)
}

func (q *Queue) document(ctx context.Context, billID int64) (Document, error) {
	if q.bills == nil {
		return Document{}, errors.New("einvoice: no bill source configured")
	}
	doc, err := q.bills.Document(ctx, billID)
	if err != nil {
		return Document{}, fmt.Errorf("%w: load bill %d: %w", shared.ErrExternalSubmission, billID, err)
	}
	return doc, nil
}

// finish stores the outcome of one attempt. dead forces a terminal failure.
func (q *Queue) finish(ctx context.Context, claimed Entry, res Result, subErr error, dead bool) (Entry, error) {
	now := q.now().UTC()
	var outcome string
	var stored Entry
	err := q.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cur, found, err := tx.EntryByBill(ctx, claimed.BillID, true)
		if err != nil {
			return err
		}
		if found && subErr == nil && cancelledInFlight(cur, claimed) {
			// The authority issued an IRN for a bill cancelled meanwhile. Keep
			// it so the IRN can still be cancelled upstream.
			cur.Status = StatusSynced
			cur.IRN = res.IRN
			cur.AckNo = res.AckNo
			cur.LastError = reasonCancelledAfterSubmit
			cur.NextAttemptAt = nil
			cur.LockedAt = nil
			outcome = "cancelled_after_submit"
			stored, err = tx.UpdateEntry(ctx, cur)
			return err
		}
		if !found || cur.Status != StatusSyncing || cur.RequestID != claimed.RequestID || cur.Attempts != claimed.Attempts {
			// Reset or reclaimed meanwhile; the newer owner decides.
			stored, outcome = cur, "superseded"
			return nil
		}
		cur.LockedAt = nil
		if subErr == nil {
			cur.Status = StatusSynced
			cur.IRN = res.IRN
			cur.AckNo = res.AckNo
			cur.LastError = ""
			cur.NextAttemptAt = nil
			outcome = "synced"
		} else {
			cur.Status = StatusFailed
			cur.LastError = subErr.Error()
			if dead || cur.Attempts >= q.cfg.MaxAttempts {
				cur.NextAttemptAt = nil
				outcome = "dead"
			} else {
				next := now.Add(q.cfg.Backoff(cur.Attempts))
				cur.NextAttemptAt = &next
				outcome = "failed"
			}
		}
		stored, err = tx.UpdateEntry(ctx, cur)
		return err
	})
	if err != nil {
		return claimed, err
	}
	if q.metrics != nil {
		q.metrics.RecordEInvoiceOutcome(outcome)
	}
	attrs := []any{
		slog.Int64("bill_id", claimed.BillID),
		slog.Int("attempt", claimed.Attempts),
		slog.String("outcome", outcome),
	}
	if subErr != nil {
		q.logger.Warn("einvoice submission failed", append(attrs, slog.Any("error", subErr))...)
		if !errors.Is(subErr, shared.ErrExternalSubmission) {
			subErr = fmt.Errorf("%w: %w", shared.ErrExternalSubmission, subErr)
		}
		return stored, subErr
	}
	switch outcome {
	case "cancelled_after_submit":
		q.logger.Warn("einvoice issued for cancelled bill", append(attrs, slog.String("irn", stored.IRN))...)
	case "superseded":
		q.logger.Info("einvoice result superseded", attrs...)
	default:
		q.logger.Info("einvoice submitted", append(attrs, slog.String("irn", stored.IRN))...)
	}
	return stored, nil
}

// cancelledInFlight reports whether cur is the claimed attempt, failed by
// CancelTx while the submission was running.
func cancelledInFlight(cur, claimed Entry) bool {
	return cur.Status == StatusFailed && cur.LastError == reasonCancelled &&
		cur.RequestID == claimed.RequestID && cur.Attempts == claimed.Attempts
}
