package einvoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/siddharthggs/mediggs-sub000/internal/platform/db"
)

const entryColumns = `id, bill_id, status, irn, ack_no, attempts, last_attempt_at, next_attempt_at,
	last_error, request_id, locked_at, created_at, updated_at`

// PgRepository persists the queue in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository constructs a repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// PgTx adapts a pgx transaction to TxRepository.
type PgTx struct {
	tx pgx.Tx
}

// NewPgTx wraps tx so bill finalization can enqueue in its own transaction.
func NewPgTx(tx pgx.Tx) *PgTx {
	return &PgTx{tx: tx}
}

// WithTx implements Repository.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewPgTx(tx))
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var status string
	err := row.Scan(&e.ID, &e.BillID, &status, &e.IRN, &e.AckNo, &e.Attempts, &e.LastAttemptAt, &e.NextAttemptAt,
		&e.LastError, &e.RequestID, &e.LockedAt, &e.CreatedAt, &e.UpdatedAt)
	e.Status = Status(status)
	return e, err
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EntryByBill implements TxRepository.
func (t *PgTx) EntryByBill(ctx context.Context, billID int64, forUpdate bool) (Entry, bool, error) {
	query := `SELECT ` + entryColumns + ` FROM einvoice_queue WHERE bill_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	e, err := scanEntry(t.tx.QueryRow(ctx, query, billID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// InsertEntry implements TxRepository. A concurrent insert for the same bill
// wins; its row is returned.
func (t *PgTx) InsertEntry(ctx context.Context, e Entry) (Entry, error) {
	inserted, err := scanEntry(t.tx.QueryRow(ctx, `INSERT INTO einvoice_queue (bill_id, status, request_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (bill_id) DO NOTHING
		RETURNING `+entryColumns, e.BillID, string(e.Status), e.RequestID))
	if errors.Is(err, pgx.ErrNoRows) {
		existing, _, err := t.EntryByBill(ctx, e.BillID, true)
		return existing, err
	}
	return inserted, err
}

// UpdateEntry implements TxRepository.
func (t *PgTx) UpdateEntry(ctx context.Context, e Entry) (Entry, error) {
	updated, err := scanEntry(t.tx.QueryRow(ctx, `UPDATE einvoice_queue SET
			status = $2, irn = $3, ack_no = $4, attempts = $5, last_attempt_at = $6,
			next_attempt_at = $7, last_error = $8, locked_at = $9, updated_at = NOW()
		WHERE bill_id = $1
		RETURNING `+entryColumns,
		e.BillID, string(e.Status), e.IRN, e.AckNo, e.Attempts, e.LastAttemptAt, e.NextAttemptAt, e.LastError, e.LockedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: bill %d", ErrEntryNotFound, e.BillID)
	}
	return updated, err
}

// ClaimDue implements TxRepository.
func (t *PgTx) ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]Entry, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+entryColumns+` FROM einvoice_queue
		WHERE status = 'PENDING'
			OR (status = 'FAILED' AND next_attempt_at IS NOT NULL AND next_attempt_at <= $1)
			OR (status = 'SYNCING' AND locked_at IS NOT NULL AND locked_at <= $2)
		ORDER BY id
		LIMIT $3
		FOR UPDATE SKIP LOCKED`, now, staleBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// Get implements Repository.
func (r *PgRepository) Get(ctx context.Context, billID int64) (Entry, error) {
	e, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM einvoice_queue WHERE bill_id = $1`, billID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: bill %d", ErrEntryNotFound, billID)
	}
	if err != nil {
		return Entry{}, db.Classify(err)
	}
	return e, nil
}

// List implements Repository.
func (r *PgRepository) List(ctx context.Context, filter Filter) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM einvoice_queue
		WHERE ($1::text = '' OR status = $1)
		ORDER BY id DESC
		LIMIT $2`, string(filter.Status), filter.Limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	out, err := collectEntries(rows)
	return out, db.Classify(err)
}
