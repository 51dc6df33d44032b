package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/siddharthggs/mediggs-sub000/internal/platform/db"
	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

// scopeSequenceConstraint is the unique (product, batch, warehouse, seq) key.
const scopeSequenceConstraint = "stock_movements_scope_seq_key"

const movementColumns = `id, product_id, batch_id, warehouse_id, seq, movement_type, delta, balance_after,
	ref_kind, ref_id, ref_number, override, note, created_at`

// Repository provides PostgreSQL backed persistence for the stock ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// PgTx adapts a pgx transaction to TxRepository. Other packages wrap their own
// transaction with it to write ledger entries in the same commit.
type PgTx struct {
	tx pgx.Tx
}

// NewPgTx wraps tx.
func NewPgTx(tx pgx.Tx) *PgTx {
	return &PgTx{tx: tx}
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewPgTx(tx))
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMovement(row rowScanner) (Movement, error) {
	var m Movement
	var movementType string
	err := row.Scan(&m.ID, &m.Scope.ProductID, &m.Scope.BatchID, &m.Scope.WarehouseID, &m.Sequence,
		&movementType, &m.Delta, &m.BalanceAfter, &m.Reference.Kind, &m.Reference.ID, &m.Reference.Number,
		&m.Override, &m.Note, &m.CreatedAt)
	m.Type = MovementType(movementType)
	return m, err
}

func collectMovements(rows pgx.Rows) ([]Movement, error) {
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LatestMovement implements TxRepository.
func (t *PgTx) LatestMovement(ctx context.Context, scope Scope, forUpdate bool) (Movement, bool, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements
		WHERE product_id = $1 AND batch_id = $2 AND warehouse_id = $3
		ORDER BY seq DESC LIMIT 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	m, err := scanMovement(t.tx.QueryRow(ctx, query, scope.ProductID, scope.BatchID, scope.WarehouseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, false, nil
	}
	if err != nil {
		return Movement{}, false, err
	}
	return m, true, nil
}

// InsertMovement implements TxRepository.
func (t *PgTx) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_movements
		(product_id, batch_id, warehouse_id, seq, movement_type, delta, balance_after, ref_kind, ref_id, ref_number, override, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at`,
		m.Scope.ProductID, m.Scope.BatchID, m.Scope.WarehouseID, m.Sequence, string(m.Type), m.Delta, m.BalanceAfter,
		m.Reference.Kind, m.Reference.ID, m.Reference.Number, m.Override, m.Note,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, scopeSequenceConstraint) {
			return Movement{}, fmt.Errorf("%w: %s sequence %d taken", shared.ErrAllocationConflict, m.Scope, m.Sequence)
		}
		return Movement{}, err
	}
	return m, nil
}

// BatchStocks implements TxRepository.
func (t *PgTx) BatchStocks(ctx context.Context, productID, warehouseID int64) ([]BatchStock, error) {
	rows, err := t.tx.Query(ctx, `SELECT b.id, b.number, b.expiry, COALESCE(m.balance_after, 0)
		FROM batches b
		LEFT JOIN LATERAL (
			SELECT balance_after FROM stock_movements sm
			WHERE sm.product_id = b.product_id AND sm.batch_id = b.id AND sm.warehouse_id = $2
			ORDER BY sm.seq DESC LIMIT 1
		) m ON TRUE
		WHERE b.product_id = $1
		ORDER BY b.id`, productID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BatchStock
	for rows.Next() {
		var bs BatchStock
		var expiry *time.Time
		if err := rows.Scan(&bs.BatchID, &bs.Number, &expiry, &bs.Qty); err != nil {
			return nil, err
		}
		if expiry != nil {
			bs.Expiry = *expiry
		}
		out = append(out, bs)
	}
	return out, rows.Err()
}

const batchSelect = `SELECT b.id, b.product_id, b.number, b.expiry, b.mrp, b.ptr, b.pts, COALESCE(b.warehouse_id, 0), b.created_at,
	COALESCE((
		SELECT SUM(latest.balance_after) FROM (
			SELECT DISTINCT ON (sm.warehouse_id) sm.balance_after
			FROM stock_movements sm
			WHERE sm.product_id = b.product_id AND sm.batch_id = b.id
			ORDER BY sm.warehouse_id, sm.seq DESC
		) latest
	), 0)
	FROM batches b`

func scanBatch(row rowScanner) (Batch, error) {
	var b Batch
	var expiry *time.Time
	if err := row.Scan(&b.ID, &b.ProductID, &b.Number, &expiry, &b.MRP, &b.PTR, &b.PTS, &b.WarehouseID, &b.CreatedAt, &b.Quantity); err != nil {
		return Batch{}, err
	}
	if expiry != nil {
		b.Expiry = *expiry
	}
	return b, nil
}

// queryRower is satisfied by both *pgxpool.Pool and pgx.Tx.
type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getBatch(ctx context.Context, q queryRower, where string, args ...any) (Batch, error) {
	b, err := scanBatch(q.QueryRow(ctx, batchSelect+" "+where, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, fmt.Errorf("%w: %v", ErrBatchNotFound, args)
	}
	return b, err
}

// GetBatch implements TxRepository.
func (t *PgTx) GetBatch(ctx context.Context, id int64) (Batch, error) {
	return getBatch(ctx, t.tx, "WHERE b.id = $1", id)
}

// FindBatch implements TxRepository.
func (t *PgTx) FindBatch(ctx context.Context, productID int64, number string) (Batch, error) {
	return getBatch(ctx, t.tx, "WHERE b.product_id = $1 AND b.number = $2", productID, number)
}

// InsertBatch implements TxRepository.
func (t *PgTx) InsertBatch(ctx context.Context, b Batch) (Batch, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO batches (product_id, number, expiry, mrp, ptr, pts, warehouse_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`,
		b.ProductID, b.Number, nullTime(b.Expiry), b.MRP, b.PTR, b.PTS, nullInt(b.WarehouseID),
	).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return Batch{}, err
	}
	b.Quantity = decimal.Zero
	return b, nil
}

// MovementsByReference implements TxRepository.
func (t *PgTx) MovementsByReference(ctx context.Context, ref Reference) ([]Movement, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
		WHERE ref_kind = $1 AND ref_id = $2 ORDER BY id`, ref.Kind, ref.ID)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

// LatestBalances implements RepositoryPort.
func (r *Repository) LatestBalances(ctx context.Context, productID int64, batchID, warehouseID *int64) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT ON (batch_id, warehouse_id) `+movementColumns+`
		FROM stock_movements
		WHERE product_id = $1
		  AND ($2::bigint IS NULL OR batch_id = $2)
		  AND ($3::bigint IS NULL OR warehouse_id = $3)
		ORDER BY batch_id, warehouse_id, seq DESC`, productID, batchID, warehouseID)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

// ListMovements implements RepositoryPort.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	var (
		conds = []string{"product_id = $1"}
		args  = []any{filter.ProductID}
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.BatchID != nil {
		add("batch_id = $%d", *filter.BatchID)
	}
	if filter.WarehouseID != nil {
		add("warehouse_id = $%d", *filter.WarehouseID)
	}
	if filter.Reference != nil {
		add("ref_kind = $%d", filter.Reference.Kind)
		add("ref_id = $%d", filter.Reference.ID)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at <= $%d", filter.To)
	}
	query := `SELECT ` + movementColumns + ` FROM stock_movements WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

// ScopeMovements implements RepositoryPort.
func (r *Repository) ScopeMovements(ctx context.Context, scope Scope) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
		WHERE product_id = $1 AND batch_id = $2 AND warehouse_id = $3 ORDER BY seq`,
		scope.ProductID, scope.BatchID, scope.WarehouseID)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

// Scopes implements RepositoryPort.
func (r *Repository) Scopes(ctx context.Context) ([]Scope, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT product_id, batch_id, warehouse_id FROM stock_movements
		ORDER BY product_id, batch_id, warehouse_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Scope
	for rows.Next() {
		var s Scope
		if err := rows.Scan(&s.ProductID, &s.BatchID, &s.WarehouseID); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetBatch implements RepositoryPort.
func (r *Repository) GetBatch(ctx context.Context, id int64) (Batch, error) {
	return getBatch(ctx, r.pool, "WHERE b.id = $1", id)
}

// ListBatches implements RepositoryPort.
func (r *Repository) ListBatches(ctx context.Context, productID int64) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, batchSelect+" WHERE b.product_id = $1 ORDER BY b.expiry NULLS LAST, b.id", productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
