package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/siddharthggs/mediggs-sub000/internal/einvoice"
	"github.com/siddharthggs/mediggs-sub000/internal/inventory"
	"github.com/siddharthggs/mediggs-sub000/internal/platform/db"
)

const billColumns = `id, bill_type, number, bill_date, party_id, COALESCE(company_id, 0), warehouse_id, mode,
	inter_state, status, rounding_unit, totals, note, finalized_at, cancelled_at, created_at, updated_at`

// PgStore persists bills in PostgreSQL. Lines are stored one row each with a
// JSON payload shaped by the bill type.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore constructs a store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

type pgTx struct {
	tx     pgx.Tx
	ledger *inventory.PgTx
	queue  *einvoice.PgTx
}

// WithTx implements Store. The ledger and queue views run on the same pgx
// transaction.
func (s *PgStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx, ledger: inventory.NewPgTx(tx), queue: einvoice.NewPgTx(tx)})
	})
}

func (t *pgTx) Ledger() inventory.TxRepository { return t.ledger }

func (t *pgTx) Queue() einvoice.TxRepository { return t.queue }

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBill(row rowScanner) (Bill, error) {
	var (
		b                    Bill
		billType, mode, stat string
		totals               []byte
	)
	err := row.Scan(&b.ID, &billType, &b.Number, &b.Date, &b.PartyID, &b.CompanyID, &b.WarehouseID, &mode,
		&b.InterState, &stat, &b.RoundingUnit, &totals, &b.Note, &b.FinalizedAt, &b.CancelledAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Bill{}, err
	}
	b.Type, b.Mode, b.Status = BillType(billType), Mode(mode), Status(stat)
	if len(totals) > 0 {
		if err := json.Unmarshal(totals, &b.Totals); err != nil {
			return Bill{}, fmt.Errorf("decode totals of bill %d: %w", b.ID, err)
		}
	}
	return b, nil
}

func getBill(ctx context.Context, q querier, id int64, forUpdate bool) (Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	b, err := scanBill(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Bill{}, fmt.Errorf("%w: id %d", ErrBillNotFound, id)
	}
	if err != nil {
		return Bill{}, db.Classify(err)
	}
	bills := []Bill{b}
	if err := loadLines(ctx, q, bills); err != nil {
		return Bill{}, err
	}
	return bills[0], nil
}

// loadLines fills the lines of bills with one query.
func loadLines(ctx context.Context, q querier, bills []Bill) error {
	if len(bills) == 0 {
		return nil
	}
	ids := make([]int64, len(bills))
	index := make(map[int64]int, len(bills))
	for i, b := range bills {
		ids[i] = b.ID
		index[b.ID] = i
	}
	rows, err := q.Query(ctx, `SELECT bill_id, payload FROM bill_lines WHERE bill_id = ANY($1) ORDER BY bill_id, line_no`, ids)
	if err != nil {
		return db.Classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		var billID int64
		var payload []byte
		if err := rows.Scan(&billID, &payload); err != nil {
			return db.Classify(err)
		}
		b := &bills[index[billID]]
		switch b.Type {
		case TypePurchase:
			var l PurchaseLine
			if err := json.Unmarshal(payload, &l); err != nil {
				return fmt.Errorf("decode line of bill %d: %w", billID, err)
			}
			b.PurchaseLines = append(b.PurchaseLines, l)
		default:
			var l SalesLine
			if err := json.Unmarshal(payload, &l); err != nil {
				return fmt.Errorf("decode line of bill %d: %w", billID, err)
			}
			b.SalesLines = append(b.SalesLines, l)
		}
	}
	return db.Classify(rows.Err())
}

func (t *pgTx) GetBill(ctx context.Context, id int64, forUpdate bool) (Bill, error) {
	return getBill(ctx, t.tx, id, forUpdate)
}

func encodeTotals(b Bill) ([]byte, error) {
	if b.Totals == nil {
		return nil, nil
	}
	return json.Marshal(b.Totals)
}

func (t *pgTx) InsertBill(ctx context.Context, b Bill) (Bill, error) {
	totals, err := encodeTotals(b)
	if err != nil {
		return Bill{}, err
	}
	err = t.tx.QueryRow(ctx, `INSERT INTO bills
		(bill_type, number, bill_date, party_id, company_id, warehouse_id, mode, inter_state, status, rounding_unit, totals, note)
		VALUES ($1, $2, $3, $4, NULLIF($5, 0), $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`,
		string(b.Type), b.Number, b.Date, b.PartyID, b.CompanyID, b.WarehouseID, string(b.Mode), b.InterState,
		string(b.Status), b.RoundingUnit, totals, b.Note,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Bill{}, db.Classify(err)
	}
	if err := t.writeLines(ctx, b); err != nil {
		return Bill{}, err
	}
	return b, nil
}

func (t *pgTx) UpdateBill(ctx context.Context, b Bill) (Bill, error) {
	totals, err := encodeTotals(b)
	if err != nil {
		return Bill{}, err
	}
	err = t.tx.QueryRow(ctx, `UPDATE bills SET bill_date = $2, party_id = $3, company_id = NULLIF($4, 0),
			warehouse_id = $5, mode = $6, inter_state = $7, status = $8, rounding_unit = $9, totals = $10,
			note = $11, finalized_at = $12, cancelled_at = $13, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		b.ID, b.Date, b.PartyID, b.CompanyID, b.WarehouseID, string(b.Mode), b.InterState, string(b.Status),
		b.RoundingUnit, totals, b.Note, b.FinalizedAt, b.CancelledAt,
	).Scan(&b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Bill{}, fmt.Errorf("%w: id %d", ErrBillNotFound, b.ID)
	}
	if err != nil {
		return Bill{}, db.Classify(err)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM bill_lines WHERE bill_id = $1`, b.ID); err != nil {
		return Bill{}, db.Classify(err)
	}
	if err := t.writeLines(ctx, b); err != nil {
		return Bill{}, err
	}
	return b, nil
}

func (t *pgTx) writeLines(ctx context.Context, b Bill) error {
	var payloads []any
	if b.Type == TypePurchase {
		for _, l := range b.PurchaseLines {
			payloads = append(payloads, l)
		}
	} else {
		for _, l := range b.SalesLines {
			payloads = append(payloads, l)
		}
	}
	batch := &pgx.Batch{}
	for i, p := range payloads {
		raw, err := json.Marshal(p)
		if err != nil {
			return err
		}
		batch.Queue(`INSERT INTO bill_lines (bill_id, line_no, payload) VALUES ($1, $2, $3)`, b.ID, i+1, raw)
	}
	if batch.Len() == 0 {
		return nil
	}
	return db.Classify(t.tx.SendBatch(ctx, batch).Close())
}

func (t *pgTx) DeleteBill(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM bills WHERE id = $1`, id)
	if err != nil {
		return db.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrBillNotFound, id)
	}
	return nil
}

func (t *pgTx) NextNumber(ctx context.Context, bt BillType) (string, error) {
	var n int64
	err := t.tx.QueryRow(ctx, `INSERT INTO bill_sequences (bill_type, last_value) VALUES ($1, 1)
		ON CONFLICT (bill_type) DO UPDATE SET last_value = bill_sequences.last_value + 1
		RETURNING last_value`, string(bt)).Scan(&n)
	if err != nil {
		return "", db.Classify(err)
	}
	return formatNumber(bt, n), nil
}

// Get implements Store.
func (s *PgStore) Get(ctx context.Context, id int64) (Bill, error) {
	return getBill(ctx, s.pool, id, false)
}

// List implements Store.
func (s *PgStore) List(ctx context.Context, f Filter) ([]Bill, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+billColumns+` FROM bills
		WHERE ($1::text = '' OR bill_type = $1)
			AND ($2::text = '' OR status = $2)
			AND ($3::bigint = 0 OR party_id = $3)
			AND ($4::timestamptz IS NULL OR bill_date >= $4)
			AND ($5::timestamptz IS NULL OR bill_date <= $5)
		ORDER BY id DESC LIMIT $6`,
		string(f.Type), string(f.Status), f.PartyID, nullTime(f.From), nullTime(f.To), f.Limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	var bills []Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			rows.Close()
			return nil, db.Classify(err)
		}
		bills = append(bills, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, db.Classify(err)
	}
	if err := loadLines(ctx, s.pool, bills); err != nil {
		return nil, err
	}
	return bills, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
