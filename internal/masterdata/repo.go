package masterdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/siddharthggs/mediggs-sub000/internal/platform/db"
)

// repo implements Repository on PostgreSQL.
type repo struct {
	db *pgxpool.Pool
}

// NewRepository creates a new master data repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repo{db: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func one[T any](row rowScanner, scan func(rowScanner) (T, error), notFound error, id int64) (T, error) {
	v, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return v, fmt.Errorf("%w: id %d", notFound, id)
	}
	return v, db.Classify(err)
}

func many[T any](rows pgx.Rows, err error, scan func(rowScanner) (T, error)) ([]T, error) {
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, v)
	}
	return out, db.Classify(rows.Err())
}

// Product operations
const productColumns = `id, name, hsn, gst_rate, reorder_level, reorder_qty, unit, strip_qty, is_batch_managed, updated_at`

func scanProduct(row rowScanner) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.HSN, &p.GSTRate, &p.ReorderLevel, &p.ReorderQty, &p.Unit, &p.StripQty,
		&p.IsBatchManaged, &p.UpdatedAt)
	return p, err
}

func (r *repo) GetProduct(ctx context.Context, id int64) (Product, error) {
	row := r.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return one(row, scanProduct, ErrProductNotFound, id)
}

func (r *repo) ListProducts(ctx context.Context, f ListFilters) ([]Product, error) {
	rows, err := r.db.Query(ctx, `SELECT `+productColumns+` FROM products
		WHERE ($1::text = '' OR name ILIKE '%' || $1 || '%')
		ORDER BY name LIMIT $2 OFFSET $3`, f.Search, f.Limit, f.Offset)
	return many(rows, err, scanProduct)
}

func (r *repo) CreateProduct(ctx context.Context, p Product) (Product, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO products
		(name, hsn, gst_rate, reorder_level, reorder_qty, unit, strip_qty, is_batch_managed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+productColumns,
		p.Name, p.HSN, p.GSTRate, p.ReorderLevel, p.ReorderQty, p.Unit, p.StripQty, p.IsBatchManaged)
	return one(row, scanProduct, ErrProductNotFound, 0)
}

func (r *repo) UpdateProduct(ctx context.Context, p Product) (Product, error) {
	row := r.db.QueryRow(ctx, `UPDATE products SET name = $2, hsn = $3, gst_rate = $4, reorder_level = $5,
			reorder_qty = $6, unit = $7, strip_qty = $8, is_batch_managed = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING `+productColumns,
		p.ID, p.Name, p.HSN, p.GSTRate, p.ReorderLevel, p.ReorderQty, p.Unit, p.StripQty, p.IsBatchManaged)
	return one(row, scanProduct, ErrProductNotFound, p.ID)
}

// Party operations
const partyColumns = `id, kind, name, gstin, state_code, address, updated_at`

func scanParty(row rowScanner) (Party, error) {
	var p Party
	var kind string
	err := row.Scan(&p.ID, &kind, &p.Name, &p.GSTIN, &p.StateCode, &p.Address, &p.UpdatedAt)
	p.Kind = PartyKind(kind)
	return p, err
}

func (r *repo) GetParty(ctx context.Context, id int64) (Party, error) {
	row := r.db.QueryRow(ctx, `SELECT `+partyColumns+` FROM parties WHERE id = $1`, id)
	return one(row, scanParty, ErrPartyNotFound, id)
}

func (r *repo) ListParties(ctx context.Context, f ListFilters) ([]Party, error) {
	rows, err := r.db.Query(ctx, `SELECT `+partyColumns+` FROM parties
		WHERE ($1::text = '' OR kind = $1)
			AND ($2::text = '' OR name ILIKE '%' || $2 || '%')
		ORDER BY name LIMIT $3 OFFSET $4`, string(f.Kind), f.Search, f.Limit, f.Offset)
	return many(rows, err, scanParty)
}

func (r *repo) CreateParty(ctx context.Context, p Party) (Party, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO parties (kind, name, gstin, state_code, address)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+partyColumns,
		string(p.Kind), p.Name, p.GSTIN, p.StateCode, p.Address)
	return one(row, scanParty, ErrPartyNotFound, 0)
}

func (r *repo) UpdateParty(ctx context.Context, p Party) (Party, error) {
	row := r.db.QueryRow(ctx, `UPDATE parties SET kind = $2, name = $3, gstin = $4, state_code = $5,
			address = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING `+partyColumns,
		p.ID, string(p.Kind), p.Name, p.GSTIN, p.StateCode, p.Address)
	return one(row, scanParty, ErrPartyNotFound, p.ID)
}

// Company operations
const companyColumns = `id, name, gstin, state_code, address, updated_at`

func scanCompany(row rowScanner) (Company, error) {
	var c Company
	err := row.Scan(&c.ID, &c.Name, &c.GSTIN, &c.StateCode, &c.Address, &c.UpdatedAt)
	return c, err
}

func (r *repo) GetCompany(ctx context.Context, id int64) (Company, error) {
	row := r.db.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id)
	return one(row, scanCompany, ErrCompanyNotFound, id)
}

func (r *repo) ListCompanies(ctx context.Context) ([]Company, error) {
	rows, err := r.db.Query(ctx, `SELECT `+companyColumns+` FROM companies ORDER BY name`)
	return many(rows, err, scanCompany)
}

func (r *repo) CreateCompany(ctx context.Context, c Company) (Company, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO companies (name, gstin, state_code, address)
		VALUES ($1, $2, $3, $4)
		RETURNING `+companyColumns,
		c.Name, c.GSTIN, c.StateCode, c.Address)
	return one(row, scanCompany, ErrCompanyNotFound, 0)
}

func (r *repo) UpdateCompany(ctx context.Context, c Company) (Company, error) {
	row := r.db.QueryRow(ctx, `UPDATE companies SET name = $2, gstin = $3, state_code = $4, address = $5,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+companyColumns,
		c.ID, c.Name, c.GSTIN, c.StateCode, c.Address)
	return one(row, scanCompany, ErrCompanyNotFound, c.ID)
}

// Warehouse operations
const warehouseColumns = `id, code, name, updated_at`

func scanWarehouse(row rowScanner) (Warehouse, error) {
	var w Warehouse
	err := row.Scan(&w.ID, &w.Code, &w.Name, &w.UpdatedAt)
	return w, err
}

func (r *repo) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	row := r.db.QueryRow(ctx, `SELECT `+warehouseColumns+` FROM warehouses WHERE id = $1`, id)
	return one(row, scanWarehouse, ErrWarehouseNotFound, id)
}

func (r *repo) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	rows, err := r.db.Query(ctx, `SELECT `+warehouseColumns+` FROM warehouses ORDER BY code`)
	return many(rows, err, scanWarehouse)
}

func (r *repo) CreateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO warehouses (code, name) VALUES ($1, $2) RETURNING `+warehouseColumns,
		w.Code, w.Name)
	return one(row, scanWarehouse, ErrWarehouseNotFound, 0)
}
