package masterdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

// PartyKind distinguishes customers from suppliers.
type PartyKind string

const (
	PartyCustomer PartyKind = "CUSTOMER"
	PartySupplier PartyKind = "SUPPLIER"
)

// ListFilters represents standard list filters.
type ListFilters struct {
	Search string
	Kind   PartyKind
	Limit  int
	Offset int
}

// Product is a sellable item. StripQty converts packs to units.
type Product struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name" validate:"required,max=200"`
	HSN            string          `json:"hsn" validate:"omitempty,max=8,numeric"`
	GSTRate        decimal.Decimal `json:"gst_rate"`
	ReorderLevel   decimal.Decimal `json:"reorder_level"`
	ReorderQty     decimal.Decimal `json:"reorder_qty"`
	Unit           string          `json:"unit" validate:"max=20"`
	StripQty       int             `json:"strip_qty" validate:"gte=0"`
	IsBatchManaged bool            `json:"is_batch_managed"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Party is a customer or supplier.
type Party struct {
	ID        int64     `json:"id"`
	Kind      PartyKind `json:"kind" validate:"required,oneof=CUSTOMER SUPPLIER"`
	Name      string    `json:"name" validate:"required,max=200"`
	GSTIN     string    `json:"gstin" validate:"omitempty,len=15,alphanum"`
	StateCode string    `json:"state_code" validate:"omitempty,len=2,numeric"`
	Address   string    `json:"address" validate:"max=500"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Company is the selling or buying entity printed on bills.
type Company struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name" validate:"required,max=200"`
	GSTIN     string    `json:"gstin" validate:"omitempty,len=15,alphanum"`
	StateCode string    `json:"state_code" validate:"omitempty,len=2,numeric"`
	Address   string    `json:"address" validate:"max=500"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Warehouse is a godown stock is held in.
type Warehouse struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code" validate:"required,max=20"`
	Name      string    `json:"name" validate:"required,max=100"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository abstracts master data persistence.
type Repository interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context, filters ListFilters) ([]Product, error)
	CreateProduct(ctx context.Context, p Product) (Product, error)
	UpdateProduct(ctx context.Context, p Product) (Product, error)

	GetParty(ctx context.Context, id int64) (Party, error)
	ListParties(ctx context.Context, filters ListFilters) ([]Party, error)
	CreateParty(ctx context.Context, p Party) (Party, error)
	UpdateParty(ctx context.Context, p Party) (Party, error)

	GetCompany(ctx context.Context, id int64) (Company, error)
	ListCompanies(ctx context.Context) ([]Company, error)
	CreateCompany(ctx context.Context, c Company) (Company, error)
	UpdateCompany(ctx context.Context, c Company) (Company, error)

	GetWarehouse(ctx context.Context, id int64) (Warehouse, error)
	ListWarehouses(ctx context.Context) ([]Warehouse, error)
	CreateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error)
}

var (
	ErrProductNotFound   = fmt.Errorf("masterdata: product %w", shared.ErrNotFound)
	ErrPartyNotFound     = fmt.Errorf("masterdata: party %w", shared.ErrNotFound)
	ErrCompanyNotFound   = fmt.Errorf("masterdata: company %w", shared.ErrNotFound)
	ErrWarehouseNotFound = fmt.Errorf("masterdata: warehouse %w", shared.ErrNotFound)
)

var maxGSTRate = decimal.NewFromInt(28)

func (p *Product) normalize() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("%w: product name required", shared.ErrValidation)
	}
	if p.GSTRate.IsNegative() || p.GSTRate.GreaterThan(maxGSTRate) {
		return fmt.Errorf("%w: gst rate %s out of range", shared.ErrValidation, p.GSTRate)
	}
	if p.ReorderLevel.IsNegative() || p.ReorderQty.IsNegative() {
		return fmt.Errorf("%w: reorder values must not be negative", shared.ErrValidation)
	}
	if p.StripQty < 0 {
		return fmt.Errorf("%w: strip qty must not be negative", shared.ErrValidation)
	}
	return nil
}

func (p *Party) normalize() error {
	p.Name = strings.TrimSpace(p.Name)
	p.Kind = PartyKind(strings.ToUpper(string(p.Kind)))
	if p.Name == "" {
		return fmt.Errorf("%w: party name required", shared.ErrValidation)
	}
	if p.Kind != PartyCustomer && p.Kind != PartySupplier {
		return fmt.Errorf("%w: party kind %q", shared.ErrValidation, p.Kind)
	}
	var err error
	p.GSTIN, p.StateCode, err = normalizeTaxID(p.GSTIN, p.StateCode)
	return err
}

func (c *Company) normalize() error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return fmt.Errorf("%w: company name required", shared.ErrValidation)
	}
	var err error
	c.GSTIN, c.StateCode, err = normalizeTaxID(c.GSTIN, c.StateCode)
	return err
}

// normalizeTaxID upper-cases the GSTIN and derives the state code from its
// first two digits when missing.
func normalizeTaxID(gstin, stateCode string) (string, string, error) {
	gstin = strings.ToUpper(strings.TrimSpace(gstin))
	if gstin == "" {
		return "", stateCode, nil
	}
	if len(gstin) != 15 {
		return "", "", fmt.Errorf("%w: gstin %q must have 15 characters", shared.ErrValidation, gstin)
	}
	prefix := gstin[:2]
	if stateCode == "" {
		stateCode = prefix
	}
	if stateCode != prefix {
		return "", "", fmt.Errorf("%w: gstin %s does not match state %s", shared.ErrValidation, gstin, stateCode)
	}
	return gstin, stateCode, nil
}

// InterState reports whether a supply between company and party crosses state
// lines. Unknown state codes count as intra-state.
func InterState(company Company, party Party) bool {
	return company.StateCode != "" && party.StateCode != "" && company.StateCode != party.StateCode
}
