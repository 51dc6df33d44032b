package billing

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/siddharthggs/mediggs-sub000/internal/inventory"
	"github.com/siddharthggs/mediggs-sub000/internal/pricing"
	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

// BillType distinguishes sales from purchase bills.
type BillType string

const (
	TypeSales    BillType = "SALES"
	TypePurchase BillType = "PURCHASE"
)

// Mode is the billing mode printed on the bill.
type Mode string

const (
	ModeCash    Mode = "CASH"
	ModeCredit  Mode = "CREDIT"
	ModeChallan Mode = "CHALLAN"
)

// Status enumerates the bill lifecycle.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusFinalized Status = "FINALIZED"
	StatusCancelled Status = "CANCELLED"
)

// CanEdit reports whether lines and header may still change.
func (s Status) CanEdit() bool { return s == StatusDraft }

// CanFinalize reports whether the bill may be finalized.
func (s Status) CanFinalize() bool { return s == StatusDraft }

// CanCancel reports whether the bill may be reversed.
func (s Status) CanCancel() bool { return s == StatusFinalized }

// LineCore holds the pricing inputs shared by every line shape.
type LineCore struct {
	ProductID       int64           `json:"product_id"`
	Qty             decimal.Decimal `json:"qty"`
	FreeQty         decimal.Decimal `json:"free_qty"`
	Rate            decimal.Decimal `json:"rate"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	TaxPercent      decimal.Decimal `json:"tax_percent"`
}

// PricingInput returns the fields the pricing engine consumes. Free quantity
// is not billed.
func (l LineCore) PricingInput() pricing.LineInput {
	return pricing.LineInput{Rate: l.Rate, Qty: l.Qty, DiscountPercent: l.DiscountPercent, TaxPercent: l.TaxPercent}
}

// StockQty is the quantity that moves stock: billed plus free.
func (l LineCore) StockQty() decimal.Decimal {
	return l.Qty.Add(l.FreeQty)
}

func (l LineCore) validate() error {
	if l.ProductID <= 0 {
		return fmt.Errorf("%w: product required", ErrInvalidBill)
	}
	if l.FreeQty.IsNegative() {
		return fmt.Errorf("%w: free qty must not be negative", ErrInvalidBill)
	}
	return l.PricingInput().Validate()
}

// SalesLine is a line of a sales bill. BatchID pins a batch and bypasses FEFO;
// Allocations are resolved at finalize and are read-only to callers.
type SalesLine struct {
	LineCore
	BatchID     int64                  `json:"batch_id,omitempty"`
	Allocations []inventory.Allocation `json:"allocations,omitempty"`
}

// PurchaseLine is a line of a purchase bill. It carries the batch master data
// booked on receipt; BatchID is resolved at finalize.
type PurchaseLine struct {
	LineCore
	BatchNumber string          `json:"batch_number"`
	Expiry      time.Time       `json:"expiry"`
	MRP         decimal.Decimal `json:"mrp"`
	PTR         decimal.Decimal `json:"ptr"`
	PTS         decimal.Decimal `json:"pts"`
	BatchID     int64           `json:"batch_id,omitempty"`
}

func (l PurchaseLine) validate(batched bool) error {
	if err := l.LineCore.validate(); err != nil {
		return err
	}
	if !batched {
		return nil
	}
	if strings.TrimSpace(l.BatchNumber) == "" {
		return fmt.Errorf("%w: batch number required", ErrInvalidBill)
	}
	if l.Expiry.IsZero() {
		return fmt.Errorf("%w: expiry required", ErrInvalidBill)
	}
	return inventory.ValidatePrices(l.MRP, l.PTR, l.PTS)
}

// Bill is a sales or purchase document. Exactly one of SalesLines and
// PurchaseLines is used, according to Type. Totals is the snapshot taken at
// finalize.
type Bill struct {
	ID            int64           `json:"id"`
	Type          BillType        `json:"type"`
	Number        string          `json:"number"`
	Date          time.Time       `json:"date"`
	PartyID       int64           `json:"party_id"`
	CompanyID     int64           `json:"company_id,omitempty"`
	WarehouseID   int64           `json:"warehouse_id"`
	Mode          Mode            `json:"mode"`
	InterState    bool            `json:"inter_state"`
	Status        Status          `json:"status"`
	RoundingUnit  decimal.Decimal `json:"rounding_unit"`
	SalesLines    []SalesLine     `json:"sales_lines,omitempty"`
	PurchaseLines []PurchaseLine  `json:"purchase_lines,omitempty"`
	Totals        *pricing.Totals `json:"totals,omitempty"`
	Note          string          `json:"note,omitempty"`
	FinalizedAt   *time.Time      `json:"finalized_at,omitempty"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Lines returns the pricing core of every line in order.
func (b Bill) Lines() []LineCore {
	if b.Type == TypePurchase {
		out := make([]LineCore, len(b.PurchaseLines))
		for i, l := range b.PurchaseLines {
			out[i] = l.LineCore
		}
		return out
	}
	out := make([]LineCore, len(b.SalesLines))
	for i, l := range b.SalesLines {
		out[i] = l.LineCore
	}
	return out
}

// Compute derives the document totals from the stored line inputs.
func (b Bill) Compute() pricing.Totals {
	lines := b.Lines()
	inputs := make([]pricing.LineInput, len(lines))
	for i, l := range lines {
		inputs[i] = l.PricingInput()
	}
	return pricing.ComputeDocument(inputs, pricing.Options{InterState: b.InterState, RoundingUnit: b.RoundingUnit})
}

// LockKeys returns the sorted, distinct scope lock keys touched by the bill.
func (b Bill) LockKeys() []string {
	seen := make(map[string]struct{})
	for _, l := range b.Lines() {
		seen[shared.StockScopeLockKey(l.ProductID, b.WarehouseID)] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reference is the ledger reference stamped on the bill's movements.
func (b Bill) Reference() inventory.Reference {
	return inventory.Reference{Kind: inventory.RefBill, ID: b.ID, Number: b.Number}
}

// DraftInput creates or replaces a draft.
type DraftInput struct {
	Type          BillType       `json:"type" validate:"required"`
	Number        string         `json:"number" validate:"max=40"`
	Date          time.Time      `json:"date"`
	PartyID       int64          `json:"party_id" validate:"required,gt=0"`
	CompanyID     int64          `json:"company_id" validate:"gte=0"`
	WarehouseID   int64          `json:"warehouse_id" validate:"required,gt=0"`
	Mode          Mode           `json:"mode" validate:"max=10"`
	InterState    *bool          `json:"inter_state"`
	Note          string         `json:"note" validate:"max=500"`
	SalesLines    []SalesLine    `json:"sales_lines"`
	PurchaseLines []PurchaseLine `json:"purchase_lines"`
}

func (in *DraftInput) normalize() {
	in.Type = BillType(strings.ToUpper(string(in.Type)))
	in.Mode = Mode(strings.ToUpper(string(in.Mode)))
	if in.Mode == "" {
		in.Mode = ModeCash
	}
	in.Number = strings.TrimSpace(in.Number)
}

// validate checks the header and line shapes. batched reports whether a
// product is batch managed.
func (in DraftInput) validate(batched func(productID int64) bool) error {
	switch in.Type {
	case TypeSales:
		if len(in.PurchaseLines) > 0 {
			return fmt.Errorf("%w: sales bill with purchase lines", ErrInvalidBill)
		}
		for i, l := range in.SalesLines {
			if err := l.validate(); err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			if l.BatchID < 0 {
				return fmt.Errorf("line %d: %w: invalid batch", i+1, ErrInvalidBill)
			}
			if l.BatchID > 0 && !batched(l.ProductID) {
				return fmt.Errorf("line %d: %w: product %d is not batch managed", i+1, ErrInvalidBill, l.ProductID)
			}
		}
	case TypePurchase:
		if len(in.SalesLines) > 0 {
			return fmt.Errorf("%w: purchase bill with sales lines", ErrInvalidBill)
		}
		for i, l := range in.PurchaseLines {
			if err := l.validate(batched(l.ProductID)); err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
		}
	default:
		return fmt.Errorf("%w: bill type %q", ErrInvalidBill, in.Type)
	}
	switch in.Mode {
	case ModeCash, ModeCredit, ModeChallan:
	default:
		return fmt.Errorf("%w: mode %q", ErrInvalidBill, in.Mode)
	}
	if in.PartyID <= 0 || in.WarehouseID <= 0 {
		return fmt.Errorf("%w: party and warehouse required", ErrInvalidBill)
	}
	return nil
}

// Filter narrows List.
type Filter struct {
	Type    BillType
	Status  Status
	PartyID int64
	From    time.Time
	To      time.Time
	Limit   int
}

// Recomputation compares freshly computed totals with the finalize snapshot.
type Recomputation struct {
	BillID      int64           `json:"bill_id"`
	Status      Status          `json:"status"`
	Computed    pricing.Totals  `json:"computed"`
	Snapshot    *pricing.Totals `json:"snapshot,omitempty"`
	Matches     bool            `json:"matches"`
	Differences []string        `json:"differences,omitempty"`
}

var (
	// ErrBillNotFound is returned for unknown bill ids.
	ErrBillNotFound = fmt.Errorf("billing: bill %w", shared.ErrNotFound)
	// ErrInvalidBill rejects malformed drafts.
	ErrInvalidBill = fmt.Errorf("billing: invalid bill: %w", shared.ErrValidation)
	// ErrInvalidBillState re-exports the shared classification.
	ErrInvalidBillState = shared.ErrInvalidBillState
	// ErrAlreadyFinalized guards repeated finalization.
	ErrAlreadyFinalized = fmt.Errorf("billing: bill already finalized: %w", shared.ErrInvalidBillState)
	// ErrNotDraft rejects edits of finalized or cancelled bills.
	ErrNotDraft = fmt.Errorf("billing: bill is not a draft: %w", shared.ErrInvalidBillState)
	// ErrAlreadyCancelled rejects a second cancellation.
	ErrAlreadyCancelled = fmt.Errorf("billing: bill already cancelled: %w", shared.ErrInvalidBillState)
	// ErrNotFinalized rejects printing a bill that was never finalized.
	ErrNotFinalized = fmt.Errorf("billing: bill is not finalized: %w", shared.ErrInvalidBillState)
	// ErrBillChanged is returned when a bill's lines changed between the
	// unlocked read and the locked transaction.
	ErrBillChanged = fmt.Errorf("billing: bill changed during finalize: %w", shared.ErrAllocationConflict)
)

// stateError maps a status onto the matching lifecycle error.
func stateError(s Status) error {
	switch s {
	case StatusFinalized:
		return ErrAlreadyFinalized
	case StatusCancelled:
		return ErrAlreadyCancelled
	}
	return ErrNotDraft
}

// formatNumber renders the document number of the n-th bill of a type.
func formatNumber(t BillType, n int64) string {
	prefix := "INV"
	if t == TypePurchase {
		prefix = "PUR"
	}
	return fmt.Sprintf("%s-%06d", prefix, n)
}
