package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

// MovementType enumerates the kinds of stock ledger entries.
type MovementType string

const (
	MovementPurchase     MovementType = "PURCHASE"
	MovementSale         MovementType = "SALE"
	MovementReturn       MovementType = "RETURN"
	MovementCreditNote   MovementType = "CREDIT_NOTE"
	MovementTransferIn   MovementType = "TRANSFER_IN"
	MovementTransferOut  MovementType = "TRANSFER_OUT"
	MovementAdjustment   MovementType = "ADJUSTMENT"
	MovementCancellation MovementType = "CANCELLATION"
)

// IsValid reports whether t is a known movement type.
func (t MovementType) IsValid() bool {
	switch t {
	case MovementPurchase, MovementSale, MovementReturn, MovementCreditNote,
		MovementTransferIn, MovementTransferOut, MovementAdjustment, MovementCancellation:
		return true
	}
	return false
}

// sign is +1 for inbound-only types, -1 for outbound-only types and 0 when
// either direction is allowed.
func (t MovementType) sign() int {
	switch t {
	case MovementPurchase, MovementCreditNote, MovementTransferIn:
		return 1
	case MovementSale, MovementTransferOut:
		return -1
	}
	return 0
}

// Reference kinds stamped on movements.
const (
	RefBill       = "BILL"
	RefTransfer   = "TRANSFER"
	RefAdjustment = "ADJUSTMENT"
	RefReceipt    = "RECEIPT"
)

// Reference points a movement back at its source document.
type Reference struct {
	Kind   string `json:"kind"`
	ID     int64  `json:"id"`
	Number string `json:"number,omitempty"`
}

// Scope identifies one running balance. BatchID 0 is the scope of products that
// are not batch managed.
type Scope struct {
	ProductID   int64 `json:"product_id"`
	BatchID     int64 `json:"batch_id"`
	WarehouseID int64 `json:"warehouse_id"`
}

// LockKey is the key serializing writers of this scope. It covers every batch of
// the product in the warehouse so FEFO reads and writes share one critical section.
func (s Scope) LockKey() string {
	return shared.StockScopeLockKey(s.ProductID, s.WarehouseID)
}

func (s Scope) String() string {
	return fmt.Sprintf("product=%d batch=%d warehouse=%d", s.ProductID, s.BatchID, s.WarehouseID)
}

// Movement is an immutable ledger entry.
type Movement struct {
	ID           int64           `json:"id"`
	Scope        Scope           `json:"scope"`
	Type         MovementType    `json:"type"`
	Delta        decimal.Decimal `json:"delta"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Sequence     int64           `json:"sequence"`
	Reference    Reference       `json:"reference"`
	Override     bool            `json:"override,omitempty"`
	Note         string          `json:"note,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// MovementInput is the request to append one movement.
type MovementInput struct {
	Scope     Scope
	Type      MovementType
	Delta     decimal.Decimal
	Reference Reference
	// Override lets a corrective ADJUSTMENT drive the balance below zero.
	Override bool
	Note     string
	// IdempotencyKey, when set, makes a replayed request fail with
	// shared.ErrIdempotencyConflict instead of writing twice.
	IdempotencyKey string
	ActorID        int64
}

// Validate checks type, sign and scope before any lock is taken.
func (in MovementInput) Validate() error {
	if in.Scope.ProductID <= 0 || in.Scope.WarehouseID <= 0 || in.Scope.BatchID < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidScope, in.Scope)
	}
	if !in.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidMovementType, in.Type)
	}
	if in.Delta.IsZero() {
		return fmt.Errorf("%w: delta must not be zero", ErrInvalidQuantity)
	}
	switch in.Type.sign() {
	case 1:
		if in.Delta.IsNegative() {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidQuantity, in.Type)
		}
	case -1:
		if in.Delta.IsPositive() {
			return fmt.Errorf("%w: %s must be negative", ErrInvalidQuantity, in.Type)
		}
	}
	if in.Override && in.Type != MovementAdjustment {
		return fmt.Errorf("%w: %s", ErrOverrideNotAllowed, in.Type)
	}
	return nil
}

// Batch is a lot of one product. Quantity is derived from the ledger.
type Batch struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	Number      string          `json:"number"`
	Expiry      time.Time       `json:"expiry"`
	MRP         decimal.Decimal `json:"mrp"`
	PTR         decimal.Decimal `json:"ptr"`
	PTS         decimal.Decimal `json:"pts"`
	WarehouseID int64           `json:"warehouse_id,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Expired reports whether the batch expired before asOf. Batches without an
// expiry date never expire.
func (b Batch) Expired(asOf time.Time) bool {
	return !b.Expiry.IsZero() && b.Expiry.Before(asOf)
}

// BatchInput creates a batch and books its opening quantity.
type BatchInput struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	Number      string          `json:"number" validate:"required,max=40"`
	Expiry      time.Time       `json:"expiry"`
	MRP         decimal.Decimal `json:"mrp"`
	PTR         decimal.Decimal `json:"ptr"`
	PTS         decimal.Decimal `json:"pts"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	Qty         decimal.Decimal `json:"qty"`
	Reference   Reference       `json:"reference"`
	ActorID     int64           `json:"-"`
}

// ValidatePrices enforces 0 < PTS <= PTR <= MRP. PTS is stored as given and never
// re-derived from PTR and a discount.
func ValidatePrices(mrp, ptr, pts decimal.Decimal) error {
	switch {
	case !pts.IsPositive():
		return fmt.Errorf("%w: pts must be positive", ErrInvalidBatch)
	case pts.GreaterThan(ptr):
		return fmt.Errorf("%w: pts %s exceeds ptr %s", ErrInvalidBatch, pts, ptr)
	case ptr.GreaterThan(mrp):
		return fmt.Errorf("%w: ptr %s exceeds mrp %s", ErrInvalidBatch, ptr, mrp)
	}
	return nil
}

// BatchStock is a batch with its balance in one warehouse, the allocator's input.
type BatchStock struct {
	BatchID int64           `json:"batch_id"`
	Number  string          `json:"number"`
	Expiry  time.Time       `json:"expiry"`
	Qty     decimal.Decimal `json:"qty"`
}

// Allocation is the quantity taken from one batch.
type Allocation struct {
	BatchID int64           `json:"batch_id"`
	Qty     decimal.Decimal `json:"qty"`
}

// AllocateOptions tune batch selection.
type AllocateOptions struct {
	// PinnedBatchID bypasses FEFO and takes everything from this batch.
	PinnedBatchID int64
	// IncludeExpired makes expired batches eligible.
	IncludeExpired bool
	// AsOf is the expiry cut-off; zero means now.
	AsOf time.Time
}

// TransferInput moves stock of one batch between warehouses.
type TransferInput struct {
	ProductID       int64           `json:"product_id" validate:"required,gt=0"`
	BatchID         int64           `json:"batch_id" validate:"gte=0"`
	FromWarehouseID int64           `json:"from_warehouse_id" validate:"required,gt=0"`
	ToWarehouseID   int64           `json:"to_warehouse_id" validate:"required,gt=0,nefield=FromWarehouseID"`
	Qty             decimal.Decimal `json:"qty"`
	Reference       Reference       `json:"reference"`
	Note            string          `json:"note"`
	ActorID         int64           `json:"-"`
}

// MovementFilter narrows ledger reads.
type MovementFilter struct {
	ProductID   int64
	BatchID     *int64
	WarehouseID *int64
	Reference   *Reference
	From        time.Time
	To          time.Time
	Limit       int
}

// Verification is the result of replaying one scope.
type Verification struct {
	Scope    Scope           `json:"scope"`
	Entries  int             `json:"entries"`
	Sum      decimal.Decimal `json:"sum"`
	Balance  decimal.Decimal `json:"balance"`
	Problems []string        `json:"problems,omitempty"`
}

// OK reports whether the replay matched the snapshots.
func (v Verification) OK() bool {
	return len(v.Problems) == 0
}

var (
	// ErrInsufficientStock re-exports the shared classification.
	ErrInsufficientStock = shared.ErrInsufficientStock
	// ErrNoAvailableBatches is returned when eligible batches cannot cover a request.
	ErrNoAvailableBatches = fmt.Errorf("inventory: no available batches: %w", shared.ErrInsufficientStock)
	// ErrInvalidQuantity rejects zero or wrongly signed quantities.
	ErrInvalidQuantity = fmt.Errorf("inventory: invalid quantity: %w", shared.ErrValidation)
	// ErrInvalidMovementType rejects unknown types.
	ErrInvalidMovementType = fmt.Errorf("inventory: invalid movement type: %w", shared.ErrValidation)
	// ErrInvalidScope rejects incomplete scopes.
	ErrInvalidScope = fmt.Errorf("inventory: invalid scope: %w", shared.ErrValidation)
	// ErrOverrideNotAllowed restricts overrides to corrective adjustments.
	ErrOverrideNotAllowed = fmt.Errorf("inventory: override only allowed for ADJUSTMENT: %w", shared.ErrValidation)
	// ErrInvalidBatch rejects inconsistent batch master data.
	ErrInvalidBatch = fmt.Errorf("inventory: invalid batch: %w", shared.ErrValidation)
	// ErrBatchExpired rejects a pinned batch past its expiry.
	ErrBatchExpired = fmt.Errorf("inventory: batch expired: %w", shared.ErrValidation)
	// ErrBatchNotFound indicates an unknown batch id or product/number pair.
	ErrBatchNotFound = fmt.Errorf("inventory: batch not found: %w", shared.ErrNotFound)
	// ErrBatchProductMismatch is returned when a batch belongs to another product.
	ErrBatchProductMismatch = fmt.Errorf("inventory: batch belongs to another product: %w", shared.ErrValidation)
)
