package einvoice

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

// Status of a queue entry.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSyncing Status = "SYNCING"
	StatusSynced  Status = "SYNCED"
	StatusFailed  Status = "FAILED"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSyncing, StatusSynced, StatusFailed:
		return true
	}
	return false
}

// Entry tracks the IRN submission of one sales bill.
type Entry struct {
	ID            int64      `json:"id"`
	BillID        int64      `json:"bill_id"`
	Status        Status     `json:"status"`
	IRN           string     `json:"irn,omitempty"`
	AckNo         string     `json:"ack_no,omitempty"`
	Attempts      int        `json:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	RequestID     string     `json:"request_id"`
	LockedAt      *time.Time `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Terminal reports whether the sync worker will leave the entry alone. A FAILED
// entry without a next attempt is dead until retried by hand.
func (e Entry) Terminal() bool {
	return e.Status == StatusSynced || (e.Status == StatusFailed && e.NextAttemptAt == nil)
}

// Document is the bill data submitted for IRN generation.
type Document struct {
	BillID        int64           `json:"bill_id"`
	Type          string          `json:"type"`
	Number        string          `json:"number"`
	Date          time.Time       `json:"date"`
	Status        string          `json:"status"`
	SellerName    string          `json:"seller_name"`
	SellerGSTIN   string          `json:"seller_gstin"`
	BuyerName     string          `json:"buyer_name"`
	BuyerGSTIN    string          `json:"buyer_gstin"`
	PlaceOfSupply string          `json:"place_of_supply"`
	Items         []DocumentItem  `json:"items"`
	TaxableAmount decimal.Decimal `json:"taxable_amount"`
	SGST          decimal.Decimal `json:"sgst"`
	CGST          decimal.Decimal `json:"cgst"`
	IGST          decimal.Decimal `json:"igst"`
	RoundOff      decimal.Decimal `json:"round_off"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
}

// Cancelled reports whether the bill was cancelled after it was queued.
func (d Document) Cancelled() bool {
	return d.Status == "CANCELLED"
}

// Eligible reports whether the bill may enter the queue.
func (d Document) Eligible() bool {
	return d.Type == "SALES" && d.Status == "FINALIZED"
}

// DocumentItem is one invoice line.
type DocumentItem struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	HSN       string          `json:"hsn"`
	Qty       decimal.Decimal `json:"qty"`
	FreeQty   decimal.Decimal `json:"free_qty"`
	Rate      decimal.Decimal `json:"rate"`
	Taxable   decimal.Decimal `json:"taxable"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
	Tax       decimal.Decimal `json:"tax"`
	Total     decimal.Decimal `json:"total"`
}

// Payload is sent to the IRN collaborator. RequestID is stable per entry and
// lets the collaborator drop duplicate submissions.
type Payload struct {
	RequestID string   `json:"request_id"`
	Document  Document `json:"document"`
}

// Result is the acknowledgement of a successful submission.
type Result struct {
	IRN     string `json:"irn"`
	AckNo   string `json:"ack_no"`
	AckDate string `json:"ack_date,omitempty"`
}

// SyncReport summarises one Sync run.
type SyncReport struct {
	Claimed int `json:"claimed"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
	Dead    int `json:"dead"`
}

// Filter narrows List.
type Filter struct {
	Status Status
	Limit  int
}

var (
	// ErrEntryNotFound is returned when a bill has no queue entry.
	ErrEntryNotFound = fmt.Errorf("einvoice: entry %w", shared.ErrNotFound)
	// ErrNotRetryable rejects a manual retry of an entry that has not failed.
	ErrNotRetryable = fmt.Errorf("%w: einvoice entry is not failed", shared.ErrValidation)
	// ErrNotEligible rejects enqueueing a bill that is not a finalized sales bill.
	ErrNotEligible = fmt.Errorf("%w: bill is not a finalized sales bill", shared.ErrValidation)
	// ErrEmptyAcknowledgement marks a success response without an IRN.
	ErrEmptyAcknowledgement = errors.New("einvoice: acknowledgement without irn")
)

const (
	reasonCancelled            = "bill cancelled before submission"
	reasonCancelledAfterSubmit = "bill cancelled after irn was issued; cancel the irn with the authority"
)
