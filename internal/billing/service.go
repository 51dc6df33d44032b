package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/siddharthggs/mediggs-sub000/internal/einvoice"
	"github.com/siddharthggs/mediggs-sub000/internal/inventory"
	"github.com/siddharthggs/mediggs-sub000/internal/masterdata"
	"github.com/siddharthggs/mediggs-sub000/internal/platform/lock"
	"github.com/siddharthggs/mediggs-sub000/internal/pricing"
	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

var tracer = otel.Tracer("mediggs/billing")

// TxStore is the transactional surface of the bill store. Its ledger and queue
// views share the same transaction, so finalize and cancel commit bill, stock
// and e-invoice changes together.
type TxStore interface {
	GetBill(ctx context.Context, id int64, forUpdate bool) (Bill, error)
	InsertBill(ctx context.Context, b Bill) (Bill, error)
	UpdateBill(ctx context.Context, b Bill) (Bill, error)
	DeleteBill(ctx context.Context, id int64) error
	// NextNumber reserves the next document number of a bill type.
	NextNumber(ctx context.Context, t BillType) (string, error)
	Ledger() inventory.TxRepository
	Queue() einvoice.TxRepository
}

// Store abstracts bill persistence.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	Get(ctx context.Context, id int64) (Bill, error)
	List(ctx context.Context, filter Filter) ([]Bill, error)
}

// MasterData resolves the products and parties a bill references.
type MasterData interface {
	Product(ctx context.Context, id int64) (masterdata.Product, error)
	Party(ctx context.Context, id int64) (masterdata.Party, error)
	Company(ctx context.Context, id int64) (masterdata.Company, error)
}

// AuditPort records audit events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsRecorder receives bill lifecycle outcomes.
type MetricsRecorder interface {
	RecordBillFinalized(billType string)
	RecordBillCancelled(billType string)
	RecordBillFailure(operation, reason string)
}

// Options tune the service.
type Options struct {
	// RoundingUnit is stamped on new drafts; zero means pricing.DefaultRoundingUnit.
	RoundingUnit decimal.Decimal
}

// Service owns the bill lifecycle: drafts, finalization against the stock
// ledger and cancellation.
type Service struct {
	store   Store
	locker  lock.Locker
	md      MasterData
	audit   AuditPort
	metrics MetricsRecorder
	batches BatchLookup
	logger  *slog.Logger
	opts    Options
	now     func() time.Time
}

// NewService builds the bill service. md and audit may be nil.
func NewService(store Store, locker lock.Locker, md MasterData, audit AuditPort, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if !opts.RoundingUnit.IsPositive() {
		opts.RoundingUnit = pricing.DefaultRoundingUnit
	}
	return &Service{store: store, locker: locker, md: md, audit: audit, logger: logger, opts: opts, now: time.Now}
}

// WithMetrics attaches a metrics recorder.
func (s *Service) WithMetrics(m MetricsRecorder) *Service {
	s.metrics = m
	return s
}

// CreateDraft validates and stores a new DRAFT bill. No stock moves.
func (s *Service) CreateDraft(ctx context.Context, in DraftInput) (*Bill, error) {
	b, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	b.Status = StatusDraft
	b.RoundingUnit = s.opts.RoundingUnit
	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if b.Number == "" {
			number, err := tx.NextNumber(ctx, b.Type)
			if err != nil {
				return err
			}
			b.Number = number
		}
		saved, err := tx.InsertBill(ctx, b)
		b = saved
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "bill.create", b)
	return &b, nil
}

// UpdateDraft replaces header and lines of a DRAFT bill. The bill type and
// number are kept.
func (s *Service) UpdateDraft(ctx context.Context, id int64, in DraftInput) (*Bill, error) {
	next, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	var out Bill
	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		cur, err := tx.GetBill(ctx, id, true)
		if err != nil {
			return err
		}
		if !cur.Status.CanEdit() {
			return fmt.Errorf("%w: bill %d is %s", stateError(cur.Status), id, cur.Status)
		}
		if next.Type != cur.Type {
			return fmt.Errorf("%w: bill type cannot change", ErrInvalidBill)
		}
		next.ID = cur.ID
		next.Number = cur.Number
		next.Status = cur.Status
		next.RoundingUnit = cur.RoundingUnit
		next.CreatedAt = cur.CreatedAt
		out, err = tx.UpdateBill(ctx, next)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// prepare validates a draft input against master data and converts it to a bill.
func (s *Service) prepare(ctx context.Context, in DraftInput) (Bill, error) {
	in.normalize()
	products, err := s.products(ctx, in.productIDs())
	if err != nil {
		return Bill{}, err
	}
	batched := func(id int64) bool {
		p, ok := products[id]
		return !ok || p.IsBatchManaged
	}
	if err := in.validate(batched); err != nil {
		return Bill{}, err
	}

	interState := false
	if s.md != nil {
		party, err := s.md.Party(ctx, in.PartyID)
		if err != nil {
			return Bill{}, err
		}
		want := masterdata.PartyCustomer
		if in.Type == TypePurchase {
			want = masterdata.PartySupplier
		}
		if party.Kind != want {
			return Bill{}, fmt.Errorf("%w: party %d is a %s", ErrInvalidBill, party.ID, party.Kind)
		}
		if in.CompanyID > 0 {
			company, err := s.md.Company(ctx, in.CompanyID)
			if err != nil {
				return Bill{}, err
			}
			interState = masterdata.InterState(company, party)
		}
	}
	if in.InterState != nil {
		interState = *in.InterState
	}

	date := in.Date
	if date.IsZero() {
		date = s.now()
	}
	b := Bill{
		Type:        in.Type,
		Number:      in.Number,
		Date:        date.UTC(),
		PartyID:     in.PartyID,
		CompanyID:   in.CompanyID,
		WarehouseID: in.WarehouseID,
		Mode:        in.Mode,
		InterState:  interState,
		Note:        in.Note,
	}
	if in.Type == TypeSales {
		b.SalesLines = make([]SalesLine, len(in.SalesLines))
		for i, l := range in.SalesLines {
			l.Allocations = nil
			b.SalesLines[i] = l
		}
	} else {
		b.PurchaseLines = make([]PurchaseLine, len(in.PurchaseLines))
		for i, l := range in.PurchaseLines {
			l.BatchID = 0
			b.PurchaseLines[i] = l
		}
	}
	return b, nil
}

func (in DraftInput) productIDs() []int64 {
	var ids []int64
	for _, l := range in.SalesLines {
		ids = append(ids, l.ProductID)
	}
	for _, l := range in.PurchaseLines {
		ids = append(ids, l.ProductID)
	}
	return ids
}

// products resolves each distinct product once. Without master data the map is
// empty and every product is treated as batch managed.
func (s *Service) products(ctx context.Context, ids []int64) (map[int64]masterdata.Product, error) {
	out := make(map[int64]masterdata.Product)
	if s.md == nil {
		return out, nil
	}
	for _, id := range ids {
		if _, ok := out[id]; ok || id <= 0 {
			continue
		}
		p, err := s.md.Product(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

// Finalize posts a DRAFT bill: it locks every (product, warehouse) scope of the
// bill, then in one transaction prices the lines, allocates and records the
// stock movements, snapshots the totals and, for sales bills, queues the
// e-invoice. Any failure leaves the bill DRAFT with no movement written. A
// finalized bill is rejected with ErrAlreadyFinalized.
func (s *Service) Finalize(ctx context.Context, id int64) (out *Bill, err error) {
	ctx, span := tracer.Start(ctx, "billing.finalize", trace.WithAttributes(attribute.Int64("bill.id", id)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.recordFailure("finalize", err)
		}
		span.End()
	}()

	draft, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !draft.Status.CanFinalize() {
		return nil, fmt.Errorf("%w: bill %d is %s", stateError(draft.Status), id, draft.Status)
	}
	if len(draft.Lines()) == 0 {
		return nil, fmt.Errorf("%w: bill %d has no lines", ErrInvalidBill, id)
	}
	products, err := s.products(ctx, lineProductIDs(draft))
	if err != nil {
		return nil, err
	}
	unbatched := func(productID int64) bool {
		p, ok := products[productID]
		return ok && !p.IsBatchManaged
	}

	keys := draft.LockKeys()
	span.SetAttributes(attribute.String("bill.type", string(draft.Type)), attribute.Int("bill.scopes", len(keys)))
	release, err := s.locker.Lock(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer release()

	var bill Bill
	var movements int
	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		cur, err := tx.GetBill(ctx, id, true)
		if err != nil {
			return err
		}
		if !cur.Status.CanFinalize() {
			return fmt.Errorf("%w: bill %d is %s", stateError(cur.Status), id, cur.Status)
		}
		if !slices.Equal(cur.LockKeys(), keys) {
			return ErrBillChanged
		}
		totals := cur.Compute()

		switch cur.Type {
		case TypeSales:
			movements, err = s.postSales(ctx, tx.Ledger(), &cur, unbatched)
		case TypePurchase:
			movements, err = s.postPurchase(ctx, tx.Ledger(), &cur, unbatched)
		default:
			err = fmt.Errorf("%w: bill type %q", ErrInvalidBill, cur.Type)
		}
		if err != nil {
			return err
		}

		now := s.now().UTC()
		cur.Status = StatusFinalized
		cur.Totals = &totals
		cur.FinalizedAt = &now
		bill, err = tx.UpdateBill(ctx, cur)
		if err != nil {
			return err
		}
		if bill.Type == TypeSales {
			if _, err := einvoice.EnqueueTx(ctx, tx.Queue(), bill.ID); err != nil {
				return fmt.Errorf("queue e-invoice: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("bill finalized",
		slog.Int64("bill_id", bill.ID),
		slog.String("number", bill.Number),
		slog.String("type", string(bill.Type)),
		slog.Int("movements", movements),
		slog.String("grand_total", bill.Totals.GrandTotal.StringFixed(2)))
	s.recordAudit(ctx, "bill.finalize", bill)
	if s.metrics != nil {
		s.metrics.RecordBillFinalized(string(bill.Type))
	}
	return &bill, nil
}

// postSales allocates every sales line against balances read inside the
// transaction and records one SALE per allocation.
func (s *Service) postSales(ctx context.Context, tx inventory.TxRepository, b *Bill, unbatched func(int64) bool) (int, error) {
	asOf := s.now()
	count := 0
	for i := range b.SalesLines {
		line := &b.SalesLines[i]
		qty := line.StockQty()
		allocations, err := inventory.AllocateTx(ctx, tx, line.ProductID, b.WarehouseID, qty, unbatched(line.ProductID),
			inventory.AllocateOptions{PinnedBatchID: line.BatchID, AsOf: asOf})
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", i+1, err)
		}
		for _, a := range allocations {
			_, err := inventory.RecordTx(ctx, tx, inventory.MovementInput{
				Scope:     inventory.Scope{ProductID: line.ProductID, BatchID: a.BatchID, WarehouseID: b.WarehouseID},
				Type:      inventory.MovementSale,
				Delta:     a.Qty.Neg(),
				Reference: b.Reference(),
			})
			if err != nil {
				return 0, fmt.Errorf("line %d: %w", i+1, err)
			}
			count++
		}
		line.Allocations = allocations
	}
	return count, nil
}

// postPurchase books each purchase line into its batch, creating the batch on
// first receipt.
func (s *Service) postPurchase(ctx context.Context, tx inventory.TxRepository, b *Bill, unbatched func(int64) bool) (int, error) {
	for i := range b.PurchaseLines {
		line := &b.PurchaseLines[i]
		var batchID int64
		if !unbatched(line.ProductID) {
			batch, err := inventory.EnsureBatchTx(ctx, tx, inventory.BatchInput{
				ProductID:   line.ProductID,
				Number:      line.BatchNumber,
				Expiry:      line.Expiry,
				MRP:         line.MRP,
				PTR:         line.PTR,
				PTS:         line.PTS,
				WarehouseID: b.WarehouseID,
			})
			if err != nil {
				return 0, fmt.Errorf("line %d: %w", i+1, err)
			}
			batchID = batch.ID
		}
		_, err := inventory.RecordTx(ctx, tx, inventory.MovementInput{
			Scope:     inventory.Scope{ProductID: line.ProductID, BatchID: batchID, WarehouseID: b.WarehouseID},
			Type:      inventory.MovementPurchase,
			Delta:     line.StockQty(),
			Reference: b.Reference(),
		})
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", i+1, err)
		}
		line.BatchID = batchID
	}
	return len(b.PurchaseLines), nil
}

// Delete removes a DRAFT bill outright. A FINALIZED bill is cancelled instead:
// every movement it wrote is reversed by a CANCELLATION entry and its pending
// e-invoice is abandoned. The returned bill is nil for a deleted draft.
func (s *Service) Delete(ctx context.Context, id int64) (out *Bill, err error) {
	ctx, span := tracer.Start(ctx, "billing.delete", trace.WithAttributes(attribute.Int64("bill.id", id)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.recordFailure("cancel", err)
		}
		span.End()
	}()

	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch b.Status {
	case StatusDraft:
		return nil, s.deleteDraft(ctx, id)
	case StatusFinalized:
		return s.cancel(ctx, b)
	}
	return nil, fmt.Errorf("%w: bill %d", ErrAlreadyCancelled, id)
}

func (s *Service) deleteDraft(ctx context.Context, id int64) error {
	var deleted Bill
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		cur, err := tx.GetBill(ctx, id, true)
		if err != nil {
			return err
		}
		if cur.Status != StatusDraft {
			return fmt.Errorf("%w: bill %d is %s", stateError(cur.Status), id, cur.Status)
		}
		deleted = cur
		return tx.DeleteBill(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "bill.delete", deleted)
	return nil
}

func (s *Service) cancel(ctx context.Context, b Bill) (*Bill, error) {
	release, err := s.locker.Lock(ctx, b.LockKeys()...)
	if err != nil {
		return nil, err
	}
	defer release()

	var bill Bill
	var reversed int
	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		cur, err := tx.GetBill(ctx, b.ID, true)
		if err != nil {
			return err
		}
		if !cur.Status.CanCancel() {
			return fmt.Errorf("%w: bill %d is %s", stateError(cur.Status), cur.ID, cur.Status)
		}
		ledger := tx.Ledger()
		posted, err := ledger.MovementsByReference(ctx, cur.Reference())
		if err != nil {
			return err
		}
		for _, m := range posted {
			if m.Type == inventory.MovementCancellation {
				continue
			}
			_, err := inventory.RecordTx(ctx, ledger, inventory.MovementInput{
				Scope:     m.Scope,
				Type:      inventory.MovementCancellation,
				Delta:     m.Delta.Neg(),
				Reference: cur.Reference(),
				Note:      "reverses movement " + strconv.FormatInt(m.ID, 10),
			})
			if err != nil {
				return fmt.Errorf("reverse movement %d: %w", m.ID, err)
			}
			reversed++
		}

		now := s.now().UTC()
		cur.Status = StatusCancelled
		cur.CancelledAt = &now
		bill, err = tx.UpdateBill(ctx, cur)
		if err != nil {
			return err
		}
		if _, _, err := einvoice.CancelTx(ctx, tx.Queue(), cur.ID); err != nil {
			return fmt.Errorf("abandon e-invoice: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("bill cancelled",
		slog.Int64("bill_id", bill.ID),
		slog.String("number", bill.Number),
		slog.Int("reversed", reversed))
	s.recordAudit(ctx, "bill.cancel", bill)
	if s.metrics != nil {
		s.metrics.RecordBillCancelled(string(bill.Type))
	}
	return &bill, nil
}

// Get returns one bill.
func (s *Service) Get(ctx context.Context, id int64) (*Bill, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// List returns bills matching filter, newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Bill, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.store.List(ctx, filter)
}

// Recompute derives the totals again from the stored lines and compares them
// with the finalize snapshot. Drafts have no snapshot and always match.
func (s *Service) Recompute(ctx context.Context, id int64) (*Recomputation, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r := &Recomputation{BillID: b.ID, Status: b.Status, Computed: b.Compute(), Snapshot: b.Totals, Matches: true}
	if b.Totals != nil {
		r.Differences = b.Totals.Diff(r.Computed)
		r.Matches = len(r.Differences) == 0
	}
	if !r.Matches {
		s.logger.Warn("bill totals drifted from snapshot",
			slog.Int64("bill_id", b.ID),
			slog.Any("fields", r.Differences))
	}
	return r, nil
}

func (s *Service) recordFailure(operation string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordBillFailure(operation, failureReason(err))
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, shared.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, shared.ErrInvalidBillState):
		return "invalid_state"
	case errors.Is(err, shared.ErrAllocationConflict):
		return "conflict"
	case errors.Is(err, shared.ErrValidation):
		return "validation"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	}
	return "internal"
}

func (s *Service) recordAudit(ctx context.Context, action string, b Bill) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{
		"type":   b.Type,
		"number": b.Number,
		"status": b.Status,
	}
	if b.Totals != nil {
		meta["grand_total"] = b.Totals.GrandTotal.String()
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "bill",
		EntityID: strconv.FormatInt(b.ID, 10),
		Meta:     meta,
		At:       s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("audit bill", slog.Int64("bill_id", b.ID), slog.Any("error", err))
	}
}
