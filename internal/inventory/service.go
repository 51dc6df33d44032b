package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/siddharthggs/mediggs-sub000/internal/platform/lock"
	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

// TxRepository is the transactional surface of the ledger store.
type TxRepository interface {
	// LatestMovement returns the last entry of scope; found is false for an
	// empty scope. forUpdate locks the row until the transaction ends.
	LatestMovement(ctx context.Context, scope Scope, forUpdate bool) (m Movement, found bool, err error)
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
	BatchStocks(ctx context.Context, productID, warehouseID int64) ([]BatchStock, error)
	GetBatch(ctx context.Context, id int64) (Batch, error)
	FindBatch(ctx context.Context, productID int64, number string) (Batch, error)
	InsertBatch(ctx context.Context, b Batch) (Batch, error)
	MovementsByReference(ctx context.Context, ref Reference) ([]Movement, error)
}

// RepositoryPort abstracts persistence for the stock ledger.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	LatestBalances(ctx context.Context, productID int64, batchID, warehouseID *int64) ([]Movement, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	ScopeMovements(ctx context.Context, scope Scope) ([]Movement, error)
	Scopes(ctx context.Context) ([]Scope, error)
	GetBatch(ctx context.Context, id int64) (Batch, error)
	ListBatches(ctx context.Context, productID int64) ([]Batch, error)
}

// AuditPort records audit events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards replayed movement requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

const idempotencyModule = "inventory"

// Service is the stock ledger and batch allocator.
type Service struct {
	repo   RepositoryPort
	locker lock.Locker
	audit  AuditPort
	idem   IdempotencyPort
	logger *slog.Logger
}

// NewService builds the ledger service.
func NewService(repo RepositoryPort, locker lock.Locker, audit AuditPort, idem IdempotencyPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, locker: locker, audit: audit, idem: idem, logger: logger}
}

// RecordTx appends one movement inside a caller-owned transaction. The caller
// must hold the lock of in.Scope. A resulting negative balance is rejected for
// outbound deltas unless the input is an override adjustment.
func RecordTx(ctx context.Context, tx TxRepository, in MovementInput) (Movement, error) {
	if err := in.Validate(); err != nil {
		return Movement{}, err
	}
	if in.Scope.BatchID != 0 {
		batch, err := tx.GetBatch(ctx, in.Scope.BatchID)
		if err != nil {
			return Movement{}, err
		}
		if batch.ProductID != in.Scope.ProductID {
			return Movement{}, fmt.Errorf("%w: batch %d", ErrBatchProductMismatch, in.Scope.BatchID)
		}
	}
	last, found, err := tx.LatestMovement(ctx, in.Scope, true)
	if err != nil {
		return Movement{}, err
	}
	balance := decimal.Zero
	var seq int64
	if found {
		balance = last.BalanceAfter
		seq = last.Sequence
	}
	next := balance.Add(in.Delta)
	if next.IsNegative() && in.Delta.IsNegative() && !in.Override {
		return Movement{}, fmt.Errorf("%w: %s has %s, delta %s", ErrInsufficientStock, in.Scope, balance, in.Delta)
	}
	return tx.InsertMovement(ctx, Movement{
		Scope:        in.Scope,
		Type:         in.Type,
		Delta:        in.Delta,
		BalanceAfter: next,
		Sequence:     seq + 1,
		Reference:    in.Reference,
		Override:     in.Override,
		Note:         in.Note,
	})
}

// Record appends a movement under the scope lock.
func (s *Service) Record(ctx context.Context, in MovementInput) (Movement, error) {
	if err := in.Validate(); err != nil {
		return Movement{}, err
	}
	if in.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, in.IdempotencyKey, idempotencyModule); err != nil {
			return Movement{}, err
		}
	}
	var recorded Movement
	err := s.locked(ctx, []string{in.Scope.LockKey()}, func(ctx context.Context, tx TxRepository) error {
		m, err := RecordTx(ctx, tx, in)
		recorded = m
		return err
	})
	if err != nil {
		s.forget(ctx, in.IdempotencyKey)
		return Movement{}, err
	}
	s.logger.Info("stock movement recorded",
		slog.String("type", string(recorded.Type)),
		slog.String("scope", recorded.Scope.String()),
		slog.String("delta", recorded.Delta.String()),
		slog.String("balance_after", recorded.BalanceAfter.String()))
	s.recordAudit(ctx, in.ActorID, "stock.movement", recorded)
	return recorded, nil
}

// Adjust records a corrective ADJUSTMENT; override permits a negative result.
func (s *Service) Adjust(ctx context.Context, in MovementInput) (Movement, error) {
	in.Type = MovementAdjustment
	if in.Reference.Kind == "" {
		in.Reference.Kind = RefAdjustment
	}
	return s.Record(ctx, in)
}

// BalanceOf returns the current balance from the latest snapshot of every scope
// matching the filter. Nil batch or warehouse widens the sum across them.
func (s *Service) BalanceOf(ctx context.Context, productID int64, batchID, warehouseID *int64) (decimal.Decimal, error) {
	if productID <= 0 {
		return decimal.Zero, fmt.Errorf("%w: product id required", ErrInvalidScope)
	}
	latest, err := s.repo.LatestBalances(ctx, productID, batchID, warehouseID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, m := range latest {
		total = total.Add(m.BalanceAfter)
	}
	return total, nil
}

// Allocate previews a FEFO allocation against committed balances. Nothing is
// reserved; bill finalization repeats the allocation under the scope lock.
func (s *Service) Allocate(ctx context.Context, productID, warehouseID int64, qty decimal.Decimal, opts AllocateOptions) ([]Allocation, error) {
	var allocations []Allocation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		allocations, err = AllocateTx(ctx, tx, productID, warehouseID, qty, false, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return allocations, nil
}

func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EnsureBatchTx returns the batch identified by (product, number), creating it
// when missing. An existing batch must carry the same expiry.
func EnsureBatchTx(ctx context.Context, tx TxRepository, in BatchInput) (Batch, error) {
	number := strings.TrimSpace(in.Number)
	if in.ProductID <= 0 || number == "" {
		return Batch{}, fmt.Errorf("%w: product and batch number required", ErrInvalidBatch)
	}
	if err := ValidatePrices(in.MRP, in.PTR, in.PTS); err != nil {
		return Batch{}, err
	}
	expiry := dateOnly(in.Expiry)
	existing, err := tx.FindBatch(ctx, in.ProductID, number)
	switch {
	case err == nil:
		if !dateOnly(existing.Expiry).Equal(expiry) {
			return Batch{}, fmt.Errorf("%w: batch %s already exists with expiry %s", ErrInvalidBatch, number, existing.Expiry.Format("2006-01-02"))
		}
		return existing, nil
	case !errors.Is(err, ErrBatchNotFound):
		return Batch{}, err
	}
	return tx.InsertBatch(ctx, Batch{
		ProductID:   in.ProductID,
		Number:      number,
		Expiry:      expiry,
		MRP:         in.MRP,
		PTR:         in.PTR,
		PTS:         in.PTS,
		WarehouseID: in.WarehouseID,
	})
}

// ReceiveBatch creates (or reuses) a batch and books its quantity as a PURCHASE.
func (s *Service) ReceiveBatch(ctx context.Context, in BatchInput) (Batch, Movement, error) {
	if !in.Qty.IsPositive() {
		return Batch{}, Movement{}, fmt.Errorf("%w: receipt qty must be positive", ErrInvalidQuantity)
	}
	if in.WarehouseID <= 0 {
		return Batch{}, Movement{}, fmt.Errorf("%w: warehouse required", ErrInvalidScope)
	}
	if in.Reference.Kind == "" {
		in.Reference.Kind = RefReceipt
	}
	var batch Batch
	var movement Movement
	key := shared.StockScopeLockKey(in.ProductID, in.WarehouseID)
	err := s.locked(ctx, []string{key}, func(ctx context.Context, tx TxRepository) error {
		var err error
		batch, err = EnsureBatchTx(ctx, tx, in)
		if err != nil {
			return err
		}
		movement, err = RecordTx(ctx, tx, MovementInput{
			Scope:     Scope{ProductID: in.ProductID, BatchID: batch.ID, WarehouseID: in.WarehouseID},
			Type:      MovementPurchase,
			Delta:     in.Qty,
			Reference: in.Reference,
		})
		return err
	})
	if err != nil {
		return Batch{}, Movement{}, err
	}
	batch.Quantity = movement.BalanceAfter
	s.recordAudit(ctx, in.ActorID, "stock.receive", movement)
	return batch, movement, nil
}

// Transfer moves qty of one batch between warehouses as a TRANSFER_OUT and a
// TRANSFER_IN committed together.
func (s *Service) Transfer(ctx context.Context, in TransferInput) ([]Movement, error) {
	if !in.Qty.IsPositive() {
		return nil, fmt.Errorf("%w: transfer qty must be positive", ErrInvalidQuantity)
	}
	if in.FromWarehouseID == in.ToWarehouseID {
		return nil, fmt.Errorf("%w: source and destination warehouse are equal", ErrInvalidScope)
	}
	if in.Reference.Kind == "" {
		in.Reference.Kind = RefTransfer
	}
	src := Scope{ProductID: in.ProductID, BatchID: in.BatchID, WarehouseID: in.FromWarehouseID}
	dst := Scope{ProductID: in.ProductID, BatchID: in.BatchID, WarehouseID: in.ToWarehouseID}
	var movements []Movement
	err := s.locked(ctx, []string{src.LockKey(), dst.LockKey()}, func(ctx context.Context, tx TxRepository) error {
		out, err := RecordTx(ctx, tx, MovementInput{Scope: src, Type: MovementTransferOut, Delta: in.Qty.Neg(), Reference: in.Reference, Note: in.Note})
		if err != nil {
			return err
		}
		inbound, err := RecordTx(ctx, tx, MovementInput{Scope: dst, Type: MovementTransferIn, Delta: in.Qty, Reference: in.Reference, Note: in.Note})
		if err != nil {
			return err
		}
		movements = []Movement{out, inbound}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, m := range movements {
		s.recordAudit(ctx, in.ActorID, "stock.transfer", m)
	}
	return movements, nil
}

// Movements lists ledger entries for audit and stock cards.
func (s *Service) Movements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.ProductID <= 0 {
		return nil, fmt.Errorf("%w: product id required", ErrInvalidScope)
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 500
	}
	return s.repo.ListMovements(ctx, filter)
}

// Batches lists the batches of a product with their current quantity.
func (s *Service) Batches(ctx context.Context, productID int64) ([]Batch, error) {
	return s.repo.ListBatches(ctx, productID)
}

// GetBatch returns one batch with its current quantity.
func (s *Service) GetBatch(ctx context.Context, id int64) (Batch, error) {
	return s.repo.GetBatch(ctx, id)
}

// Replay recomputes a scope from its movements in sequence order and reports
// every disagreement with the stored snapshots.
func Replay(scope Scope, movements []Movement) Verification {
	v := Verification{Scope: scope, Entries: len(movements), Sum: decimal.Zero, Balance: decimal.Zero}
	running := decimal.Zero
	for i, m := range movements {
		if m.Sequence != int64(i+1) {
			v.Problems = append(v.Problems, fmt.Sprintf("entry %d: sequence %d, want %d", m.ID, m.Sequence, i+1))
		}
		running = running.Add(m.Delta)
		if !running.Equal(m.BalanceAfter) {
			v.Problems = append(v.Problems, fmt.Sprintf("entry %d: balance_after %s, replay %s", m.ID, m.BalanceAfter, running))
		}
		if running.IsNegative() && m.Delta.IsNegative() && !m.Override {
			v.Problems = append(v.Problems, fmt.Sprintf("entry %d: negative balance %s", m.ID, running))
		}
	}
	v.Sum = running
	if n := len(movements); n > 0 {
		v.Balance = movements[n-1].BalanceAfter
	}
	if !v.Sum.Equal(v.Balance) {
		v.Problems = append(v.Problems, fmt.Sprintf("sum %s differs from balance %s", v.Sum, v.Balance))
	}
	return v
}

// Verify replays one scope.
func (s *Service) Verify(ctx context.Context, scope Scope) (Verification, error) {
	movements, err := s.repo.ScopeMovements(ctx, scope)
	if err != nil {
		return Verification{}, err
	}
	return Replay(scope, movements), nil
}

// VerifyAll replays every scope that has movements.
func (s *Service) VerifyAll(ctx context.Context) ([]Verification, error) {
	scopes, err := s.repo.Scopes(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]Verification, 0, len(scopes))
	for _, scope := range scopes {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		v, err := s.Verify(ctx, scope)
		if err != nil {
			return results, err
		}
		if !v.OK() {
			s.logger.Warn("ledger scope failed verification",
				slog.String("scope", scope.String()),
				slog.Any("problems", v.Problems))
		}
		results = append(results, v)
	}
	return results, nil
}

func (s *Service) locked(ctx context.Context, keys []string, fn func(context.Context, TxRepository) error) error {
	release, err := s.locker.Lock(ctx, keys...)
	if err != nil {
		return err
	}
	defer release()
	return s.repo.WithTx(ctx, fn)
}

func (s *Service) forget(ctx context.Context, key string) {
	if key == "" || s.idem == nil {
		return
	}
	if err := s.idem.Delete(ctx, key); err != nil {
		s.logger.Warn("idempotency key cleanup failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, m Movement) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_movement",
		EntityID: strconv.FormatInt(m.ID, 10),
		Meta: map[string]any{
			"type":          m.Type,
			"product_id":    m.Scope.ProductID,
			"batch_id":      m.Scope.BatchID,
			"warehouse_id":  m.Scope.WarehouseID,
			"delta":         m.Delta.String(),
			"balance_after": m.BalanceAfter.String(),
			"reference":     m.Reference,
		},
		At: m.CreatedAt,
	})
	if err != nil {
		s.logger.Warn("audit stock movement", slog.Any("error", err))
	}
}
