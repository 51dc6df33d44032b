package inventory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/siddharthggs/mediggs-sub000/internal/platform/lock"
	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

type memoryAudit struct {
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newTestService(t *testing.T) (*Service, *MemoryRepository, *memoryAudit) {
	t.Helper()
	repo := NewMemoryRepository()
	audit := &memoryAudit{}
	svc := NewService(repo, lock.NewMemoryLocker(time.Second), audit, shared.NewMemoryIdempotencyStore(), nil)
	return svc, repo, audit
}

func receive(t *testing.T, svc *Service, productID, warehouseID int64, number, expiry, qty string) Batch {
	t.Helper()
	b, _, err := svc.ReceiveBatch(context.Background(), BatchInput{
		ProductID:   productID,
		Number:      number,
		Expiry:      day(expiry),
		MRP:         dec("120"),
		PTR:         dec("100"),
		PTS:         dec("90"),
		WarehouseID: warehouseID,
		Qty:         dec(qty),
	})
	require.NoError(t, err)
	return b
}

func requireBalance(t *testing.T, svc *Service, want string, productID int64, batchID, warehouseID *int64) {
	t.Helper()
	got, err := svc.BalanceOf(context.Background(), productID, batchID, warehouseID)
	require.NoError(t, err)
	require.Truef(t, dec(want).Equal(got), "balance: want %s, got %s", want, got)
}

func ptr(v int64) *int64 { return &v }

func TestRecordAppendsWithSnapshot(t *testing.T) {
	svc, _, audit := newTestService(t)
	ctx := context.Background()
	scope := Scope{ProductID: 1, WarehouseID: 1}

	first, err := svc.Record(ctx, MovementInput{Scope: scope, Type: MovementPurchase, Delta: dec("10")})
	require.NoError(t, err)
	second, err := svc.Record(ctx, MovementInput{Scope: scope, Type: MovementSale, Delta: dec("-4")})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, int64(2), second.Sequence)
	assert.True(t, dec("6").Equal(second.BalanceAfter))
	requireBalance(t, svc, "6", 1, ptr(0), ptr(1))
	assert.Len(t, audit.logs, 2)
}

func TestNegativeStockGuard(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	scope := Scope{ProductID: 1, WarehouseID: 1}

	_, err := svc.Record(ctx, MovementInput{Scope: scope, Type: MovementPurchase, Delta: dec("3")})
	require.NoError(t, err)

	_, err = svc.Record(ctx, MovementInput{Scope: scope, Type: MovementSale, Delta: dec("-5")})
	require.ErrorIs(t, err, ErrInsufficientStock)

	movements, err := repo.ScopeMovements(ctx, scope)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	requireBalance(t, svc, "3", 1, nil, nil)
}

func TestOverrideAdjustment(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	scope := Scope{ProductID: 1, WarehouseID: 1}

	_, err := svc.Record(ctx, MovementInput{Scope: scope, Type: MovementSale, Delta: dec("-1"), Override: true})
	require.ErrorIs(t, err, ErrOverrideNotAllowed)

	_, err = svc.Adjust(ctx, MovementInput{Scope: scope, Delta: dec("-2")})
	require.ErrorIs(t, err, ErrInsufficientStock)

	m, err := svc.Adjust(ctx, MovementInput{Scope: scope, Delta: dec("-2"), Override: true, Note: "physical count"})
	require.NoError(t, err)
	assert.Equal(t, MovementAdjustment, m.Type)
	assert.Equal(t, RefAdjustment, m.Reference.Kind)
	assert.True(t, dec("-2").Equal(m.BalanceAfter))

	// inbound movements are accepted even while the scope is still negative
	m, err = svc.Record(ctx, MovementInput{Scope: scope, Type: MovementPurchase, Delta: dec("1")})
	require.NoError(t, err)
	assert.True(t, dec("-1").Equal(m.BalanceAfter))

	v, err := svc.Verify(ctx, scope)
	require.NoError(t, err)
	assert.True(t, v.OK(), v.Problems)
}

func TestMovementSignRules(t *testing.T) {
	scope := Scope{ProductID: 1, WarehouseID: 1}
	cases := []struct {
		typ   MovementType
		delta string
		ok    bool
	}{
		{MovementPurchase, "1", true},
		{MovementPurchase, "-1", false},
		{MovementSale, "-1", true},
		{MovementSale, "1", false},
		{MovementCreditNote, "-1", false},
		{MovementTransferIn, "1", true},
		{MovementTransferOut, "2", false},
		{MovementReturn, "-1", true},
		{MovementReturn, "1", true},
		{MovementCancellation, "5", true},
		{MovementAdjustment, "0", false},
		{MovementType("GIFT"), "1", false},
	}
	for _, tc := range cases {
		err := MovementInput{Scope: scope, Type: tc.typ, Delta: dec(tc.delta)}.Validate()
		if tc.ok {
			assert.NoError(t, err, "%s %s", tc.typ, tc.delta)
		} else {
			assert.ErrorIs(t, err, shared.ErrValidation, "%s %s", tc.typ, tc.delta)
		}
	}
	assert.ErrorIs(t, MovementInput{Type: MovementPurchase, Delta: dec("1")}.Validate(), ErrInvalidScope)
}

func TestBalanceOfSumsScopes(t *testing.T) {
	svc, _, _ := newTestService(t)
	b1 := receive(t, svc, 7, 1, "B1", "2027-01-01", "5")
	receive(t, svc, 7, 2, "B1", "2027-01-01", "3")
	b2 := receive(t, svc, 7, 1, "B2", "2027-02-01", "10")

	requireBalance(t, svc, "18", 7, nil, nil)
	requireBalance(t, svc, "15", 7, nil, ptr(1))
	requireBalance(t, svc, "8", 7, ptr(b1.ID), nil)
	requireBalance(t, svc, "10", 7, ptr(b2.ID), ptr(1))
	requireBalance(t, svc, "0", 8, nil, nil)

	batch, err := svc.GetBatch(context.Background(), b1.ID)
	require.NoError(t, err)
	assert.True(t, dec("8").Equal(batch.Quantity))
}

func TestReceiveBatchValidatesPrices(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	base := BatchInput{ProductID: 1, Number: "X1", Expiry: day("2027-01-01"), MRP: dec("100"), PTR: dec("80"), PTS: dec("70"), WarehouseID: 1, Qty: dec("1")}

	bad := base
	bad.PTS = dec("85")
	_, _, err := svc.ReceiveBatch(ctx, bad)
	require.ErrorIs(t, err, ErrInvalidBatch)

	bad = base
	bad.PTR = dec("101")
	bad.PTS = dec("90")
	_, _, err = svc.ReceiveBatch(ctx, bad)
	require.ErrorIs(t, err, ErrInvalidBatch)

	first, _, err := svc.ReceiveBatch(ctx, base)
	require.NoError(t, err)
	again, m, err := svc.ReceiveBatch(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, dec("2").Equal(m.BalanceAfter))

	mismatch := base
	mismatch.Expiry = day("2028-01-01")
	_, _, err = svc.ReceiveBatch(ctx, mismatch)
	require.ErrorIs(t, err, ErrInvalidBatch)
}

func TestTransfer(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	b := receive(t, svc, 1, 1, "T1", "2027-01-01", "10")

	movements, err := svc.Transfer(ctx, TransferInput{ProductID: 1, BatchID: b.ID, FromWarehouseID: 1, ToWarehouseID: 2, Qty: dec("4")})
	require.NoError(t, err)
	require.Len(t, movements, 2)
	assert.Equal(t, MovementTransferOut, movements[0].Type)
	assert.Equal(t, MovementTransferIn, movements[1].Type)
	requireBalance(t, svc, "6", 1, ptr(b.ID), ptr(1))
	requireBalance(t, svc, "4", 1, ptr(b.ID), ptr(2))

	_, err = svc.Transfer(ctx, TransferInput{ProductID: 1, BatchID: b.ID, FromWarehouseID: 2, ToWarehouseID: 3, Qty: dec("5")})
	require.ErrorIs(t, err, ErrInsufficientStock)
	scopes, err := repo.Scopes(ctx)
	require.NoError(t, err)
	assert.Len(t, scopes, 2, "failed transfer must not open the destination scope")
}

func TestAllocatePreviewUsesLedgerBalances(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	late := receive(t, svc, 3, 1, "L", "2031-01-01", "10")
	early := receive(t, svc, 3, 1, "E", "2030-01-01", "5")

	got, err := svc.Allocate(ctx, 3, 1, dec("7"), AllocateOptions{})
	require.NoError(t, err)
	requireAllocations(t, []Allocation{{BatchID: early.ID, Qty: dec("5")}, {BatchID: late.ID, Qty: dec("2")}}, got)

	_, err = svc.Allocate(ctx, 3, 2, dec("1"), AllocateOptions{})
	require.ErrorIs(t, err, ErrNoAvailableBatches)
}

func TestIdempotentRecord(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	in := MovementInput{Scope: Scope{ProductID: 1, WarehouseID: 1}, Type: MovementPurchase, Delta: dec("1"), IdempotencyKey: "req-1"}

	_, err := svc.Record(ctx, in)
	require.NoError(t, err)
	_, err = svc.Record(ctx, in)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	requireBalance(t, svc, "1", 1, nil, nil)

	// a failed write releases its key
	out := MovementInput{Scope: in.Scope, Type: MovementSale, Delta: dec("-5"), IdempotencyKey: "req-2"}
	_, err = svc.Record(ctx, out)
	require.ErrorIs(t, err, ErrInsufficientStock)
	out.Delta = dec("-1")
	_, err = svc.Record(ctx, out)
	require.NoError(t, err)
}

func TestReplayDetectsTampering(t *testing.T) {
	scope := Scope{ProductID: 1, WarehouseID: 1}
	movements := []Movement{
		{ID: 1, Scope: scope, Sequence: 1, Delta: dec("5"), BalanceAfter: dec("5")},
		{ID: 2, Scope: scope, Sequence: 2, Delta: dec("-2"), BalanceAfter: dec("3")},
	}
	require.True(t, Replay(scope, movements).OK())

	movements[1].BalanceAfter = dec("4")
	v := Replay(scope, movements)
	require.False(t, v.OK())
	assert.Len(t, v.Problems, 2)

	movements[1] = Movement{ID: 2, Scope: scope, Sequence: 3, Delta: dec("-7"), BalanceAfter: dec("-2")}
	v = Replay(scope, movements)
	assert.Len(t, v.Problems, 2)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	b := receive(t, svc, 1, 1, "C1", "2030-01-01", "10")
	scope := Scope{ProductID: 1, BatchID: b.ID, WarehouseID: 1}

	var ok, rejected int32
	var g errgroup.Group
	for i := 0; i < 25; i++ {
		g.Go(func() error {
			_, err := svc.Record(ctx, MovementInput{Scope: scope, Type: MovementSale, Delta: decimal.NewFromInt(-1)})
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case assert.ErrorIs(t, err, ErrInsufficientStock):
				atomic.AddInt32(&rejected, 1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(10), ok)
	assert.Equal(t, int32(15), rejected)
	requireBalance(t, svc, "0", 1, nil, nil)

	results, err := svc.VerifyAll(ctx)
	require.NoError(t, err)
	for _, v := range results {
		assert.True(t, v.OK(), v.Problems)
	}
}

func TestMovementsFilter(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	receive(t, svc, 1, 1, "F1", "2030-01-01", "10")
	_, err := svc.Record(ctx, MovementInput{Scope: Scope{ProductID: 1, WarehouseID: 2}, Type: MovementPurchase, Delta: dec("1"), Reference: Reference{Kind: RefBill, ID: 5}})
	require.NoError(t, err)

	all, err := svc.Movements(ctx, MovementFilter{ProductID: 1})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byRef, err := svc.Movements(ctx, MovementFilter{ProductID: 1, Reference: &Reference{Kind: RefBill, ID: 5}})
	require.NoError(t, err)
	require.Len(t, byRef, 1)
	assert.Equal(t, int64(2), byRef[0].Scope.WarehouseID)

	_, err = svc.Movements(ctx, MovementFilter{})
	require.ErrorIs(t, err, ErrInvalidScope)
}
