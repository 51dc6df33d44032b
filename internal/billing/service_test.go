package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/siddharthggs/mediggs-sub000/internal/einvoice"
	"github.com/siddharthggs/mediggs-sub000/internal/inventory"
	"github.com/siddharthggs/mediggs-sub000/internal/masterdata"
	"github.com/siddharthggs/mediggs-sub000/internal/platform/lock"
	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

const warehouse int64 = 1

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSubmitter) Submit(_ context.Context, p einvoice.Payload) (einvoice.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return einvoice.Result{}, f.err
	}
	return einvoice.Result{IRN: fmt.Sprintf("IRN-%d", p.Document.BillID), AckNo: "ACK"}, nil
}

func (f *fakeSubmitter) set(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	svc       *Service
	stock     *inventory.Service
	queue     *einvoice.Queue
	submitter *fakeSubmitter
	md        *masterdata.Service

	company, customer, outOfState, supplier int64
	// tablet is batch managed at 12% GST; syrup is not batch managed.
	tablet, syrup int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithLocker(t, lock.NewMemoryLocker(5*time.Second))
}

func newFixtureWithLocker(t *testing.T, locker lock.Locker) *fixture {
	t.Helper()
	ctx := context.Background()
	ledger := inventory.NewMemoryRepository()
	queueRepo := einvoice.NewMemoryRepository()
	stock := inventory.NewService(ledger, locker, nil, nil, nil)
	md := masterdata.NewService(masterdata.NewMemoryRepository(), nil, nil)

	svc := NewService(NewMemoryStore(ledger, queueRepo), locker, md, nil, nil, Options{}).WithBatches(stock)
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC) }
	sub := &fakeSubmitter{}
	f := &fixture{
		svc:       svc,
		stock:     stock,
		queue:     einvoice.NewQueue(queueRepo, sub, svc, einvoice.Config{}, nil),
		submitter: sub,
		md:        md,
	}

	company, err := md.SaveCompany(ctx, masterdata.Company{Name: "Mediggs Pharma", GSTIN: "27AAPFU0939F1ZV"})
	require.NoError(t, err)
	customer, err := md.SaveParty(ctx, masterdata.Party{Kind: masterdata.PartyCustomer, Name: "City Chemist", GSTIN: "27AABCU9603R1ZM"})
	require.NoError(t, err)
	outOfState, err := md.SaveParty(ctx, masterdata.Party{Kind: masterdata.PartyCustomer, Name: "Border Medicals", GSTIN: "29AABCU9603R1ZM"})
	require.NoError(t, err)
	supplier, err := md.SaveParty(ctx, masterdata.Party{Kind: masterdata.PartySupplier, Name: "Cipla Distributor", StateCode: "27"})
	require.NoError(t, err)
	tablet, err := md.SaveProduct(ctx, masterdata.Product{Name: "Paracetamol 500", HSN: "3004", GSTRate: dec("12"), StripQty: 10, IsBatchManaged: true})
	require.NoError(t, err)
	syrup, err := md.SaveProduct(ctx, masterdata.Product{Name: "Cough Syrup", HSN: "3004", GSTRate: dec("12")})
	require.NoError(t, err)

	f.company, f.customer, f.outOfState, f.supplier = company.ID, customer.ID, outOfState.ID, supplier.ID
	f.tablet, f.syrup = tablet.ID, syrup.ID
	return f
}

func (f *fixture) receive(t *testing.T, productID int64, number, expiry, qty string) inventory.Batch {
	t.Helper()
	b, _, err := f.stock.ReceiveBatch(context.Background(), inventory.BatchInput{
		ProductID:   productID,
		Number:      number,
		Expiry:      day(expiry),
		MRP:         dec("50"),
		PTR:         dec("40"),
		PTS:         dec("36"),
		WarehouseID: warehouse,
		Qty:         dec(qty),
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) balance(t *testing.T, productID int64) decimal.Decimal {
	t.Helper()
	w := warehouse
	got, err := f.stock.BalanceOf(context.Background(), productID, nil, &w)
	require.NoError(t, err)
	return got
}

func (f *fixture) movements(t *testing.T, b *Bill) []inventory.Movement {
	t.Helper()
	ref := b.Reference()
	var out []inventory.Movement
	for _, id := range []int64{f.tablet, f.syrup} {
		ms, err := f.stock.Movements(context.Background(), inventory.MovementFilter{ProductID: id, Reference: &ref})
		require.NoError(t, err)
		out = append(out, ms...)
	}
	return out
}

func sale(productID int64, qty, rate string) SalesLine {
	return SalesLine{LineCore: LineCore{ProductID: productID, Qty: dec(qty), Rate: dec(rate), TaxPercent: dec("12")}}
}

func (f *fixture) salesDraft(t *testing.T, lines ...SalesLine) *Bill {
	t.Helper()
	b, err := f.svc.CreateDraft(context.Background(), DraftInput{
		Type:        TypeSales,
		PartyID:     f.customer,
		CompanyID:   f.company,
		WarehouseID: warehouse,
		SalesLines:  lines,
	})
	require.NoError(t, err)
	return b
}

func TestFinalizeSalesBillPricesAllocatesAndQueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b1 := f.receive(t, f.tablet, "B1", "2025-01-31", "5")
	b2 := f.receive(t, f.tablet, "B2", "2026-01-31", "10")

	line := sale(f.tablet, "5", "40")
	line.FreeQty = dec("2")
	line.DiscountPercent = dec("10")
	draft := f.salesDraft(t, line)
	assert.Equal(t, StatusDraft, draft.Status)
	assert.Equal(t, "INV-000001", draft.Number)
	assert.False(t, draft.InterState)
	assert.True(t, dec("15").Equal(f.balance(t, f.tablet)), "draft must not move stock")

	bill, err := f.svc.Finalize(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, bill.Status)
	require.NotNil(t, bill.FinalizedAt)

	totals := bill.Totals
	require.NotNil(t, totals)
	assert.True(t, dec("200").Equal(totals.GrossAmount))
	assert.True(t, dec("20").Equal(totals.TotalDiscount))
	assert.True(t, dec("180").Equal(totals.TaxableAmount))
	assert.True(t, dec("21.6").Equal(totals.TotalTax))
	assert.True(t, dec("10.8").Equal(totals.SGST))
	assert.True(t, dec("10.8").Equal(totals.CGST))
	assert.True(t, totals.IGST.IsZero())
	assert.True(t, dec("201.6").Equal(totals.GrandTotal))

	allocations := bill.SalesLines[0].Allocations
	require.Len(t, allocations, 2)
	assert.Equal(t, b1.ID, allocations[0].BatchID)
	assert.True(t, dec("5").Equal(allocations[0].Qty))
	assert.Equal(t, b2.ID, allocations[1].BatchID)
	assert.True(t, dec("2").Equal(allocations[1].Qty))
	assert.True(t, dec("8").Equal(f.balance(t, f.tablet)))

	moves := f.movements(t, bill)
	require.Len(t, moves, 2)
	for _, m := range moves {
		assert.Equal(t, inventory.MovementSale, m.Type)
		assert.True(t, m.Delta.IsNegative())
	}

	entry, err := f.queue.Get(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, einvoice.StatusPending, entry.Status)

	stored, err := f.svc.Get(ctx, bill.ID)
	require.NoError(t, err)
	assert.Len(t, stored.SalesLines[0].Allocations, 2)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, f.tablet, "B1", "2025-01-31", "10")
	draft := f.salesDraft(t, sale(f.tablet, "3", "10"))

	_, err := f.svc.Finalize(ctx, draft.ID)
	require.NoError(t, err)
	_, err = f.svc.Finalize(ctx, draft.ID)
	require.ErrorIs(t, err, shared.ErrInvalidBillState)
	require.ErrorIs(t, err, ErrAlreadyFinalized)

	assert.Len(t, f.movements(t, draft), 1)
	assert.True(t, dec("7").Equal(f.balance(t, f.tablet)))
}

func TestFinalizeIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, f.tablet, "B1", "2025-01-31", "10")
	_, err := f.stock.Record(ctx, inventory.MovementInput{
		Scope: inventory.Scope{ProductID: f.syrup, WarehouseID: warehouse},
		Type:  inventory.MovementPurchase,
		Delta: dec("4"),
	})
	require.NoError(t, err)

	draft := f.salesDraft(t,
		sale(f.tablet, "1", "10"),
		sale(f.syrup, "1", "10"),
		sale(f.syrup, "9", "10"),
		sale(f.tablet, "1", "10"),
		sale(f.tablet, "1", "10"),
	)
	_, err = f.svc.Finalize(ctx, draft.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "line 3")

	assert.Empty(t, f.movements(t, draft))
	assert.True(t, dec("10").Equal(f.balance(t, f.tablet)))
	assert.True(t, dec("4").Equal(f.balance(t, f.syrup)))

	stored, err := f.svc.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, stored.Status)
	assert.Nil(t, stored.Totals)
	assert.Empty(t, stored.SalesLines[0].Allocations)

	_, err = f.queue.Get(ctx, draft.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCancelReversesMovements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, f.tablet, "B1", "2025-01-31", "10")
	draft := f.salesDraft(t, sale(f.tablet, "5", "10"))
	_, err := f.svc.Finalize(ctx, draft.ID)
	require.NoError(t, err)
	require.True(t, dec("5").Equal(f.balance(t, f.tablet)))

	cancelled, err := f.svc.Delete(ctx, draft.ID)
	require.NoError(t, err)
	require.NotNil(t, cancelled)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.True(t, dec("10").Equal(f.balance(t, f.tablet)))

	moves := f.movements(t, draft)
	require.Len(t, moves, 2)
	assert.Equal(t, inventory.MovementCancellation, moves[1].Type)
	assert.True(t, dec("5").Equal(moves[1].Delta))

	entry, err := f.queue.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, einvoice.StatusFailed, entry.Status)
	assert.True(t, entry.Terminal())

	_, err = f.svc.Delete(ctx, draft.ID)
	require.ErrorIs(t, err, shared.ErrInvalidBillState)
	_, err = f.svc.Finalize(ctx, draft.ID)
	require.ErrorIs(t, err, ErrAlreadyCancelled)

	v, err := f.stock.VerifyAll(ctx)
	require.NoError(t, err)
	for _, r := range v {
		assert.True(t, r.OK(), r.Problems)
	}
}

func TestDeleteDraftRemovesIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := f.salesDraft(t, sale(f.tablet, "1", "10"))

	out, err := f.svc.Delete(ctx, draft.ID)
	require.NoError(t, err)
	assert.Nil(t, out)
	_, err = f.svc.Get(ctx, draft.ID)
	require.ErrorIs(t, err, ErrBillNotFound)
	_, err = f.svc.Delete(ctx, draft.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPurchaseFinalizeAndCancelAfterSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	purchase, err := f.svc.CreateDraft(ctx, DraftInput{
		Type:        TypePurchase,
		PartyID:     f.supplier,
		WarehouseID: warehouse,
		Mode:        ModeCredit,
		PurchaseLines: []PurchaseLine{{
			LineCore:    LineCore{ProductID: f.tablet, Qty: dec("10"), Rate: dec("36"), TaxPercent: dec("12")},
			BatchNumber: "P1",
			Expiry:      day("2026-03-31"),
			MRP:         dec("50"),
			PTR:         dec("40"),
			PTS:         dec("36"),
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "PUR-000001", purchase.Number)

	posted, err := f.svc.Finalize(ctx, purchase.ID)
	require.NoError(t, err)
	require.NotZero(t, posted.PurchaseLines[0].BatchID)
	assert.True(t, dec("10").Equal(f.balance(t, f.tablet)))
	_, err = f.queue.Get(ctx, purchase.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound, "purchase bills are not e-invoiced")

	draft := f.salesDraft(t, sale(f.tablet, "8", "45"))
	_, err = f.svc.Finalize(ctx, draft.ID)
	require.NoError(t, err)

	_, err = f.svc.Delete(ctx, purchase.ID)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	stored, err := f.svc.Get(ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, stored.Status)
	assert.True(t, dec("2").Equal(f.balance(t, f.tablet)))
}

func TestUnbatchedProductUsesBatchlessScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	purchase, err := f.svc.CreateDraft(ctx, DraftInput{
		Type:        TypePurchase,
		PartyID:     f.supplier,
		WarehouseID: warehouse,
		PurchaseLines: []PurchaseLine{{
			LineCore: LineCore{ProductID: f.syrup, Qty: dec("6"), Rate: dec("20")},
		}},
	})
	require.NoError(t, err)
	_, err = f.svc.Finalize(ctx, purchase.ID)
	require.NoError(t, err)

	bill, err := f.svc.Finalize(ctx, f.salesDraft(t, sale(f.syrup, "4", "30")).ID)
	require.NoError(t, err)
	require.Len(t, bill.SalesLines[0].Allocations, 1)
	assert.Zero(t, bill.SalesLines[0].Allocations[0].BatchID)
	assert.True(t, dec("2").Equal(f.balance(t, f.syrup)))
}

func TestConcurrentFinalizeNeverOversells(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, f.tablet, "B1", "2025-01-31", "10")

	const bills = 8
	ids := make([]int64, bills)
	for i := range ids {
		ids[i] = f.salesDraft(t, sale(f.tablet, "2", "10")).ID
	}

	var ok, short atomic.Int32
	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			_, err := f.svc.Finalize(ctx, id)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, shared.ErrInsufficientStock):
				short.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(5), ok.Load())
	assert.Equal(t, int32(3), short.Load())
	assert.True(t, f.balance(t, f.tablet).IsZero())
}

func TestFinalizeHonorsPinnedBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b1 := f.receive(t, f.tablet, "B1", "2025-01-31", "10")
	b2 := f.receive(t, f.tablet, "B2", "2025-06-30", "5")

	line := sale(f.tablet, "4", "10")
	line.BatchID = b2.ID
	bill, err := f.svc.Finalize(ctx, f.salesDraft(t, line).ID)
	require.NoError(t, err)
	require.Len(t, bill.SalesLines[0].Allocations, 1)
	assert.Equal(t, b2.ID, bill.SalesLines[0].Allocations[0].BatchID)
	assert.True(t, dec("4").Equal(bill.SalesLines[0].Allocations[0].Qty))
	ms := f.movements(t, bill)
	require.Len(t, ms, 1)
	assert.Equal(t, b2.ID, ms[0].Scope.BatchID)

	over := sale(f.tablet, "2", "10")
	over.BatchID = b2.ID
	draft := f.salesDraft(t, over)
	_, err = f.svc.Finalize(ctx, draft.ID)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	assert.Empty(t, f.movements(t, draft))

	w := warehouse
	left, err := f.stock.BalanceOf(ctx, f.tablet, &b1.ID, &w)
	require.NoError(t, err)
	assert.True(t, dec("10").Equal(left))
	left, err = f.stock.BalanceOf(ctx, f.tablet, &b2.ID, &w)
	require.NoError(t, err)
	assert.True(t, dec("1").Equal(left))
}

func TestFinalizeWaitsForScopeLock(t *testing.T) {
	locker := lock.NewMemoryLocker(50 * time.Millisecond)
	f := newFixtureWithLocker(t, locker)
	ctx := context.Background()
	f.receive(t, f.tablet, "B1", "2025-01-31", "10")
	draft := f.salesDraft(t, sale(f.tablet, "2", "10"))

	release, err := locker.Lock(ctx, shared.StockScopeLockKey(f.tablet, warehouse))
	require.NoError(t, err)
	_, err = f.svc.Finalize(ctx, draft.ID)
	require.ErrorIs(t, err, shared.ErrAllocationConflict)
	assert.Empty(t, f.movements(t, draft))
	assert.True(t, dec("10").Equal(f.balance(t, f.tablet)))

	release()
	bill, err := f.svc.Finalize(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, bill.Status)
	assert.True(t, dec("8").Equal(f.balance(t, f.tablet)))
}

func TestRecomputeMatchesSnapshotAndRounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, f.tablet, "B1", "2025-01-31", "10")
	line := sale(f.tablet, "1", "201.63")
	line.TaxPercent = decimal.Zero
	bill, err := f.svc.Finalize(ctx, f.salesDraft(t, line).ID)
	require.NoError(t, err)

	assert.True(t, dec("-0.03").Equal(bill.Totals.RoundOff))
	assert.True(t, dec("201.6").Equal(bill.Totals.GrandTotal))

	res, err := f.svc.Recompute(ctx, bill.ID)
	require.NoError(t, err)
	assert.True(t, res.Matches)
	assert.Empty(t, res.Differences)
	assert.True(t, res.Computed.Equal(*res.Snapshot))
}

func TestInterStateFromMasterData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, f.tablet, "B1", "2025-01-31", "10")

	draft, err := f.svc.CreateDraft(ctx, DraftInput{
		Type:        TypeSales,
		PartyID:     f.outOfState,
		CompanyID:   f.company,
		WarehouseID: warehouse,
		SalesLines:  []SalesLine{sale(f.tablet, "2", "100")},
	})
	require.NoError(t, err)
	assert.True(t, draft.InterState)

	bill, err := f.svc.Finalize(ctx, draft.ID)
	require.NoError(t, err)
	assert.True(t, dec("24").Equal(bill.Totals.IGST))
	assert.True(t, bill.Totals.SGST.IsZero())
}

func TestDraftValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]DraftInput{
		"supplier on sales bill": {Type: TypeSales, PartyID: f.supplier, WarehouseID: warehouse,
			SalesLines: []SalesLine{sale(f.tablet, "1", "10")}},
		"zero qty": {Type: TypeSales, PartyID: f.customer, WarehouseID: warehouse,
			SalesLines: []SalesLine{sale(f.tablet, "0", "10")}},
		"purchase lines on sales bill": {Type: TypeSales, PartyID: f.customer, WarehouseID: warehouse,
			PurchaseLines: []PurchaseLine{{LineCore: LineCore{ProductID: f.tablet, Qty: dec("1")}}}},
		"batch managed purchase without batch": {Type: TypePurchase, PartyID: f.supplier, WarehouseID: warehouse,
			PurchaseLines: []PurchaseLine{{LineCore: LineCore{ProductID: f.tablet, Qty: dec("1"), Rate: dec("1")}}}},
		"unknown mode": {Type: TypeSales, Mode: "BARTER", PartyID: f.customer, WarehouseID: warehouse},
		"pinned batch on unbatched product": {Type: TypeSales, PartyID: f.customer, WarehouseID: warehouse,
			SalesLines: []SalesLine{{LineCore: LineCore{ProductID: f.syrup, Qty: dec("1"), Rate: dec("10")}, BatchID: 7}}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CreateDraft(ctx, in)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}

	_, err := f.svc.CreateDraft(ctx, DraftInput{Type: TypeSales, PartyID: f.customer, WarehouseID: warehouse,
		SalesLines: []SalesLine{sale(999, "1", "10")}})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateDraftOnlyWhileDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, f.tablet, "B1", "2025-01-31", "10")
	draft := f.salesDraft(t, sale(f.tablet, "1", "10"))

	in := DraftInput{Type: TypeSales, PartyID: f.customer, WarehouseID: warehouse, Note: "revised",
		SalesLines: []SalesLine{sale(f.tablet, "3", "10"), sale(f.tablet, "1", "12")}}
	updated, err := f.svc.UpdateDraft(ctx, draft.ID, in)
	require.NoError(t, err)
	assert.Equal(t, draft.Number, updated.Number)
	assert.Len(t, updated.SalesLines, 2)
	assert.Equal(t, "revised", updated.Note)

	in.Type = TypePurchase
	in.SalesLines = nil
	in.PartyID = f.supplier
	in.PurchaseLines = []PurchaseLine{{LineCore: LineCore{ProductID: f.syrup, Qty: dec("1"), Rate: dec("1")}}}
	_, err = f.svc.UpdateDraft(ctx, draft.ID, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Finalize(ctx, draft.ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateDraft(ctx, draft.ID, DraftInput{Type: TypeSales, PartyID: f.customer, WarehouseID: warehouse,
		SalesLines: []SalesLine{sale(f.tablet, "1", "10")}})
	require.ErrorIs(t, err, shared.ErrInvalidBillState)
}

func TestSubmissionFailureLeavesBillFinalized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, f.tablet, "B1", "2025-01-31", "10")
	bill, err := f.svc.Finalize(ctx, f.salesDraft(t, sale(f.tablet, "1", "10")).ID)
	require.NoError(t, err)

	f.submitter.set(errors.New("gateway down"))
	report, err := f.queue.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	entry, err := f.queue.Get(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, einvoice.StatusFailed, entry.Status)
	assert.Contains(t, entry.LastError, "gateway down")
	stored, err := f.svc.Get(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, stored.Status)
	assert.True(t, dec("9").Equal(f.balance(t, f.tablet)))

	f.submitter.set(nil)
	entry, err = f.queue.SyncBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, einvoice.StatusSynced, entry.Status)
	assert.Equal(t, fmt.Sprintf("IRN-%d", bill.ID), entry.IRN)

	calls := f.submitter.count()
	entry, err = f.queue.SyncBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, einvoice.StatusSynced, entry.Status)
	assert.Equal(t, calls, f.submitter.count())
}

func TestDocumentForEInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, f.tablet, "B1", "2025-01-31", "10")
	draft := f.salesDraft(t, sale(f.tablet, "2", "100"))

	doc, err := f.svc.Document(ctx, draft.ID)
	require.NoError(t, err)
	assert.False(t, doc.Eligible())

	_, err = f.svc.Finalize(ctx, draft.ID)
	require.NoError(t, err)
	doc, err = f.svc.Document(ctx, draft.ID)
	require.NoError(t, err)
	assert.True(t, doc.Eligible())
	assert.Equal(t, "27AAPFU0939F1ZV", doc.SellerGSTIN)
	assert.Equal(t, "City Chemist", doc.BuyerName)
	assert.Equal(t, "27", doc.PlaceOfSupply)
	require.Len(t, doc.Items, 1)
	assert.Equal(t, "Paracetamol 500", doc.Items[0].Name)
	assert.True(t, dec("224").Equal(doc.GrandTotal))
}
