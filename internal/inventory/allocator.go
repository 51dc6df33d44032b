package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

func expired(expiry, asOf time.Time) bool {
	return !expiry.IsZero() && expiry.Before(asOf)
}

// fefoLess orders by expiry ascending with undated batches last, then by the
// lowest batch id.
func fefoLess(a, b BatchStock) bool {
	switch {
	case a.Expiry.Equal(b.Expiry):
		return a.BatchID < b.BatchID
	case a.Expiry.IsZero():
		return false
	case b.Expiry.IsZero():
		return true
	}
	return a.Expiry.Before(b.Expiry)
}

// SelectFEFO allocates requested from candidates, earliest expiry first. The
// candidate order supplied by the caller is irrelevant. When eligible stock
// cannot cover the request nothing is allocated and ErrNoAvailableBatches is
// returned. A pinned batch bypasses FEFO but must hold the full quantity.
func SelectFEFO(candidates []BatchStock, requested decimal.Decimal, opts AllocateOptions) ([]Allocation, error) {
	if !requested.IsPositive() {
		return nil, fmt.Errorf("%w: requested %s", ErrInvalidQuantity, requested)
	}
	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}

	if opts.PinnedBatchID != 0 {
		for _, c := range candidates {
			if c.BatchID != opts.PinnedBatchID {
				continue
			}
			if expired(c.Expiry, asOf) && !opts.IncludeExpired {
				return nil, fmt.Errorf("%w: batch %s expired %s", ErrBatchExpired, c.Number, c.Expiry.Format("2006-01-02"))
			}
			if c.Qty.LessThan(requested) {
				return nil, fmt.Errorf("%w: batch %s has %s, requested %s", ErrInsufficientStock, c.Number, c.Qty, requested)
			}
			return []Allocation{{BatchID: c.BatchID, Qty: requested}}, nil
		}
		return nil, fmt.Errorf("%w: pinned batch %d", ErrBatchNotFound, opts.PinnedBatchID)
	}

	eligible := make([]BatchStock, 0, len(candidates))
	for _, c := range candidates {
		if !c.Qty.IsPositive() {
			continue
		}
		if expired(c.Expiry, asOf) && !opts.IncludeExpired {
			continue
		}
		eligible = append(eligible, c)
	}
	sort.SliceStable(eligible, func(i, j int) bool { return fefoLess(eligible[i], eligible[j]) })

	remaining := requested
	allocations := make([]Allocation, 0, len(eligible))
	for _, c := range eligible {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(c.Qty, remaining)
		allocations = append(allocations, Allocation{BatchID: c.BatchID, Qty: take})
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		return nil, fmt.Errorf("%w: requested %s, available %s", ErrNoAvailableBatches, requested, requested.Sub(remaining))
	}
	return allocations, nil
}

// AllocateTx runs SelectFEFO against balances read inside tx. Callers that go on
// to record the allocations must already hold the scope lock of
// (productID, warehouseID). Products that are not batch managed (unbatched)
// allocate from the batch-less scope.
func AllocateTx(ctx context.Context, tx TxRepository, productID, warehouseID int64, qty decimal.Decimal, unbatched bool, opts AllocateOptions) ([]Allocation, error) {
	if unbatched {
		if !qty.IsPositive() {
			return nil, fmt.Errorf("%w: requested %s", ErrInvalidQuantity, qty)
		}
		scope := Scope{ProductID: productID, WarehouseID: warehouseID}
		last, found, err := tx.LatestMovement(ctx, scope, false)
		if err != nil {
			return nil, err
		}
		available := decimal.Zero
		if found {
			available = last.BalanceAfter
		}
		if available.LessThan(qty) {
			return nil, fmt.Errorf("%w: %s has %s, requested %s", ErrInsufficientStock, scope, available, qty)
		}
		return []Allocation{{BatchID: 0, Qty: qty}}, nil
	}
	candidates, err := tx.BatchStocks(ctx, productID, warehouseID)
	if err != nil {
		return nil, err
	}
	return SelectFEFO(candidates, qty, opts)
}
