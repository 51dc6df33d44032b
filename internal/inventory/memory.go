package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

type batchKey struct {
	productID int64
	number    string
}

type memoryState struct {
	movements   []Movement
	latest      map[Scope]int
	batches     map[int64]Batch
	byNumber    map[batchKey]int64
	nextBatchID int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		latest:   make(map[Scope]int),
		batches:  make(map[int64]Batch),
		byNumber: make(map[batchKey]int64),
	}
}

// clone shares the immutable movement values; the capped slice forces appends on
// the copy to reallocate.
func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		movements:   s.movements[:len(s.movements):len(s.movements)],
		latest:      make(map[Scope]int, len(s.latest)),
		batches:     make(map[int64]Batch, len(s.batches)),
		byNumber:    make(map[batchKey]int64, len(s.byNumber)),
		nextBatchID: s.nextBatchID,
	}
	for k, v := range s.latest {
		c.latest[k] = v
	}
	for k, v := range s.batches {
		c.batches[k] = v
	}
	for k, v := range s.byNumber {
		c.byNumber[k] = v
	}
	return c
}

func (s *memoryState) latestOf(scope Scope) (Movement, bool) {
	idx, ok := s.latest[scope]
	if !ok {
		return Movement{}, false
	}
	return s.movements[idx], true
}

func (s *memoryState) batchQty(batchID int64) decimal.Decimal {
	total := decimal.Zero
	for scope, idx := range s.latest {
		if scope.BatchID == batchID {
			total = total.Add(s.movements[idx].BalanceAfter)
		}
	}
	return total
}

func (s *memoryState) batch(id int64) (Batch, error) {
	b, ok := s.batches[id]
	if !ok {
		return Batch{}, fmt.Errorf("%w: id %d", ErrBatchNotFound, id)
	}
	b.Quantity = s.batchQty(id)
	return b, nil
}

// MemoryRepository keeps the ledger in process. A transaction works on a copy of
// the state which replaces the original on commit, so a failed callback leaves
// no trace. Transactions are serialized.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memoryState
	now   func() time.Time
}

// NewMemoryRepository returns an empty ledger.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: newMemoryState(), now: time.Now}
}

// MemoryTx is an open transaction against a MemoryRepository.
type MemoryTx struct {
	repo  *MemoryRepository
	state *memoryState
	done  bool
}

// Begin opens a transaction. It blocks while another one is open.
func (r *MemoryRepository) Begin() *MemoryTx {
	r.mu.Lock()
	return &MemoryTx{repo: r, state: r.state.clone()}
}

// Commit publishes the transaction state.
func (t *MemoryTx) Commit() {
	if t.done {
		return
	}
	t.done = true
	t.repo.state = t.state
	t.repo.mu.Unlock()
}

// Rollback discards the transaction state. It is a no-op after Commit.
func (t *MemoryTx) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.repo.mu.Unlock()
}

// WithTx runs fn in a transaction.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := r.Begin()
	defer tx.Rollback()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.Commit()
	return nil
}

// LatestMovement implements TxRepository.
func (t *MemoryTx) LatestMovement(_ context.Context, scope Scope, _ bool) (Movement, bool, error) {
	m, ok := t.state.latestOf(scope)
	return m, ok, nil
}

// InsertMovement implements TxRepository.
func (t *MemoryTx) InsertMovement(_ context.Context, m Movement) (Movement, error) {
	var lastSeq int64
	if last, ok := t.state.latestOf(m.Scope); ok {
		lastSeq = last.Sequence
	}
	if m.Sequence != lastSeq+1 {
		return Movement{}, fmt.Errorf("%w: %s sequence %d after %d", shared.ErrAllocationConflict, m.Scope, m.Sequence, lastSeq)
	}
	m.ID = int64(len(t.state.movements) + 1)
	m.CreatedAt = t.repo.now().UTC()
	t.state.movements = append(t.state.movements, m)
	t.state.latest[m.Scope] = len(t.state.movements) - 1
	return m, nil
}

// BatchStocks implements TxRepository.
func (t *MemoryTx) BatchStocks(_ context.Context, productID, warehouseID int64) ([]BatchStock, error) {
	var out []BatchStock
	for _, b := range t.state.batches {
		if b.ProductID != productID {
			continue
		}
		qty := decimal.Zero
		if m, ok := t.state.latestOf(Scope{ProductID: productID, BatchID: b.ID, WarehouseID: warehouseID}); ok {
			qty = m.BalanceAfter
		}
		out = append(out, BatchStock{BatchID: b.ID, Number: b.Number, Expiry: b.Expiry, Qty: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchID < out[j].BatchID })
	return out, nil
}

// GetBatch implements TxRepository.
func (t *MemoryTx) GetBatch(_ context.Context, id int64) (Batch, error) {
	return t.state.batch(id)
}

// FindBatch implements TxRepository.
func (t *MemoryTx) FindBatch(_ context.Context, productID int64, number string) (Batch, error) {
	id, ok := t.state.byNumber[batchKey{productID: productID, number: number}]
	if !ok {
		return Batch{}, fmt.Errorf("%w: product %d number %s", ErrBatchNotFound, productID, number)
	}
	return t.state.batch(id)
}

// InsertBatch implements TxRepository.
func (t *MemoryTx) InsertBatch(_ context.Context, b Batch) (Batch, error) {
	key := batchKey{productID: b.ProductID, number: b.Number}
	if _, exists := t.state.byNumber[key]; exists {
		return Batch{}, fmt.Errorf("%w: batch %s for product %d", shared.ErrDuplicate, b.Number, b.ProductID)
	}
	t.state.nextBatchID++
	b.ID = t.state.nextBatchID
	b.CreatedAt = t.repo.now().UTC()
	b.Quantity = decimal.Zero
	t.state.batches[b.ID] = b
	t.state.byNumber[key] = b.ID
	return b, nil
}

// MovementsByReference implements TxRepository.
func (t *MemoryTx) MovementsByReference(_ context.Context, ref Reference) ([]Movement, error) {
	var out []Movement
	for _, m := range t.state.movements {
		if m.Reference.Kind == ref.Kind && m.Reference.ID == ref.ID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *MemoryRepository) read() *memoryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LatestBalances implements RepositoryPort.
func (r *MemoryRepository) LatestBalances(_ context.Context, productID int64, batchID, warehouseID *int64) ([]Movement, error) {
	state := r.read()
	var out []Movement
	for scope, idx := range state.latest {
		if scope.ProductID != productID {
			continue
		}
		if batchID != nil && scope.BatchID != *batchID {
			continue
		}
		if warehouseID != nil && scope.WarehouseID != *warehouseID {
			continue
		}
		out = append(out, state.movements[idx])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListMovements implements RepositoryPort.
func (r *MemoryRepository) ListMovements(_ context.Context, filter MovementFilter) ([]Movement, error) {
	state := r.read()
	var out []Movement
	for _, m := range state.movements {
		if !matches(m, filter) {
			continue
		}
		out = append(out, m)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func matches(m Movement, f MovementFilter) bool {
	switch {
	case f.ProductID != 0 && m.Scope.ProductID != f.ProductID:
		return false
	case f.BatchID != nil && m.Scope.BatchID != *f.BatchID:
		return false
	case f.WarehouseID != nil && m.Scope.WarehouseID != *f.WarehouseID:
		return false
	case f.Reference != nil && (m.Reference.Kind != f.Reference.Kind || m.Reference.ID != f.Reference.ID):
		return false
	case !f.From.IsZero() && m.CreatedAt.Before(f.From):
		return false
	case !f.To.IsZero() && m.CreatedAt.After(f.To):
		return false
	}
	return true
}

// ScopeMovements implements RepositoryPort.
func (r *MemoryRepository) ScopeMovements(_ context.Context, scope Scope) ([]Movement, error) {
	state := r.read()
	var out []Movement
	for _, m := range state.movements {
		if m.Scope == scope {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// Scopes implements RepositoryPort.
func (r *MemoryRepository) Scopes(_ context.Context) ([]Scope, error) {
	state := r.read()
	out := make([]Scope, 0, len(state.latest))
	for scope := range state.latest {
		out = append(out, scope)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		if a.BatchID != b.BatchID {
			return a.BatchID < b.BatchID
		}
		return a.WarehouseID < b.WarehouseID
	})
	return out, nil
}

// GetBatch implements RepositoryPort.
func (r *MemoryRepository) GetBatch(_ context.Context, id int64) (Batch, error) {
	return r.read().batch(id)
}

// ListBatches implements RepositoryPort.
func (r *MemoryRepository) ListBatches(_ context.Context, productID int64) ([]Batch, error) {
	state := r.read()
	var out []Batch
	for id, b := range state.batches {
		if b.ProductID != productID {
			continue
		}
		b.Quantity = state.batchQty(id)
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
