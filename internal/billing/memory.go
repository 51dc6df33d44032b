package billing

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/siddharthggs/mediggs-sub000/internal/einvoice"
	"github.com/siddharthggs/mediggs-sub000/internal/inventory"
)

type memoryState struct {
	bills   map[int64]Bill
	nextID  int64
	numbers map[BillType]int64
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		bills:   make(map[int64]Bill, len(s.bills)),
		nextID:  s.nextID,
		numbers: make(map[BillType]int64, len(s.numbers)),
	}
	for k, v := range s.bills {
		c.bills[k] = v
	}
	for k, v := range s.numbers {
		c.numbers[k] = v
	}
	return c
}

// cloneBill copies the line slices so a transaction never writes through to
// committed state.
func cloneBill(b Bill) Bill {
	b.SalesLines = slices.Clone(b.SalesLines)
	for i := range b.SalesLines {
		b.SalesLines[i].Allocations = slices.Clone(b.SalesLines[i].Allocations)
	}
	b.PurchaseLines = slices.Clone(b.PurchaseLines)
	return b
}

// MemoryStore keeps bills in process. Its transactions also open transactions
// on the ledger and queue memory repositories and commit all three together.
// Lock order is bills, ledger, queue.
type MemoryStore struct {
	mu     sync.Mutex
	state  *memoryState
	ledger *inventory.MemoryRepository
	queue  *einvoice.MemoryRepository
	now    func() time.Time
}

// NewMemoryStore returns an empty bill store sharing ledger and queue.
func NewMemoryStore(ledger *inventory.MemoryRepository, queue *einvoice.MemoryRepository) *MemoryStore {
	return &MemoryStore{
		state:  &memoryState{bills: make(map[int64]Bill), numbers: make(map[BillType]int64)},
		ledger: ledger,
		queue:  queue,
		now:    time.Now,
	}
}

type memoryTx struct {
	store  *MemoryStore
	state  *memoryState
	ledger *inventory.MemoryTx
	queue  *einvoice.MemoryTx
}

// WithTx implements Store.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memoryTx{store: s, state: s.state.clone(), ledger: s.ledger.Begin(), queue: s.queue.Begin()}
	if err := fn(ctx, tx); err != nil {
		tx.queue.Rollback()
		tx.ledger.Rollback()
		return err
	}
	s.state = tx.state
	tx.ledger.Commit()
	tx.queue.Commit()
	return nil
}

func (t *memoryTx) Ledger() inventory.TxRepository { return t.ledger }

func (t *memoryTx) Queue() einvoice.TxRepository { return t.queue }

func (t *memoryTx) GetBill(_ context.Context, id int64, _ bool) (Bill, error) {
	b, ok := t.state.bills[id]
	if !ok {
		return Bill{}, fmt.Errorf("%w: id %d", ErrBillNotFound, id)
	}
	return cloneBill(b), nil
}

func (t *memoryTx) InsertBill(_ context.Context, b Bill) (Bill, error) {
	t.state.nextID++
	now := t.store.now().UTC()
	b.ID = t.state.nextID
	b.CreatedAt = now
	b.UpdatedAt = now
	t.state.bills[b.ID] = cloneBill(b)
	return b, nil
}

func (t *memoryTx) UpdateBill(_ context.Context, b Bill) (Bill, error) {
	if _, ok := t.state.bills[b.ID]; !ok {
		return Bill{}, fmt.Errorf("%w: id %d", ErrBillNotFound, b.ID)
	}
	b.UpdatedAt = t.store.now().UTC()
	t.state.bills[b.ID] = cloneBill(b)
	return b, nil
}

func (t *memoryTx) DeleteBill(_ context.Context, id int64) error {
	if _, ok := t.state.bills[id]; !ok {
		return fmt.Errorf("%w: id %d", ErrBillNotFound, id)
	}
	delete(t.state.bills, id)
	return nil
}

func (t *memoryTx) NextNumber(_ context.Context, bt BillType) (string, error) {
	t.state.numbers[bt]++
	return formatNumber(bt, t.state.numbers[bt]), nil
}

func (s *MemoryStore) read() *memoryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id int64) (Bill, error) {
	b, ok := s.read().bills[id]
	if !ok {
		return Bill{}, fmt.Errorf("%w: id %d", ErrBillNotFound, id)
	}
	return cloneBill(b), nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]Bill, error) {
	var out []Bill
	for _, b := range s.read().bills {
		if matches(b, f) {
			out = append(out, cloneBill(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(b Bill, f Filter) bool {
	switch {
	case f.Type != "" && b.Type != f.Type:
		return false
	case f.Status != "" && b.Status != f.Status:
		return false
	case f.PartyID > 0 && b.PartyID != f.PartyID:
		return false
	case !f.From.IsZero() && b.Date.Before(f.From):
		return false
	case !f.To.IsZero() && b.Date.After(f.To):
		return false
	}
	return true
}
