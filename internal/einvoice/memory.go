package einvoice

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

type memoryState struct {
	entries map[int64]Entry // by bill
	nextID  int64
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{entries: make(map[int64]Entry, len(s.entries)), nextID: s.nextID}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	return c
}

// MemoryRepository keeps the queue in process with copy-on-begin transactions.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memoryState
	now   func() time.Time
}

// NewMemoryRepository returns an empty queue store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: &memoryState{entries: make(map[int64]Entry)}, now: time.Now}
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

// EntryByBill implements TxRepository.
func (t *MemoryTx) EntryByBill(_ context.Context, billID int64, _ bool) (Entry, bool, error) {
	e, ok := t.state.entries[billID]
	return e, ok, nil
}

// InsertEntry implements TxRepository.
func (t *MemoryTx) InsertEntry(_ context.Context, e Entry) (Entry, error) {
	if _, exists := t.state.entries[e.BillID]; exists {
		return Entry{}, fmt.Errorf("%w: einvoice entry for bill %d", shared.ErrDuplicate, e.BillID)
	}
	t.state.nextID++
	now := t.repo.now().UTC()
	e.ID = t.state.nextID
	e.CreatedAt = now
	e.UpdatedAt = now
	t.state.entries[e.BillID] = e
	return e, nil
}

// UpdateEntry implements TxRepository.
func (t *MemoryTx) UpdateEntry(_ context.Context, e Entry) (Entry, error) {
	if _, exists := t.state.entries[e.BillID]; !exists {
		return Entry{}, fmt.Errorf("%w: bill %d", ErrEntryNotFound, e.BillID)
	}
	e.UpdatedAt = t.repo.now().UTC()
	t.state.entries[e.BillID] = e
	return e, nil
}

// ClaimDue implements TxRepository.
func (t *MemoryTx) ClaimDue(_ context.Context, now, staleBefore time.Time, limit int) ([]Entry, error) {
	var out []Entry
	for _, e := range t.state.entries {
		if due(e, now, staleBefore) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func due(e Entry, now, staleBefore time.Time) bool {
	switch e.Status {
	case StatusPending:
		return true
	case StatusFailed:
		return e.NextAttemptAt != nil && !e.NextAttemptAt.After(now)
	case StatusSyncing:
		return e.LockedAt != nil && !e.LockedAt.After(staleBefore)
	}
	return false
}

func (r *MemoryRepository) read() *memoryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Get implements Repository.
func (r *MemoryRepository) Get(_ context.Context, billID int64) (Entry, error) {
	e, ok := r.read().entries[billID]
	if !ok {
		return Entry{}, fmt.Errorf("%w: bill %d", ErrEntryNotFound, billID)
	}
	return e, nil
}

// List implements Repository.
func (r *MemoryRepository) List(_ context.Context, filter Filter) ([]Entry, error) {
	var out []Entry
	for _, e := range r.read().entries {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
