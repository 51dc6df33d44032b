package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryLocker is a keyed mutex for a single process.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
	wait  time.Duration
}

// NewMemoryLocker builds a locker; wait bounds how long Lock blocks per call.
func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &MemoryLocker{slots: make(map[string]chan struct{}), wait: wait}
}

func (l *MemoryLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Lock acquires keys in sorted order.
func (l *MemoryLocker) Lock(ctx context.Context, keys ...string) (Release, error) {
	ordered := normalize(keys)
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	held := make([]chan struct{}, 0, len(ordered))
	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}
	for _, key := range ordered {
		ch := l.slot(key)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-waitCtx.Done():
			unlock()
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, conflict(key, errors.New("wait exceeded"))
		}
	}
	var once sync.Once
	return func() { once.Do(unlock) }, nil
}
