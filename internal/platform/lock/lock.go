// Package lock serializes writers on named keys. Ledger scopes use it so that
// allocation and the movement write happen inside one critical section.
package lock

import (
	"context"
	"fmt"
	"sort"

	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

// Release frees every key obtained by one Lock call. Calling it twice is safe.
type Release func()

// Locker acquires all keys or none. Keys are taken in sorted order so two callers
// locking overlapping sets cannot deadlock. Acquisition waits a bounded time and
// then fails with shared.ErrAllocationConflict.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (Release, error)
}

func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func conflict(key string, cause error) error {
	return fmt.Errorf("%w: lock %s: %v", shared.ErrAllocationConflict, key, cause)
}
