package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

func TestNormalizeSortsAndDedupes(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, normalize([]string{"c", "a", "", "b", "a"}))
}

func TestMemoryLockerSerializes(t *testing.T) {
	locker := NewMemoryLocker(time.Second)
	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Lock(context.Background(), "stock:1", "stock:2")
			if err != nil {
				t.Error(err)
				return
			}
			defer release()
			n := atomic.AddInt32(&inside, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), peak)
}

func TestMemoryLockerTimesOutWithConflict(t *testing.T) {
	locker := NewMemoryLocker(20 * time.Millisecond)
	release, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	_, err = locker.Lock(context.Background(), "k")
	require.ErrorIs(t, err, shared.ErrAllocationConflict)
}

func TestMemoryLockerPartialAcquireIsUndone(t *testing.T) {
	locker := NewMemoryLocker(20 * time.Millisecond)
	release, err := locker.Lock(context.Background(), "b")
	require.NoError(t, err)

	_, err = locker.Lock(context.Background(), "a", "b")
	require.ErrorIs(t, err, shared.ErrAllocationConflict)
	release()
	release()

	again, err := locker.Lock(context.Background(), "a")
	require.NoError(t, err)
	again()
}

func TestRedisLockerConflictAndRelease(t *testing.T) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	locker := NewRedisLocker(rdb, RedisOptions{Wait: 50 * time.Millisecond, RetryEvery: 10 * time.Millisecond})
	release, err := locker.Lock(context.Background(), "stock:product:1:warehouse:1")
	require.NoError(t, err)
	require.True(t, srv.Exists("mediggs:lock:stock:product:1:warehouse:1"))

	_, err = locker.Lock(context.Background(), "stock:product:1:warehouse:1")
	require.ErrorIs(t, err, shared.ErrAllocationConflict)

	release()
	require.False(t, srv.Exists("mediggs:lock:stock:product:1:warehouse:1"))

	release, err = locker.Lock(context.Background(), "stock:product:1:warehouse:1")
	require.NoError(t, err)
	release()
}
