package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// RedisOptions configures RedisLocker.
type RedisOptions struct {
	// Prefix namespaces keys in Redis.
	Prefix string
	// TTL bounds how long a crashed holder keeps the key.
	TTL time.Duration
	// Wait bounds how long Lock retries before giving up.
	Wait time.Duration
	// RetryEvery is the linear backoff between attempts.
	RetryEvery time.Duration
}

// RedisLocker shares scope locks between instances through bsm/redislock.
type RedisLocker struct {
	client *redislock.Client
	opts   RedisOptions
}

// NewRedisLocker wraps a go-redis client.
func NewRedisLocker(rdb redis.Scripter, opts RedisOptions) *RedisLocker {
	if opts.Prefix == "" {
		opts.Prefix = "mediggs:lock:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.Wait <= 0 {
		opts.Wait = 5 * time.Second
	}
	if opts.RetryEvery <= 0 {
		opts.RetryEvery = 50 * time.Millisecond
	}
	return &RedisLocker{client: redislock.New(rdb), opts: opts}
}

// Lock obtains every key or releases the ones already held.
func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (Release, error) {
	ordered := normalize(keys)
	waitCtx, cancel := context.WithTimeout(ctx, l.opts.Wait)
	defer cancel()

	held := make([]*redislock.Lock, 0, len(ordered))
	unlock := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = held[i].Release(releaseCtx)
		}
	}
	for _, key := range ordered {
		lk, err := l.client.Obtain(waitCtx, l.opts.Prefix+key, l.opts.TTL, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(l.opts.RetryEvery),
		})
		if err != nil {
			unlock()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
				return nil, conflict(key, err)
			}
			return nil, fmt.Errorf("platform/lock: obtain %s: %w", key, err)
		}
		held = append(held, lk)
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		unlock()
	}, nil
}
