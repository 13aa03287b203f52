package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisAsyncWriteSemCapacity bounds concurrent background Redis writes.
const redisAsyncWriteSemCapacity = 256

// RedisBackendOptions configures a RedisBackend.
type RedisBackendOptions struct {
	RedisOptions redis.Options
	KeyPrefix    string
}

// RedisBackend is the Redis-backed implementation of cache.Backend:
// per-key TTL via SET ... EX, and a semaphore-bounded async write path.
// Cache.Put already
// performs the fire-and-forget dispatch itself (see cache.go), so
// RedisBackend's own Set is synchronous from its caller's point of view;
// the semaphore here additionally caps how many of those synchronous
// calls may be in flight at once, protecting Redis from an unbounded
// goroutine burst under a cache-miss storm.
type RedisBackend struct {
	client *redis.Client
	prefix string
	sem    chan struct{}
}

var _ Backend = (*RedisBackend)(nil)

func NewRedisBackend(opt RedisBackendOptions) *RedisBackend {
	return &RedisBackend{
		client: redis.NewClient(&opt.RedisOptions),
		prefix: opt.KeyPrefix,
		sem:    make(chan struct{}, redisAsyncWriteSemCapacity),
	}
}

func (b *RedisBackend) key(k Key) string {
	return fmt.Sprintf("%s%s|%d|%d", b.prefix, k.Name, k.Type, k.Class)
}

func (b *RedisBackend) Get(ctx context.Context, k Key) ([]byte, bool, error) {
	data, err := b.client.Get(ctx, b.key(k)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, k Key, data []byte, ttl time.Duration) error {
	select {
	case b.sem <- struct{}{}:
		defer func() { <-b.sem }()
	default:
		return errBackendBusy
	}
	return b.client.Set(ctx, b.key(k), data, ttl).Err()
}

func (b *RedisBackend) Remove(ctx context.Context, k Key) error {
	return b.client.Del(ctx, b.key(k)).Err()
}

func (b *RedisBackend) Close() error { return b.client.Close() }

var errBackendBusy = errors.New("cache: redis backend write semaphore full")
