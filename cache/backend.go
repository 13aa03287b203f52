package cache

import (
	"context"
	"time"
)

// Backend is the cache's optional L2 capability. Implementations plug a
// remote store (Redis, memcached, a cluster-wide coordination service)
// behind the same three operations the local tier already exposes. All
// calls are expected to be safe to call from multiple goroutines and to
// fail soft: a Backend error never blocks or fails the local cache
// operation that triggered it.
type Backend interface {
	// Get fetches the serialized entry for key, or (nil, false, nil) on miss.
	Get(ctx context.Context, key Key) (data []byte, ok bool, err error)
	// Set stores data for key with the given TTL.
	Set(ctx context.Context, key Key, data []byte, ttl time.Duration) error
	// Remove deletes key.
	Remove(ctx context.Context, key Key) error
	// Close releases any resources held by the backend (connections, ...).
	Close() error
}
