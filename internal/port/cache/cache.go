// Package cache defines the port interface for short-lived key-value storage,
// used to replay publish responses for repeated Idempotency-Key requests.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for key-value caching. A Get after a
// successful Set may still miss: implementations are allowed to evict.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
