// Package kvstore provides the shared TTL key/value store used for webhook
// de-duplication, fixed-window rate counters and per-chat locks.
//
// Two implementations exist: RedisStore for multi-instance deployments and
// MemoryStore for single-process setups and tests. Both honour the same
// atomicity guarantees per key.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kvstore closed")

// Store is a TTL key/value store with the atomic primitives the gateway needs.
type Store interface {
	// SetNX stores value under key for ttl only if key is absent. It reports
	// whether the value was stored.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Del removes key.
	Del(ctx context.Context, key string) error

	// CompareAndDelete removes key only if it currently holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)

	// IncrWithin increments the counter at key unless it already reached
	// limit. The TTL is set when the counter is created. It returns the
	// counter value after the call and whether the increment happened.
	IncrWithin(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error)

	Ping(ctx context.Context) error
	Close() error
}
