// Package ratelimit implements a fixed-window request counter on top of the
// shared TTL store, so every gateway instance sees the same budget.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/chatflow-gateway/internal/kvstore"
)

// ErrRateLimitExceeded is returned by Check when the window budget is spent.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// KeyPrefix namespaces counters in the store.
const KeyPrefix = "ratelimit:"

// Limiter counts hits per key in fixed windows.
type Limiter struct {
	store kvstore.Store
}

// New returns a Limiter backed by store.
func New(store kvstore.Store) *Limiter {
	return &Limiter{store: store}
}

// Allow reports whether another hit for key fits in the current window of
// length window. The window starts at the first hit. A denied hit does not
// consume budget. Store failures allow the request.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	_, ok, err := l.store.IncrWithin(ctx, KeyPrefix+key, int64(limit), window)
	if err != nil {
		log.Warn().Err(err).Str("component", "ratelimit").Str("key", key).Msg("rate limit store unavailable, allowing")
		return true, err
	}
	return ok, nil
}

// Check is Allow expressed as an error: nil when allowed,
// ErrRateLimitExceeded when denied.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) error {
	ok, _ := l.Allow(ctx, key, limit, window)
	if !ok {
		return ErrRateLimitExceeded
	}
	return nil
}
