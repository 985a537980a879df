// Package quota provides the counter-store contract and implementations
// backing the Tollgate admission layer.
package quota

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStoreClosed is returned when an operation is attempted on a closed store.
	ErrStoreClosed = errors.New("quota: store closed")

	// ErrKeyNotFound is returned when a key does not exist or has expired.
	ErrKeyNotFound = errors.New("quota: key not found")

	// ErrStoreUnavailable is returned when the backing store cannot be
	// reached or times out. Callers decide the fail-open policy.
	ErrStoreUnavailable = errors.New("quota: store unavailable")
)

// Result holds the outcome of a quota check for one request.
type Result struct {
	// Count is the current request count in the window.
	Count int64
	// Limit is the maximum allowed requests in the window.
	Limit int64
	// Remaining is how many requests are still allowed. Never negative.
	Remaining int64
	// ResetAt is the time when the current window expires.
	ResetAt time.Time
	// RetryAfter is how long a denied caller should wait before retrying.
	// Zero for allowed results.
	RetryAfter time.Duration
	// Allowed indicates whether the request should be permitted.
	Allowed bool
	// Degraded is set when the result was produced without consulting the
	// store (fail-open), so it carries no real usage data.
	Degraded bool
}

// Store defines the interface for quota counter backends.
// All methods must be safe for concurrent use.
type Store interface {
	// IncrementWithTTL atomically increments the counter for key. On the
	// first increment of a live key the counter is created with count=1 and
	// a TTL of window; subsequent increments within the TTL return the new
	// count without refreshing the TTL (fixed window). The returned ttl is
	// the time remaining until the window expires.
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)

	// Get returns the current count for a key, or ErrKeyNotFound when the
	// key is absent or its window has expired.
	Get(ctx context.Context, key string) (int64, error)

	// Set writes a counter value directly with the given TTL.
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error

	// Reset removes all quota state for the given key.
	Reset(ctx context.Context, key string) error

	// Ping checks the health of the store backend.
	Ping(ctx context.Context) error

	// Close gracefully shuts down the store.
	Close() error
}
