// Package limiter implements the per-request quota check.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mapindex/tollgate/internal/quota"
	"github.com/mapindex/tollgate/internal/tier"
)

// DefaultStoreTimeout bounds the single store round-trip per request.
const DefaultStoreTimeout = 500 * time.Millisecond

// CounterStore defines the store capabilities required by the limiter.
type CounterStore interface {
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Config controls limiter behavior.
type Config struct {
	// StoreTimeout bounds each store call. Defaults to DefaultStoreTimeout.
	StoreTimeout time.Duration
}

// Limiter checks client usage against tier policies through a quota store.
// It performs exactly one store call per request, never retries, and fails
// open when the store is unreachable.
type Limiter struct {
	store   CounterStore
	timeout time.Duration

	// now is swapped out in tests for deterministic reset times.
	now func() time.Time
}

// New creates a limiter backed by the provided store.
func New(store CounterStore, cfg Config) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("limiter: store is required")
	}
	if cfg.StoreTimeout < 0 {
		return nil, fmt.Errorf("limiter: store timeout must not be negative")
	}
	if cfg.StoreTimeout == 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}

	return &Limiter{
		store:   store,
		timeout: cfg.StoreTimeout,
		now:     time.Now,
	}, nil
}

// Check increments the counter for identity under pol's tier and returns
// the admission decision. Each call counts against the budget; there is no
// way to "peek" without consuming.
func (l *Limiter) Check(ctx context.Context, identity string, pol tier.Policy) (quota.Result, error) {
	if identity == "" {
		return quota.Result{}, fmt.Errorf("limiter: identity is required")
	}
	if pol.MaxRequests <= 0 || pol.Window <= 0 {
		return quota.Result{}, fmt.Errorf("limiter: invalid policy %q", pol.Name)
	}

	// Tier-prefixed keys keep counters from colliding across tiers for
	// the same caller.
	key := pol.Name + ":" + identity

	callCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	count, ttl, err := l.store.IncrementWithTTL(callCtx, key, pol.Window)
	if err != nil {
		if errors.Is(err, quota.ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			// Fail open: availability is prioritized over strict quota
			// enforcement when the store is down.
			slog.Warn("limiter: quota store unavailable, allowing request",
				"tier", pol.Name, "key", key, "error", err)
			return l.failOpen(pol), nil
		}

		return quota.Result{}, fmt.Errorf("limiter: check failed for key %q: %w", key, err)
	}

	if ttl <= 0 {
		ttl = pol.Window
	}

	result := quota.Result{
		Count:     count,
		Limit:     pol.MaxRequests,
		Remaining: max(0, pol.MaxRequests-count),
		ResetAt:   l.now().Add(ttl),
		Allowed:   count <= pol.MaxRequests,
	}
	if !result.Allowed {
		result.RetryAfter = ttl
	}

	return result, nil
}

func (l *Limiter) failOpen(pol tier.Policy) quota.Result {
	return quota.Result{
		Limit:     pol.MaxRequests,
		Remaining: pol.MaxRequests,
		ResetAt:   l.now().Add(pol.Window),
		Allowed:   true,
		Degraded:  true,
	}
}
