package quota

import (
	"context"
	"sync"
	"time"
)

// defaultSweepInterval controls how often the janitor removes expired
// counters from the in-memory map.
const defaultSweepInterval = 30 * time.Second

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is an in-process Store implementation backed by a
// mutex-guarded map. It is a drop-in replacement for the Redis store in
// single-instance deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	closed  bool

	// now is swapped out in tests to control window expiry.
	now func() time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

// NewMemoryStore creates an in-memory quota store and starts its
// background janitor.
func NewMemoryStore() *MemoryStore {
	ms := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
		done:    make(chan struct{}),
	}

	ms.wg.Add(1)
	go ms.sweepLoop(defaultSweepInterval)

	return ms
}

// IncrementWithTTL increments the counter for key, creating it with a TTL
// of window on first use. The expiry is never extended on increment.
func (ms *MemoryStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return 0, 0, ErrStoreClosed
	}

	now := ms.now()

	e, ok := ms.entries[key]
	if !ok || !e.expiresAt.After(now) {
		ms.entries[key] = &memoryEntry{count: 1, expiresAt: now.Add(window)}
		return 1, window, nil
	}

	e.count++
	return e.count, e.expiresAt.Sub(now), nil
}

// Get returns the current count for a key.
func (ms *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return 0, ErrStoreClosed
	}

	e, ok := ms.entries[key]
	if !ok || !e.expiresAt.After(ms.now()) {
		return 0, ErrKeyNotFound
	}

	return e.count, nil
}

// Set writes a counter value directly with the given TTL.
func (ms *MemoryStore) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return ErrStoreClosed
	}

	ms.entries[key] = &memoryEntry{count: value, expiresAt: ms.now().Add(ttl)}

	return nil
}

// Reset removes all quota state for the given key.
func (ms *MemoryStore) Reset(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return ErrStoreClosed
	}

	delete(ms.entries, key)

	return nil
}

// Ping reports whether the store is usable.
func (ms *MemoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return ErrStoreClosed
	}

	return nil
}

// Close stops the janitor and releases all counters.
func (ms *MemoryStore) Close() error {
	ms.mu.Lock()
	if ms.closed {
		ms.mu.Unlock()
		return nil
	}
	ms.closed = true
	ms.entries = nil
	ms.mu.Unlock()

	close(ms.done)
	ms.wg.Wait()

	return nil
}

// sweepLoop periodically removes expired counters so the map does not
// grow unbounded across quiet client keys.
func (ms *MemoryStore) sweepLoop(interval time.Duration) {
	defer ms.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ms.done:
			return
		case <-ticker.C:
			ms.sweep()
		}
	}
}

func (ms *MemoryStore) sweep() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return
	}

	now := ms.now()
	for key, e := range ms.entries {
		if !e.expiresAt.After(now) {
			delete(ms.entries, key)
		}
	}
}
