package quota

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default configuration values for the Redis connection pool.
const (
	DefaultPoolSize      = 10
	DefaultMinIdleConns  = 3
	DefaultDialTimeout   = 5 * time.Second
	DefaultReadTimeout   = 3 * time.Second
	DefaultWriteTimeout  = 3 * time.Second
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = 100 * time.Millisecond
	DefaultMaxRetryDelay = 500 * time.Millisecond
)

// RedisConfig holds the configuration for the Redis quota store.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (empty for no auth).
	Password string
	// DB is the Redis database number.
	DB int

	// PoolSize is the maximum number of connections in the pool.
	PoolSize int
	// MinIdleConns is the minimum number of idle connections to maintain.
	MinIdleConns int

	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration
	// ReadTimeout is the timeout for read operations.
	ReadTimeout time.Duration
	// WriteTimeout is the timeout for write operations.
	WriteTimeout time.Duration

	// MaxRetries is the maximum number of retries for failed commands.
	MaxRetries int
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration
	// MaxRetryDelay is the maximum delay between retries.
	MaxRetryDelay time.Duration
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		Password:      "",
		DB:            0,
		PoolSize:      DefaultPoolSize,
		MinIdleConns:  DefaultMinIdleConns,
		DialTimeout:   DefaultDialTimeout,
		ReadTimeout:   DefaultReadTimeout,
		WriteTimeout:  DefaultWriteTimeout,
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
		MaxRetryDelay: DefaultMaxRetryDelay,
	}
}

// RedisStore implements the Store interface using Redis.
type RedisStore struct {
	client  *redis.Client
	scripts *scriptLoader
	mu      sync.RWMutex
	closed  bool
}

// NewRedisStore creates a new Redis-backed quota store.
// It validates the connection by sending a PING command.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.RetryDelay,
		MaxRetryBackoff: cfg.MaxRetryDelay,
	})

	// Validate the connection.
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: failed to connect to %s: %w", cfg.Addr, err)
	}

	rs := &RedisStore{
		client:  client,
		scripts: newScriptLoader(client),
	}

	// Pre-load Lua scripts into Redis script cache.
	if err := rs.scripts.LoadAll(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: failed to load Lua scripts: %w", err)
	}

	log.Printf("redis: connected to %s (pool_size=%d, min_idle=%d)",
		cfg.Addr, cfg.PoolSize, cfg.MinIdleConns)

	return rs, nil
}

// IncrementWithTTL atomically increments the counter for key via a Lua
// script. The TTL is set only when the counter is created, never refreshed,
// which gives fixed-window semantics.
func (rs *RedisStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if rs.closed {
		return 0, 0, ErrStoreClosed
	}

	raw, err := rs.scripts.increment.Run(ctx, rs.client,
		[]string{counterKey(key)},
		window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return 0, 0, unavailable("increment", key, err)
	}
	if len(raw) != 2 {
		return 0, 0, fmt.Errorf("redis: increment script returned %d values, want 2", len(raw))
	}

	return raw[0], time.Duration(raw[1]) * time.Millisecond, nil
}

// Get returns the current count for a key.
func (rs *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if rs.closed {
		return 0, ErrStoreClosed
	}

	count, err := rs.client.Get(ctx, counterKey(key)).Int64()
	if err == redis.Nil {
		return 0, ErrKeyNotFound
	}
	if err != nil {
		return 0, unavailable("get", key, err)
	}

	return count, nil
}

// Set writes a counter value directly with the given TTL.
func (rs *RedisStore) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if rs.closed {
		return ErrStoreClosed
	}

	if err := rs.client.Set(ctx, counterKey(key), value, ttl).Err(); err != nil {
		return unavailable("set", key, err)
	}

	return nil
}

// Reset removes all quota state associated with the given key.
func (rs *RedisStore) Reset(ctx context.Context, key string) error {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if rs.closed {
		return ErrStoreClosed
	}

	if err := rs.client.Del(ctx, counterKey(key)).Err(); err != nil {
		return unavailable("reset", key, err)
	}

	return nil
}

// Ping checks connectivity to the Redis server.
func (rs *RedisStore) Ping(ctx context.Context) error {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if rs.closed {
		return ErrStoreClosed
	}

	if err := rs.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", "", err)
	}

	return nil
}

// Close gracefully shuts down the Redis connection.
func (rs *RedisStore) Close() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.closed {
		return nil
	}

	rs.closed = true
	log.Println("redis: closing connection")

	return rs.client.Close()
}

// PoolStats returns the current connection pool statistics.
func (rs *RedisStore) PoolStats() *redis.PoolStats {
	return rs.client.PoolStats()
}

// counterKey namespaces a client key in Redis so quota counters never
// collide with other keyspaces sharing the instance.
func counterKey(key string) string {
	return "quota:{" + key + "}"
}

// unavailable wraps a backend failure so callers can detect it with
// errors.Is(err, ErrStoreUnavailable) and apply their fail-open policy.
func unavailable(op, key string, err error) error {
	if key == "" {
		return fmt.Errorf("%w: redis %s: %v", ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("%w: redis %s for key %q: %v", ErrStoreUnavailable, op, key, err)
}
