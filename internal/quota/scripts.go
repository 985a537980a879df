package quota

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Lua scripts for atomic quota operations.
//
// Using Lua scripts ensures that multi-step operations (INCR + PEXPIRE)
// execute atomically on the Redis server, preventing race conditions
// between concurrent requests.

// luaIncrement atomically increments a key and sets its expiry.
// KEYS[1] = the quota counter key
// ARGV[1] = window duration in milliseconds
//
// Returns {count, remaining_ttl_ms}.
const luaIncrement = `
local key = KEYS[1]
local window_ms = tonumber(ARGV[1])

local current = redis.call("INCR", key)

-- Only set expiry on first increment (when count becomes 1)
-- to avoid resetting the TTL on subsequent increments.
if current == 1 then
    redis.call("PEXPIRE", key, window_ms)
end

local ttl = redis.call("PTTL", key)
if ttl < 0 then
    ttl = window_ms
end

return {current, ttl}
`

// scriptLoader manages the lifecycle of Lua scripts in Redis.
// Scripts are loaded once via SCRIPT LOAD and then executed by SHA,
// which reduces bandwidth and parsing overhead on repeated calls.
type scriptLoader struct {
	client *redis.Client

	increment *redis.Script
}

// newScriptLoader creates a new script loader with all scripts registered.
func newScriptLoader(client *redis.Client) *scriptLoader {
	return &scriptLoader{
		client:    client,
		increment: redis.NewScript(luaIncrement),
	}
}

// LoadAll pre-loads all Lua scripts into the Redis script cache.
// This should be called once during initialization. The go-redis library
// handles transparent reloading if scripts are evicted from the cache.
func (sl *scriptLoader) LoadAll(ctx context.Context) error {
	scripts := map[string]*redis.Script{
		"increment": sl.increment,
	}

	for name, script := range scripts {
		if err := script.Load(ctx, sl.client).Err(); err != nil {
			return fmt.Errorf("failed to load script %q: %w", name, err)
		}
	}

	return nil
}
