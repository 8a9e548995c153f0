package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is the counter state after a hit.
type Window struct {
	Count   int64
	ResetAt time.Time
}

// CounterStore performs the increment-or-reset transition as one atomic
// step: when now >= ResetAt the count restarts at 1 with ResetAt =
// now+window, otherwise it increments.
type CounterStore interface {
	Hit(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error)
	Reset(ctx context.Context, key string) error
}

const hitScript = `
local now = tonumber(ARGV[1])
local win = tonumber(ARGV[2])
local v = redis.call("HMGET", KEYS[1], "c", "r")
local count = tonumber(v[1])
local reset = tonumber(v[2])
if (not count) or (not reset) or now >= reset then
  count = 1
  reset = now + win
else
  count = count + 1
end
redis.call("HSET", KEYS[1], "c", count, "r", reset)
redis.call("PEXPIRE", KEYS[1], reset - now)
return {count, reset}
`

var hitLua = redis.NewScript(hitScript)

// RedisCounterStore keeps each counter in a hash {c, r} expiring at the
// window end. Timestamps come from the caller's clock, not the server's.
type RedisCounterStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisCounterStore namespaces keys under prefix.
func NewRedisCounterStore(client redis.UniversalClient, prefix string) *RedisCounterStore {
	if prefix == "" {
		prefix = "authcore"
	}
	return &RedisCounterStore{redis: client, prefix: prefix}
}

func (s *RedisCounterStore) key(k string) string { return s.prefix + ":rl:" + k }

// Hit runs the transition as a single Lua script.
func (s *RedisCounterStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration) (Window, error) {
	res, err := hitLua.Run(ctx, s.redis, []string{s.key(key)}, now.UnixMilli(), window.Milliseconds()).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return Window{}, fmt.Errorf("%w: unexpected script reply", ErrStoreUnavailable)
	}
	return Window{Count: res[0], ResetAt: time.UnixMilli(res[1])}, nil
}

// Reset deletes the counter.
func (s *RedisCounterStore) Reset(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// MemoryCounterStore is a single-process CounterStore.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]Window
}

// NewMemoryCounterStore returns an empty store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counters: make(map[string]Window)}
}

// Hit performs the transition under the store mutex.
func (s *MemoryCounterStore) Hit(_ context.Context, key string, now time.Time, window time.Duration) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.counters[key]
	if !ok || !now.Before(w.ResetAt) {
		w = Window{Count: 1, ResetAt: now.Add(window)}
	} else {
		w.Count++
	}
	s.counters[key] = w
	return w, nil
}

// Reset deletes the counter.
func (s *MemoryCounterStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.counters, key)
	s.mu.Unlock()
	return nil
}

// Sweep drops counters whose window ended before now.
func (s *MemoryCounterStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, w := range s.counters {
		if !now.Before(w.ResetAt) {
			delete(s.counters, k)
			n++
		}
	}
	return n
}
