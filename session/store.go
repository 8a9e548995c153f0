package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no session exists for an ID.
	ErrNotFound = errors.New("session: not found")
	// ErrStoreUnavailable wraps backend failures. Callers must fail closed.
	ErrStoreUnavailable = errors.New("session: store unavailable")
)

// Store persists sessions. Expiry is decided by the caller's clock; stores
// may additionally evict expired records on their own schedule.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, principalID, id string) error
	DeleteAllForPrincipal(ctx context.Context, principalID string) (int, error)
}

const deleteScript = `
local existed = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return existed
`

const deleteAllScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local removed = 0
for _, id in ipairs(ids) do
  removed = removed + redis.call("DEL", ARGV[1] .. id)
end
redis.call("DEL", KEYS[1])
return removed
`

var (
	deleteLua    = redis.NewScript(deleteScript)
	deleteAllLua = redis.NewScript(deleteAllScript)
)

// RedisStore keeps one string key per session with a TTL matching the
// session expiry, plus a per-principal set index used for logout-all.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store namespacing keys under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "authcore"
	}
	return &RedisStore{redis: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) key(id string) string { return s.prefix + ":s:" + id }

func (s *RedisStore) principalKey(principalID string) string {
	return s.prefix + ":sp:" + principalID
}

// Create writes the session and its index entry in one MULTI block.
func (s *RedisStore) Create(ctx context.Context, sess *Session) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}

	idx := s.principalKey(sess.PrincipalID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.ID), data, ttl)
		pipe.SAdd(ctx, idx, sess.ID)
		pipe.Expire(ctx, idx, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Find returns ErrNotFound when the key is absent.
func (s *RedisStore) Find(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.ID = id
	return sess, nil
}

// Delete is idempotent.
func (s *RedisStore) Delete(ctx context.Context, principalID, id string) error {
	keys := []string{s.key(id), s.principalKey(principalID)}
	if err := deleteLua.Run(ctx, s.redis, keys, id).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteAllForPrincipal removes every indexed session atomically and reports
// how many still existed.
func (s *RedisStore) DeleteAllForPrincipal(ctx context.Context, principalID string) (int, error) {
	n, err := deleteAllLua.Run(ctx, s.redis, []string{s.principalKey(principalID)}, s.prefix+":s:").Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// Ping reports backend reachability and round-trip latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}
