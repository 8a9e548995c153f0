// Package redis wires a go-redis client into the authcore session and
// counter stores. Every key is namespaced under a prefix so that several
// deployments can share one Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/session"
)

// Options selects the Redis deployment.
type Options struct {
	Addr     string
	Username string
	Password string
	DB       int
	// PoolSize defaults to go-redis' own default when zero.
	PoolSize    int
	DialTimeout time.Duration
}

// Open creates a client and verifies it answers PING.
func Open(ctx context.Context, opts Options) (goredis.UniversalClient, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis: addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Username:    opts.Username,
		Password:    opts.Password,
		DB:          opts.DB,
		PoolSize:    opts.PoolSize,
		DialTimeout: opts.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

// Counters is the shared authcore.CounterStore. Each hit runs as one Lua
// script so that concurrent nodes never exceed a budget.
type Counters struct {
	*rate.RedisCounterStore
}

func NewCounters(client goredis.UniversalClient, prefix string) *Counters {
	return &Counters{RedisCounterStore: rate.NewRedisCounterStore(client, prefix)}
}

// NewSessions returns the Redis-backed session store.
func NewSessions(client goredis.UniversalClient, prefix string) *session.RedisStore {
	return session.NewRedisStore(client, prefix)
}
