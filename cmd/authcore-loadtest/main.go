// Command authcore-loadtest measures session resolution and full pipeline
// throughput against Redis-backed sessions and rate limit counters.
//
// Principals, memberships and audit entries stay in memory so that only the
// Redis hot path is measured. Without -redis-addr or REDIS_ADDR an embedded
// miniredis is used.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store/memory"
	authredis "github.com/MrEthical07/authcore/store/redis"
	"github.com/MrEthical07/authcore/tenant"
)

const seedPassword = "Load-Test-Passphrase-1"

func main() {
	var (
		principals  = flag.Int("principals", 2000, "number of principals to seed, one session each")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (resolve + pipeline)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "lt", "redis key prefix")
	)
	flag.Parse()

	if *principals <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "principals, concurrency, and ops must be > 0")
		os.Exit(2)
	}
	if err := run(*principals, *concurrency, *ops, *redisAddr, *prefix); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(principals, concurrency, ops int, redisAddr, prefix string) error {
	ctx := context.Background()

	addr := redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("failed to start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	client, err := authredis.Open(ctx, authredis.Options{Addr: addr, PoolSize: concurrency})
	if err != nil {
		return err
	}
	defer client.Close()

	engine, st, err := buildEngine(client, prefix)
	if err != nil {
		return err
	}
	defer engine.Close()

	fmt.Printf("seeding %d principals...\n", principals)
	startSeed := time.Now()
	tokens, err := seed(ctx, engine, st, principals)
	if err != nil {
		return err
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	resolveStats := runPhase(ops, concurrency, 7919, func(r *rand.Rand) error {
		_, err := engine.ResolveSession(ctx, carrier(tokens[r.Intn(len(tokens))]))
		return err
	})

	op := authcore.Operation{Name: "records.read", Capabilities: []string{"records.read"}, RequireTenant: true}
	noop := func(context.Context, *authcore.Request) error { return nil }
	pipelineStats := runPhase(ops, concurrency, 6151, func(r *rand.Rand) error {
		return engine.RunPipeline(ctx, op, carrier(tokens[r.Intn(len(tokens))]), noop)
	})

	fmt.Println("---- results ----")
	printStats("resolve", resolveStats)
	printStats("pipeline", pipelineStats)
	fmt.Printf("audit: failures=%d dropped=%d\n", engine.AuditFailures(), engine.AuditDropped())
	return nil
}

// buildEngine uses the Argon2 floor and an API budget no worker can exhaust.
func buildEngine(client goredis.UniversalClient, prefix string) (*authcore.Engine, *memory.Store, error) {
	cfg := authcore.DefaultConfig()
	cfg.Password.Argon2 = password.Argon2Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.RateLimits.Default = authcore.RateLimit{Max: 1 << 30, Window: time.Minute}

	st := memory.New()
	engine, err := authcore.New().
		WithConfig(cfg).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithPrincipalStore(st).
		WithSessionStore(authredis.NewSessions(client, prefix)).
		WithMembershipStore(st).
		WithHistoryStore(st).
		WithCounterStore(authredis.NewCounters(client, prefix)).
		WithAuditStore(st).
		WithCapabilities([]string{"records.read"}).
		WithRoles(map[string][]string{"viewer": {"records.read"}}).
		Build()
	return engine, st, err
}

func seed(ctx context.Context, engine *authcore.Engine, st *memory.Store, n int) ([]string, error) {
	tokens := make([]string, 0, n)
	now := time.Now()
	for i := 0; i < n; i++ {
		email := fmt.Sprintf("lt-%d@load.example", i)
		p, err := st.CreatePrincipal(ctx, email, now)
		if err != nil {
			return nil, err
		}
		if err := engine.SetPassword(ctx, p.ID, seedPassword); err != nil {
			return nil, fmt.Errorf("set password: %w", err)
		}
		if err := st.AddMembership(ctx, tenant.Membership{
			PrincipalID:    p.ID,
			OrganizationID: fmt.Sprintf("org-%d", i%16),
			Role:           "viewer",
			Status:         tenant.StatusActive,
			JoinedAt:       now,
		}); err != nil {
			return nil, err
		}
		res, err := engine.Login(ctx, authcore.LoginInput{Email: email, Password: seedPassword, Label: "loadtest"})
		if err != nil {
			return nil, fmt.Errorf("login failed: %w", err)
		}
		tokens = append(tokens, res.Token)
	}
	return tokens, nil
}

func carrier(token string) session.MapCarrier {
	return session.MapCarrier{"authcore.session_token": token}
}

// runPhase spreads ops calls of fn over concurrency workers.
func runPhase(ops, concurrency int, seedStride int64, fn func(r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seedStride))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := fn(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}
