package authcore_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store/memory"
	"github.com/MrEthical07/authcore/totp"
)

const testPassword = "Correct-Horse-42!"

var testEpoch = time.Date(2026, time.January, 5, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: testEpoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testConfig uses the Argon2 parameter floor so that tests hash quickly.
func testConfig() authcore.Config {
	cfg := authcore.DefaultConfig()
	cfg.Password.Argon2 = password.Argon2Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	return cfg
}

type harness struct {
	engine *authcore.Engine
	store  *memory.Store
	clock  *fakeClock
}

// harnessOption adjusts the builder before Build; st is the backing store.
type harnessOption func(b *authcore.Builder, st *memory.Store)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	return newHarnessWithConfig(t, testConfig(), opts...)
}

func newHarnessWithConfig(t *testing.T, cfg authcore.Config, opts ...harnessOption) *harness {
	t.Helper()
	st := memory.New()
	clk := newFakeClock()
	b := authcore.New().
		WithConfig(cfg).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithClock(clk).
		WithPrincipalStore(st).
		WithSessionStore(st).
		WithMembershipStore(st).
		WithHistoryStore(st).
		WithCounterStore(memory.NewCounters()).
		WithAuditStore(st).
		WithCapabilities([]string{"records.read", "records.write", "org.manage"}).
		WithRoles(map[string][]string{
			"viewer":    {"records.read"},
			"clinician": {"records.read", "records.write"},
			"org_admin": {"records.read", "records.write", "org.manage"},
		})
	for _, opt := range opts {
		opt(b, st)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	return &harness{engine: engine, store: st, clock: clk}
}

// principal creates an active principal with testPassword.
func (h *harness) principal(t *testing.T, email string) authcore.Principal {
	t.Helper()
	ctx := context.Background()
	p, err := h.store.CreatePrincipal(ctx, email, h.clock.Now())
	if err != nil {
		t.Fatalf("CreatePrincipal: %v", err)
	}
	if err := h.engine.SetPassword(ctx, p.ID, testPassword); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	return p
}

func (h *harness) login(t *testing.T, email string) *authcore.LoginResult {
	t.Helper()
	res, err := h.engine.Login(context.Background(), authcore.LoginInput{Email: email, Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return res
}

// enrollTOTP sets up and confirms a secret, leaving the clock one step past
// the confirming code.
func (h *harness) enrollTOTP(t *testing.T, principalID string) string {
	t.Helper()
	ctx := context.Background()
	setup, err := h.engine.SetupTOTP(ctx, principalID)
	if err != nil {
		t.Fatalf("SetupTOTP: %v", err)
	}
	if err := h.engine.ConfirmTOTP(ctx, principalID, h.code(t, setup.Secret)); err != nil {
		t.Fatalf("ConfirmTOTP: %v", err)
	}
	h.clock.Advance(30 * time.Second)
	return setup.Secret
}

func (h *harness) code(t *testing.T, secret string) string {
	t.Helper()
	c, err := totp.Code(secret, h.clock.Now(), totp.DefaultParams())
	if err != nil {
		t.Fatalf("totp.Code: %v", err)
	}
	return c
}

// lastAudit returns the newest entry with action.
func (h *harness) lastAudit(t *testing.T, action string) authcore.AuditEntry {
	t.Helper()
	entries := h.store.AuditEntries()
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Action == action {
			return entries[i]
		}
	}
	t.Fatalf("no audit entry for %s", action)
	return authcore.AuditEntry{}
}

func (h *harness) countAudit(action string) int {
	n := 0
	for _, e := range h.store.AuditEntries() {
		if e.Action == action {
			n++
		}
	}
	return n
}

func carrierFor(res *authcore.LoginResult) session.MapCarrier {
	return session.MapCarrier{"authcore.session_token": res.Token}
}

var errBackend = errors.New("backend down")

// brokenHistory fails every history lookup.
type brokenHistory struct{ *memory.Store }

func (brokenHistory) RecentPasswordHashes(context.Context, string, int) ([]password.HistoryEntry, error) {
	return nil, errBackend
}

// brokenAudit rejects every append.
type brokenAudit struct{}

func (brokenAudit) AppendAudit(context.Context, authcore.AuditEntry) error { return errBackend }
