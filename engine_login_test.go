package authcore_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/session"
)

func TestLoginIssuesResolvableSession(t *testing.T) {
	h := newHarness(t)
	p := h.principal(t, "Alice@Clinic.example")

	ctx := authcore.WithUserAgent(authcore.WithClientIP(context.Background(), "10.0.0.7"), "curl/8")
	res, err := h.engine.Login(ctx, authcore.LoginInput{Email: " alice@clinic.EXAMPLE ", Password: testPassword, Label: "ward terminal"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token == "" || res.Bearer != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Session.IP != "10.0.0.7" || res.Session.UserAgent != "curl/8" || res.Session.Label != "ward terminal" {
		t.Fatalf("session metadata not recorded: %+v", res.Session)
	}
	if !res.Session.ExpiresAt.Equal(testEpoch.Add(12 * time.Hour)) {
		t.Fatalf("unexpected expiry %v", res.Session.ExpiresAt)
	}

	id, err := h.engine.ResolveSession(context.Background(), carrierFor(res))
	if err != nil {
		t.Fatalf("ResolveSession: %v", err)
	}
	if id.Principal.ID != p.ID || id.Session.ID != res.Session.ID {
		t.Fatalf("resolved wrong identity %+v", id)
	}

	entry := h.lastAudit(t, authcore.ActionLogin)
	if entry.Outcome != "success" || entry.ActorID != p.ID || entry.Severity != authcore.SeverityInfo {
		t.Fatalf("unexpected audit entry %+v", entry)
	}
	if len(entry.SessionID) != 12 || !strings.HasPrefix(res.Session.ID, entry.SessionID) {
		t.Fatalf("expected truncated session id, got %q", entry.SessionID)
	}
	if entry.IP != "10.0.0.7" {
		t.Fatalf("expected client ip in audit, got %q", entry.IP)
	}
}

func TestLoginUnknownEmailMatchesWrongPassword(t *testing.T) {
	h := newHarness(t)
	h.principal(t, "bob@clinic.example")
	ctx := context.Background()

	_, unknown := h.engine.Login(ctx, authcore.LoginInput{Email: "nobody@clinic.example", Password: testPassword})
	_, wrong := h.engine.Login(ctx, authcore.LoginInput{Email: "bob@clinic.example", Password: "Wrong-Password-1!"})
	if !errors.Is(unknown, authcore.ErrInvalidCredentials) || !errors.Is(wrong, authcore.ErrInvalidCredentials) {
		t.Fatalf("expected identical invalid credentials, got %v / %v", unknown, wrong)
	}
	if unknown.Error() != wrong.Error() {
		t.Fatalf("error text leaks principal existence: %q vs %q", unknown, wrong)
	}
}

func TestLoginLockoutAndExpiry(t *testing.T) {
	h := newHarness(t)
	h.principal(t, "carol@clinic.example")
	ctx := context.Background()
	bad := authcore.LoginInput{Email: "carol@clinic.example", Password: "Wrong-Password-1!"}

	for i := 1; i < 5; i++ {
		if _, err := h.engine.Login(ctx, bad); !errors.Is(err, authcore.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	if _, err := h.engine.Login(ctx, bad); !errors.Is(err, authcore.ErrAccountLocked) {
		t.Fatalf("threshold attempt: expected ErrAccountLocked, got %v", err)
	}
	good := authcore.LoginInput{Email: "carol@clinic.example", Password: testPassword}
	if _, err := h.engine.Login(ctx, good); !errors.Is(err, authcore.ErrAccountLocked) {
		t.Fatalf("expected lock to hold for correct password, got %v", err)
	}

	h.clock.Advance(15*time.Minute + time.Second)
	if _, err := h.engine.Login(ctx, good); err != nil {
		t.Fatalf("expected login after lock window, got %v", err)
	}
	if got := h.engine.MetricsSnapshot().Counters[authcore.MetricLoginLocked]; got != 2 {
		t.Fatalf("expected 2 locked logins, got %d", got)
	}
}

func TestLoginDisabledPrincipal(t *testing.T) {
	h := newHarness(t)
	p := h.principal(t, "dave@clinic.example")
	res := h.login(t, "dave@clinic.example")
	ctx := context.Background()

	if err := h.store.SetStatus(ctx, p.ID, authcore.PrincipalDisabled); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := h.engine.Login(ctx, authcore.LoginInput{Email: "dave@clinic.example", Password: testPassword}); !errors.Is(err, authcore.ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
	if _, err := h.engine.ResolveSession(ctx, carrierFor(res)); !errors.Is(err, authcore.ErrAccountDisabled) {
		t.Fatalf("expected existing session refused, got %v", err)
	}
}

func TestLoginSecondFactor(t *testing.T) {
	h := newHarness(t)
	p := h.principal(t, "erin@clinic.example")
	secret := h.enrollTOTP(t, p.ID)
	ctx := context.Background()
	in := authcore.LoginInput{Email: "erin@clinic.example", Password: testPassword}

	if _, err := h.engine.Login(ctx, in); !errors.Is(err, authcore.ErrSecondFactorRequired) {
		t.Fatalf("expected ErrSecondFactorRequired, got %v", err)
	}
	in.TOTPCode = "000000"
	if _, err := h.engine.Login(ctx, in); !errors.Is(err, authcore.ErrTOTPInvalid) {
		t.Fatalf("expected ErrTOTPInvalid, got %v", err)
	}

	// Second-factor failures do not count toward password lockout.
	cred, err := h.store.Credential(ctx, p.ID)
	if err != nil || cred.FailedAttempts != 0 {
		t.Fatalf("expected no failed attempts, got %+v %v", cred, err)
	}

	in.TOTPCode = h.code(t, secret)
	if _, err := h.engine.Login(ctx, in); err != nil {
		t.Fatalf("Login with code: %v", err)
	}
	if got := h.engine.MetricsSnapshot().Counters[authcore.MetricSecondFactorRequired]; got != 1 {
		t.Fatalf("expected 1 second-factor demand, got %d", got)
	}
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	p := h.principal(t, "frank@clinic.example")
	ctx := context.Background()
	a := h.login(t, "frank@clinic.example")
	b := h.login(t, "frank@clinic.example")
	c := h.login(t, "frank@clinic.example")

	if err := h.engine.Logout(ctx, carrierFor(a)); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := h.engine.ResolveSession(ctx, carrierFor(a)); !errors.Is(err, authcore.ErrSessionNotFound) {
		t.Fatalf("expected logged out session gone, got %v", err)
	}
	if err := h.engine.Logout(ctx, carrierFor(a)); err != nil {
		t.Fatalf("second logout should succeed, got %v", err)
	}
	if err := h.engine.Logout(ctx, session.MapCarrier{}); !errors.Is(err, authcore.ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}

	n, err := h.engine.LogoutAll(ctx, p.ID)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 revoked sessions, got %d %v", n, err)
	}
	for _, res := range []*authcore.LoginResult{b, c} {
		if _, err := h.engine.ResolveSession(ctx, carrierFor(res)); !errors.Is(err, authcore.ErrSessionNotFound) {
			t.Fatalf("expected session revoked, got %v", err)
		}
	}
	if entry := h.lastAudit(t, authcore.ActionLogoutAll); entry.Metadata["revoked"] != "2" {
		t.Fatalf("unexpected audit metadata %+v", entry.Metadata)
	}
}

func TestSessionExpiryBoundary(t *testing.T) {
	h := newHarness(t)
	h.principal(t, "gina@clinic.example")
	res := h.login(t, "gina@clinic.example")
	ctx := context.Background()

	h.clock.Advance(12*time.Hour - time.Second)
	if _, err := h.engine.ResolveSession(ctx, carrierFor(res)); err != nil {
		t.Fatalf("expected session valid one second before expiry, got %v", err)
	}
	h.clock.Advance(time.Second)
	if _, err := h.engine.ResolveSession(ctx, carrierFor(res)); !errors.Is(err, authcore.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired at expiry, got %v", err)
	}
	if _, err := h.engine.ResolveSession(ctx, carrierFor(res)); !errors.Is(err, authcore.ErrSessionNotFound) {
		t.Fatalf("expected expired session removed, got %v", err)
	}
}

func TestSignedCarrierRejectsTampering(t *testing.T) {
	cfg := testConfig()
	cfg.Session.SigningSecret = strings.Repeat("k", 32)
	h := newHarnessWithConfig(t, cfg)
	h.principal(t, "hank@clinic.example")
	res := h.login(t, "hank@clinic.example")
	ctx := context.Background()

	if _, err := h.engine.ResolveSession(ctx, carrierFor(res)); err != nil {
		t.Fatalf("ResolveSession: %v", err)
	}
	token, _, _ := strings.Cut(res.Token, ".")
	_, err := h.engine.ResolveSession(ctx, session.MapCarrier{"authcore.session_token": token + ".forged"})
	if !errors.Is(err, authcore.ErrAuthentication) || authcore.ReasonOf(err) != authcore.ReasonInvalidCarrier {
		t.Fatalf("expected invalid carrier, got %v", err)
	}
}

func TestBearerResolvesToSession(t *testing.T) {
	cfg := testConfig()
	cfg.Bearer.Enabled = true
	cfg.Bearer.SigningMethod = "hs256"
	cfg.Bearer.PrivateKey = strings.Repeat("s", 32)
	h := newHarnessWithConfig(t, cfg)
	p := h.principal(t, "ivy@clinic.example")
	res := h.login(t, "ivy@clinic.example")
	ctx := context.Background()

	if res.Bearer == "" {
		t.Fatal("expected bearer token")
	}
	id, err := h.engine.ResolveSession(ctx, session.MapCarrier{"authorization": "Bearer " + res.Bearer})
	if err != nil {
		t.Fatalf("ResolveSession: %v", err)
	}
	if id.Principal.ID != p.ID {
		t.Fatalf("unexpected principal %q", id.Principal.ID)
	}

	// The session stays the source of truth.
	if err := h.engine.Logout(ctx, carrierFor(res)); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := h.engine.ResolveSession(ctx, session.MapCarrier{"authorization": "Bearer " + res.Bearer}); !errors.Is(err, authcore.ErrSessionNotFound) {
		t.Fatalf("expected bearer of deleted session refused, got %v", err)
	}
}

func TestAuthFailureSeverityEscalates(t *testing.T) {
	h := newHarness(t)
	h.principal(t, "jack@clinic.example")
	ctx := context.Background()
	bad := authcore.LoginInput{Email: "jack@clinic.example", Password: "Wrong-Password-1!"}

	want := []authcore.Severity{
		authcore.SeverityMedium, authcore.SeverityMedium, authcore.SeverityMedium, authcore.SeverityHigh,
	}
	for i, sev := range want {
		_, _ = h.engine.Login(ctx, bad)
		if got := h.lastAudit(t, authcore.ActionLogin).Severity; got != sev {
			t.Fatalf("failure %d: expected %s, got %s", i+1, sev, got)
		}
	}
}
