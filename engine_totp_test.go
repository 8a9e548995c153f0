package authcore_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
)

func TestTOTPEnrollConfirmVerify(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.principal(t, "nurse@clinic.example")

	setup, err := h.engine.SetupTOTP(ctx, p.ID)
	if err != nil {
		t.Fatalf("SetupTOTP: %v", err)
	}
	if len(setup.Secret) != 32 {
		t.Fatalf("expected 32 character secret, got %q", setup.Secret)
	}
	if !strings.HasPrefix(setup.URI, "otpauth://totp/") || !strings.Contains(setup.URI, "secret="+setup.Secret) {
		t.Fatalf("unexpected provisioning uri %q", setup.URI)
	}

	if err := h.engine.VerifyTOTP(ctx, p.ID, h.code(t, setup.Secret)); !errors.Is(err, authcore.ErrTOTPNotConfirmed) {
		t.Fatalf("expected ErrTOTPNotConfirmed before confirm, got %v", err)
	}

	h.clock.Advance(30 * time.Second)
	if err := h.engine.ConfirmTOTP(ctx, p.ID, h.code(t, setup.Secret)); err != nil {
		t.Fatalf("ConfirmTOTP: %v", err)
	}
	if _, err := h.engine.SetupTOTP(ctx, p.ID); !errors.Is(err, authcore.ErrTOTPAlreadyConfirmed) {
		t.Fatalf("expected ErrTOTPAlreadyConfirmed, got %v", err)
	}

	h.clock.Advance(30 * time.Second)
	if err := h.engine.VerifyTOTP(ctx, p.ID, h.code(t, setup.Secret)); err != nil {
		t.Fatalf("VerifyTOTP: %v", err)
	}
	if got := h.engine.MetricsSnapshot().Counters[authcore.MetricTOTPSuccess]; got != 2 {
		t.Fatalf("expected 2 totp successes, got %d", got)
	}
}

func TestTOTPReplayRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.principal(t, "doc@clinic.example")
	secret := h.enrollTOTP(t, p.ID)

	code := h.code(t, secret)
	if err := h.engine.VerifyTOTP(ctx, p.ID, code); err != nil {
		t.Fatalf("first use: %v", err)
	}
	err := h.engine.VerifyTOTP(ctx, p.ID, code)
	if !errors.Is(err, authcore.ErrTOTPReplay) || !errors.Is(err, authcore.ErrAuthentication) {
		t.Fatalf("expected replay rejection, got %v", err)
	}

	// A code from the previous step is inside the skew window but older
	// than the last accepted step.
	h.clock.Advance(-30 * time.Second)
	old := h.code(t, secret)
	h.clock.Advance(30 * time.Second)
	if err := h.engine.VerifyTOTP(ctx, p.ID, old); !errors.Is(err, authcore.ErrTOTPReplay) {
		t.Fatalf("expected older step to be a replay, got %v", err)
	}

	entry := h.lastAudit(t, authcore.ActionTOTPVerify)
	if entry.Outcome != "failure" || entry.Reason != authcore.ReasonTOTPReplay {
		t.Fatalf("unexpected audit entry %+v", entry)
	}
}

func TestTOTPInvalidCodeAndRateLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.principal(t, "lab@clinic.example")
	h.enrollTOTP(t, p.ID)

	// enrollTOTP used one of the five attempts in this window.
	for i := 0; i < 4; i++ {
		if err := h.engine.VerifyTOTP(ctx, p.ID, "000000"); !errors.Is(err, authcore.ErrTOTPInvalid) {
			t.Fatalf("attempt %d: expected ErrTOTPInvalid, got %v", i+1, err)
		}
	}
	err := h.engine.VerifyTOTP(ctx, p.ID, "000000")
	if !errors.Is(err, authcore.ErrRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if got := authcore.ReasonOf(err); got != authcore.ReasonRateLimited {
		t.Fatalf("unexpected reason %q", got)
	}
}

func TestTOTPVerifyWithoutEnrollment(t *testing.T) {
	h := newHarness(t)
	p := h.principal(t, "new@clinic.example")

	err := h.engine.VerifyTOTP(context.Background(), p.ID, "123456")
	if !errors.Is(err, authcore.ErrTOTPNotConfigured) || !errors.Is(err, authcore.ErrValidation) {
		t.Fatalf("expected ErrTOTPNotConfigured, got %v", err)
	}
}

func TestTOTPDisableRequiresPassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.principal(t, "admin@clinic.example")
	secret := h.enrollTOTP(t, p.ID)
	if _, err := h.engine.GenerateBackupCodes(ctx, p.ID); err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}

	err := h.engine.DisableTOTP(ctx, p.ID, "Wrong-Password-1!")
	if !errors.Is(err, authcore.ErrAuthentication) {
		t.Fatalf("expected authentication failure, got %v", err)
	}
	entry := h.lastAudit(t, authcore.ActionTOTPDisable)
	if entry.Outcome != "failure" || entry.ActorID != p.ID || entry.Reason != authcore.ReasonInvalidCredentials {
		t.Fatalf("unexpected audit entry %+v", entry)
	}

	if err := h.engine.VerifyTOTP(ctx, p.ID, h.code(t, secret)); err != nil {
		t.Fatalf("expected totp to stay enrolled, got %v", err)
	}
	if n, _ := h.engine.BackupCodesRemaining(ctx, p.ID); n != 8 {
		t.Fatalf("expected backup codes kept, got %d", n)
	}
}

func TestTOTPDisableRemovesFactorsAndSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.principal(t, "ward@clinic.example")
	secret := h.enrollTOTP(t, p.ID)
	if _, err := h.engine.GenerateBackupCodes(ctx, p.ID); err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}
	res, err := h.engine.Login(ctx, authcore.LoginInput{
		Email: "ward@clinic.example", Password: testPassword, TOTPCode: h.code(t, secret),
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := h.engine.DisableTOTP(ctx, p.ID, testPassword); err != nil {
		t.Fatalf("DisableTOTP: %v", err)
	}
	if _, err := h.engine.ResolveSession(ctx, carrierFor(res)); !errors.Is(err, authcore.ErrSessionNotFound) {
		t.Fatalf("expected session revoked, got %v", err)
	}
	if n, err := h.engine.BackupCodesRemaining(ctx, p.ID); err != nil || n != 0 {
		t.Fatalf("expected backup codes removed, got %d %v", n, err)
	}
	if err := h.engine.VerifyTOTP(ctx, p.ID, h.code(t, secret)); !errors.Is(err, authcore.ErrTOTPNotConfigured) {
		t.Fatalf("expected totp removed, got %v", err)
	}

	// Login no longer asks for a second factor.
	h.login(t, "ward@clinic.example")
}

func TestTOTPDisableWrongPasswordsLockAndThrottle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.principal(t, "guess@clinic.example")
	h.enrollTOTP(t, p.ID)

	for i := 1; i <= 4; i++ {
		if err := h.engine.DisableTOTP(ctx, p.ID, fmt.Sprintf("Guess-Number-%d!", i)); !errors.Is(err, authcore.ErrInvalidCredentials) {
			t.Fatalf("guess %d: expected invalid credentials, got %v", i, err)
		}
	}
	if err := h.engine.DisableTOTP(ctx, p.ID, "Guess-Number-5!"); !errors.Is(err, authcore.ErrAccountLocked) {
		t.Fatalf("expected fifth wrong password to lock, got %v", err)
	}
	if err := h.engine.DisableTOTP(ctx, p.ID, testPassword); !errors.Is(err, authcore.ErrRateLimited) {
		t.Fatalf("expected disable budget exhausted, got %v", err)
	}
	if _, err := h.engine.Login(ctx, authcore.LoginInput{Email: "guess@clinic.example", Password: testPassword}); !errors.Is(err, authcore.ErrAccountLocked) {
		t.Fatalf("expected login locked by disable guesses, got %v", err)
	}

	h.clock.Advance(time.Hour)
	if err := h.engine.DisableTOTP(ctx, p.ID, testPassword); err != nil {
		t.Fatalf("expected disable after lock and window expire, got %v", err)
	}
}
