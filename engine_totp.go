package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/totp"
)

// TOTPSetup is returned by SetupTOTP. URI is the otpauth:// provisioning
// URI for authenticator apps.
type TOTPSetup struct {
	Secret string
	URI    string
}

// SetupTOTP creates a pending secret for principalID, replacing any earlier
// pending one. A confirmed secret must be disabled first.
func (e *Engine) SetupTOTP(ctx context.Context, principalID string) (TOTPSetup, error) {
	setup, err := e.setupTOTP(ctx, principalID)
	e.record(ctx, auditEvent{action: ActionTOTPSetup, actorID: principalID, err: err})
	return setup, err
}

func (e *Engine) setupTOTP(ctx context.Context, principalID string) (TOTPSetup, error) {
	p, err := e.principals.PrincipalByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TOTPSetup{}, newError(ErrValidation, ReasonUnknownPrincipal, nil)
		}
		return TOTPSetup{}, unavailable(err)
	}
	existing, err := e.factors.TOTP(ctx, principalID)
	switch {
	case err == nil && existing.Confirmed:
		return TOTPSetup{}, ErrTOTPAlreadyConfirmed
	case err != nil && !errors.Is(err, ErrNotFound):
		return TOTPSetup{}, unavailable(err)
	}

	secret, err := totp.GenerateSecret(e.random)
	if err != nil {
		return TOTPSetup{}, unavailable(err)
	}
	rec := TOTPRecord{PrincipalID: principalID, Secret: secret, CreatedAt: e.now()}
	if err := e.factors.SaveTOTP(ctx, rec); err != nil {
		return TOTPSetup{}, unavailable(err)
	}
	return TOTPSetup{
		Secret: secret,
		URI:    totp.ProvisionURI(e.config.Issuer, p.Email, secret, e.totpParams),
	}, nil
}

// ConfirmTOTP completes enrollment with a valid current code.
func (e *Engine) ConfirmTOTP(ctx context.Context, principalID, code string) error {
	err := e.confirmTOTP(ctx, principalID, code)
	e.record(ctx, auditEvent{action: ActionTOTPConfirm, actorID: principalID, err: err})
	return err
}

func (e *Engine) confirmTOTP(ctx context.Context, principalID, code string) error {
	rec, err := e.loadTOTP(ctx, principalID)
	if err != nil {
		return err
	}
	if rec.Confirmed {
		return ErrTOTPAlreadyConfirmed
	}
	return e.verifyCode(ctx, rec, code, true)
}

// VerifyTOTP checks a code against the confirmed secret. Each time step is
// accepted at most once.
func (e *Engine) VerifyTOTP(ctx context.Context, principalID, code string) error {
	err := e.verifyTOTP(ctx, principalID, code)
	e.record(ctx, auditEvent{action: ActionTOTPVerify, actorID: principalID, err: err})
	return err
}

func (e *Engine) verifyTOTP(ctx context.Context, principalID, code string) error {
	rec, err := e.loadTOTP(ctx, principalID)
	if err != nil {
		return err
	}
	if !rec.Confirmed {
		return ErrTOTPNotConfirmed
	}
	return e.verifyCode(ctx, rec, code, false)
}

// DisableTOTP removes the secret and all backup codes after checking the
// current password, then revokes every session.
func (e *Engine) DisableTOTP(ctx context.Context, principalID, currentPassword string) error {
	err := e.disableTOTP(ctx, principalID, currentPassword)
	e.record(ctx, auditEvent{action: ActionTOTPDisable, actorID: principalID, err: err})
	return err
}

func (e *Engine) disableTOTP(ctx context.Context, principalID, currentPassword string) error {
	if err := e.classLimit(ctx, ClassTOTPDisable, "p:"+principalID); err != nil {
		return err
	}
	if err := e.verifyPassword(ctx, principalID, currentPassword); err != nil {
		return err
	}
	if _, err := e.loadTOTP(ctx, principalID); err != nil {
		return err
	}
	if err := e.factors.DeleteTOTP(ctx, principalID); err != nil {
		return unavailable(err)
	}
	if err := e.factors.DeleteBackupCodes(ctx, principalID); err != nil {
		e.logger.ErrorContext(ctx, "backup code removal failed after totp disable",
			"principal_id", principalID, "error", err)
	}
	e.revokeAll(ctx, principalID, "totp_disabled")
	return nil
}

func (e *Engine) loadTOTP(ctx context.Context, principalID string) (TOTPRecord, error) {
	rec, err := e.factors.TOTP(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TOTPRecord{}, ErrTOTPNotConfigured
		}
		return TOTPRecord{}, unavailable(err)
	}
	return rec, nil
}

// verifyCode throttles, verifies and burns the matched time step. confirm
// marks a pending record confirmed in the same store call.
func (e *Engine) verifyCode(ctx context.Context, rec TOTPRecord, code string, confirm bool) error {
	if err := e.classLimit(ctx, ClassTOTPVerify, "p:"+rec.PrincipalID); err != nil {
		return err
	}
	ok, counter, err := totp.Verify(rec.Secret, code, e.clock.Now(), e.totpParams)
	if err != nil {
		e.logger.ErrorContext(ctx, "stored totp secret unusable", "principal_id", rec.PrincipalID, "error", err)
		return newError(ErrUnavailable, ReasonInternal, err)
	}
	if !ok {
		e.metricInc(MetricTOTPFailure)
		return ErrTOTPInvalid
	}
	advanced, err := e.factors.AdvanceTOTPCounter(ctx, rec.PrincipalID, counter, confirm)
	if err != nil {
		return unavailable(err)
	}
	if !advanced {
		e.metricInc(MetricTOTPReplay)
		return ErrTOTPReplay
	}
	e.metricInc(MetricTOTPSuccess)
	return nil
}
