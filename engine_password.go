package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/password"
)

// CheckPassword evaluates every policy rule, reuse included, without hashing
// or recording anything. Use it for interactive strength feedback.
func (e *Engine) CheckPassword(ctx context.Context, principalID, candidate string) password.Reason {
	for _, check := range []func(string) password.Reason{
		e.policy.CheckLength, e.policy.CheckComposition, e.policy.CheckForbidden,
	} {
		if r := check(candidate); r != password.ReasonNone {
			return r
		}
	}
	r, err := e.policy.CheckReuse(ctx, principalID, candidate)
	if err != nil {
		return password.ReasonNone
	}
	return r
}

// ValidatePassword runs the policy and, on acceptance, hashes the candidate
// and appends it to the principal's history. Callers persist Result.Hash
// themselves; ChangePassword and SetPassword do both in one step. A rejected
// candidate yields an ErrValidation error whose reason is the failed rule.
func (e *Engine) ValidatePassword(ctx context.Context, principalID, candidate string) (password.Result, error) {
	res, err := e.validate(ctx, principalID, candidate)
	e.record(ctx, auditEvent{action: ActionPasswordValidate, actorID: principalID, err: err})
	return res, err
}

func (e *Engine) validate(ctx context.Context, principalID, candidate string) (password.Result, error) {
	res, err := e.policy.Validate(ctx, principalID, candidate)
	if err != nil {
		return password.Result{}, newError(ErrUnavailable, ReasonInternal, err)
	}
	if res.HistoryUnavailable {
		e.metricInc(MetricPasswordHistoryUnavailable)
	}
	if !res.Accepted {
		e.metricInc(MetricPasswordRejected)
		return res, newError(ErrValidation, string(res.Reason), nil)
	}
	return res, nil
}

// ChangePassword replaces the password after verifying the current one and
// revokes every session of the principal.
func (e *Engine) ChangePassword(ctx context.Context, principalID, current, next string) error {
	err := e.changePassword(ctx, principalID, current, next)
	e.record(ctx, auditEvent{action: ActionPasswordChange, actorID: principalID, err: err})
	if err == nil {
		e.metricInc(MetricPasswordChangeSuccess)
	}
	return err
}

func (e *Engine) changePassword(ctx context.Context, principalID, current, next string) error {
	if err := e.classLimit(ctx, ClassPasswordChange, "p:"+principalID); err != nil {
		return err
	}
	if err := e.verifyPassword(ctx, principalID, current); err != nil {
		return err
	}
	return e.storePassword(ctx, principalID, next)
}

// SetPassword installs a password without the current one, for enrollment
// and completed reset flows. The policy still applies and sessions are
// revoked.
func (e *Engine) SetPassword(ctx context.Context, principalID, next string) error {
	if _, err := e.principals.PrincipalByID(ctx, principalID); err != nil {
		if errors.Is(err, ErrNotFound) {
			err = newError(ErrValidation, ReasonUnknownPrincipal, err)
		} else {
			err = unavailable(err)
		}
		e.record(ctx, auditEvent{action: ActionPasswordSet, actorID: principalID, err: err})
		return err
	}
	err := e.storePassword(ctx, principalID, next)
	e.record(ctx, auditEvent{action: ActionPasswordSet, actorID: principalID, err: err})
	return err
}

func (e *Engine) storePassword(ctx context.Context, principalID, next string) error {
	res, err := e.validate(ctx, principalID, next)
	if err != nil {
		return err
	}
	if err := e.principals.SetPasswordHash(ctx, principalID, res.Hash, e.now()); err != nil {
		return unavailable(err)
	}
	e.revokeAll(ctx, principalID, "password_changed")
	return nil
}

// verifyPassword re-checks the current password of a signed-in principal.
// It shares the login lockout: a locked credential is rejected before the
// hash is compared, and a wrong password counts as a failed attempt.
func (e *Engine) verifyPassword(ctx context.Context, principalID, plain string) error {
	cred, err := e.principals.Credential(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCredentials
		}
		return unavailable(err)
	}
	now := e.now()
	if err := e.checkLock(ctx, &cred, now); err != nil {
		return err
	}
	ok, err := e.hasher.Verify(plain, cred.PasswordHash)
	if err != nil {
		e.logger.ErrorContext(ctx, "stored password hash unreadable", "principal_id", principalID, "error", err)
	}
	if !ok {
		return e.recordFailedPassword(ctx, principalID, now)
	}
	if cred.FailedAttempts > 0 {
		if err := e.principals.ResetFailedAttempts(ctx, principalID); err != nil {
			e.logger.WarnContext(ctx, "failed attempt reset failed", "principal_id", principalID, "error", err)
		}
	}
	return nil
}
