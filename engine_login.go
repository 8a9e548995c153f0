package authcore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/session"
)

// LoginInput carries a password login and an optional second factor. When
// the principal has a confirmed TOTP secret exactly one of TOTPCode or
// BackupCode must be supplied.
type LoginInput struct {
	Email      string
	Password   string
	TOTPCode   string
	BackupCode string
	// Label is free-form device metadata kept on the session.
	Label string
}

// LoginResult is returned on success. Token is the carrier value to hand to
// the client; Bearer is set when JWT bearers are enabled.
type LoginResult struct {
	Principal Principal
	Session   *session.Session
	Token     string
	Bearer    string
}

// Login authenticates a principal by email and password, enforces lockout
// and the second factor, and issues a session.
func (e *Engine) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	res, principalID, err := e.login(ctx, email, in)
	if err != nil {
		switch {
		case errors.Is(err, ErrAccountLocked):
			e.metricInc(MetricLoginLocked)
		case errors.Is(err, ErrSecondFactorRequired):
			e.metricInc(MetricSecondFactorRequired)
		default:
			e.metricInc(MetricLoginFailure)
		}
		e.record(ctx, auditEvent{action: ActionLogin, actorID: principalID, err: err,
			metadata: map[string]string{"email": email}})
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	e.record(ctx, auditEvent{action: ActionLogin, actorID: principalID, sessionID: res.Session.ID})
	return res, nil
}

func (e *Engine) login(ctx context.Context, email string, in LoginInput) (*LoginResult, string, error) {
	if email == "" || in.Password == "" {
		return nil, "", ErrInvalidCredentials
	}
	if err := e.classLimit(ctx, ClassLogin, "e:"+email); err != nil {
		return nil, "", err
	}

	p, err := e.principals.PrincipalByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.burnPasswordCheck(in.Password)
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", unavailable(err)
	}
	if p.Status != PrincipalActive {
		return nil, p.ID, ErrAccountDisabled
	}

	cred, err := e.principals.Credential(ctx, p.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.burnPasswordCheck(in.Password)
			return nil, p.ID, ErrInvalidCredentials
		}
		return nil, p.ID, unavailable(err)
	}
	now := e.now()
	if err := e.checkLock(ctx, &cred, now); err != nil {
		return nil, p.ID, err
	}

	ok, err := e.hasher.Verify(in.Password, cred.PasswordHash)
	if err != nil {
		e.logger.ErrorContext(ctx, "stored password hash unreadable", "principal_id", p.ID, "error", err)
	}
	if !ok {
		return nil, p.ID, e.recordFailedPassword(ctx, p.ID, now)
	}

	if err := e.checkSecondFactor(ctx, p.ID, in); err != nil {
		return nil, p.ID, err
	}

	if cred.FailedAttempts > 0 || !cred.LockedAt.IsZero() {
		if err := e.principals.ResetFailedAttempts(ctx, p.ID); err != nil {
			e.logger.WarnContext(ctx, "failed attempt reset failed", "principal_id", p.ID, "error", err)
		}
	}
	if e.hasher.NeedsRehash(cred.PasswordHash) {
		e.upgradeHash(ctx, p.ID, in.Password, now)
	}

	sess, token, err := e.issueSession(ctx, p.ID, in.Label, now)
	if err != nil {
		return nil, p.ID, err
	}
	res := &LoginResult{Principal: p, Session: sess, Token: token}
	if e.bearer != nil {
		res.Bearer, err = e.bearer.Issue(p.ID, sess.ID, sess.ExpiresAt)
		if err != nil {
			return nil, p.ID, newError(ErrConfiguration, ReasonInternal, err)
		}
	}
	return res, p.ID, nil
}

// recordFailedPassword counts a wrong password against the lockout and
// returns the error to report: ErrAccountLocked once the count locks the
// credential, ErrInvalidCredentials otherwise.
func (e *Engine) recordFailedPassword(ctx context.Context, principalID string, now time.Time) error {
	updated, err := e.principals.RecordFailedAttempt(ctx, principalID, e.config.Lockout.MaxAttempts, now)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed attempt not recorded", "principal_id", principalID, "error", err)
		return ErrInvalidCredentials
	}
	if !updated.LockedAt.IsZero() && now.Before(updated.LockedUntil(e.config.Lockout.Window)) {
		e.logger.WarnContext(ctx, "credential locked", "principal_id", principalID, "failed_attempts", updated.FailedAttempts)
		return ErrAccountLocked
	}
	return ErrInvalidCredentials
}

// checkLock rejects a credential locked at now. An expired lock is cleared
// so that the next failure starts a fresh count.
func (e *Engine) checkLock(ctx context.Context, cred *Credential, now time.Time) error {
	if cred.LockedAt.IsZero() {
		return nil
	}
	if now.Before(cred.LockedUntil(e.config.Lockout.Window)) {
		return ErrAccountLocked
	}
	if err := e.principals.ResetFailedAttempts(ctx, cred.PrincipalID); err != nil {
		return unavailable(err)
	}
	cred.FailedAttempts = 0
	cred.LockedAt = time.Time{}
	return nil
}

func (e *Engine) checkSecondFactor(ctx context.Context, principalID string, in LoginInput) error {
	rec, err := e.factors.TOTP(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return unavailable(err)
	}
	if !rec.Confirmed {
		return nil
	}
	switch {
	case in.TOTPCode != "":
		return e.verifyCode(ctx, rec, in.TOTPCode, false)
	case in.BackupCode != "":
		return e.consumeBackupCode(ctx, principalID, in.BackupCode)
	default:
		return ErrSecondFactorRequired
	}
}

func (e *Engine) issueSession(ctx context.Context, principalID, label string, now time.Time) (*session.Session, string, error) {
	token, err := e.randomToken(e.config.Session.TokenBytes)
	if err != nil {
		return nil, "", unavailable(err)
	}
	sess := &session.Session{
		ID:          session.TokenID(token),
		PrincipalID: principalID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.config.Session.TTL),
		IP:          clientIPFromContext(ctx),
		UserAgent:   userAgentFromContext(ctx),
		Label:       label,
	}
	if err := e.sessions.Create(ctx, sess); err != nil {
		return nil, "", unavailable(err)
	}
	return sess, e.resolver.Extractor().Sign(token), nil
}

// upgradeHash replaces a legacy or under-cost hash after a successful
// login. History is not touched: the password itself is unchanged.
func (e *Engine) upgradeHash(ctx context.Context, principalID, plain string, now time.Time) {
	hash, err := e.hasher.Hash(plain)
	if err == nil {
		err = e.principals.SetPasswordHash(ctx, principalID, hash, now)
	}
	if err != nil {
		e.logger.WarnContext(ctx, "password hash upgrade failed", "principal_id", principalID, "error", err)
	}
}

// burnPasswordCheck spends one hash verification so that unknown emails
// cost the same as wrong passwords.
func (e *Engine) burnPasswordCheck(plain string) {
	e.dummyOnce.Do(func() {
		e.dummyHash, _ = e.hasher.Hash("authcore-timing-equalizer")
	})
	if e.dummyHash != "" {
		_, _ = e.hasher.Verify(plain, e.dummyHash)
	}
}

// Logout deletes the session presented by c. Logging out an unknown or
// already expired session succeeds.
func (e *Engine) Logout(ctx context.Context, c session.Carrier) error {
	id, err := e.resolver.Extractor().Extract(c)
	if err != nil {
		err = mapSessionError(err)
		e.record(ctx, auditEvent{action: ActionLogout, err: err})
		return err
	}
	sess, err := e.sessions.Find(ctx, id)
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrCorrupt):
		e.record(ctx, auditEvent{action: ActionLogout, sessionID: id})
		return nil
	case err != nil:
		err = unavailable(err)
		e.record(ctx, auditEvent{action: ActionLogout, sessionID: id, err: err})
		return err
	}
	if err := e.sessions.Delete(ctx, sess.PrincipalID, sess.ID); err != nil {
		err = unavailable(err)
		e.record(ctx, auditEvent{action: ActionLogout, actorID: sess.PrincipalID, sessionID: id, err: err})
		return err
	}
	e.metricInc(MetricLogout)
	e.record(ctx, auditEvent{action: ActionLogout, actorID: sess.PrincipalID, sessionID: id})
	return nil
}

// LogoutAll deletes every session of principalID and returns how many
// existed.
func (e *Engine) LogoutAll(ctx context.Context, principalID string) (int, error) {
	n, err := e.sessions.DeleteAllForPrincipal(ctx, principalID)
	if err != nil {
		err = unavailable(err)
		e.record(ctx, auditEvent{action: ActionLogoutAll, actorID: principalID, err: err})
		return 0, err
	}
	e.metricInc(MetricLogoutAll)
	e.record(ctx, auditEvent{action: ActionLogoutAll, actorID: principalID,
		metadata: map[string]string{"revoked": strconv.Itoa(n)}})
	return n, nil
}
