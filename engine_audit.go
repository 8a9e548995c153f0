package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/ids"
	"github.com/MrEthical07/authcore/internal/rate"
)

// Audit actions recorded outside the request pipeline. Pipeline entries use
// the Operation name.
const (
	ActionLogin               = "auth.login"
	ActionLogout              = "auth.logout"
	ActionLogoutAll           = "auth.logout_all"
	ActionPasswordValidate    = "password.validate"
	ActionPasswordChange      = "password.change"
	ActionPasswordSet         = "password.set"
	ActionTOTPSetup           = "totp.setup"
	ActionTOTPConfirm         = "totp.confirm"
	ActionTOTPVerify          = "totp.verify"
	ActionTOTPDisable         = "totp.disable"
	ActionBackupCodesGenerate = "backup_codes.generate"
	ActionBackupCodeConsume   = "backup_codes.consume"
)

const (
	SeverityInfo   = audit.SeverityInfo
	SeverityLow    = audit.SeverityLow
	SeverityMedium = audit.SeverityMedium
	SeverityHigh   = audit.SeverityHigh
)

const (
	authFailureClass = "auth_failure"
	sessionIDPrefix  = 12
)

type auditEvent struct {
	action    string
	actorID   string
	orgID     string
	stage     string
	sessionID string
	err       error
	metadata  map[string]string
}

// record writes one audit entry for ev. It never fails the caller.
func (e *Engine) record(ctx context.Context, ev auditEvent) {
	entry := audit.Entry{
		ID:             ids.ULID(e.clock.Now()),
		Timestamp:      e.now(),
		Action:         ev.action,
		Outcome:        audit.OutcomeSuccess,
		Stage:          ev.stage,
		ActorID:        ev.actorID,
		OrganizationID: ev.orgID,
		RequestID:      RequestIDFromContext(ctx),
		SessionID:      truncate(ev.sessionID, sessionIDPrefix),
		IP:             clientIPFromContext(ctx),
		UserAgent:      userAgentFromContext(ctx),
		Metadata:       ev.metadata,
	}
	if ev.err != nil {
		entry.Outcome = audit.OutcomeFailure
		entry.Reason = auditReason(ev.err)
	}
	entry.Severity = e.severity(ctx, ev.err, e.actorKey(ctx, ev.actorID))
	e.ledger.Record(ctx, entry)
}

// severity grades an outcome. Authentication failures escalate to high once
// the actor exceeds ElevateAfter failures inside ElevateWindow.
func (e *Engine) severity(ctx context.Context, err error, actor string) audit.Severity {
	switch {
	case err == nil:
		return audit.SeverityInfo
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return audit.SeverityLow
	case errors.Is(err, ErrValidation):
		return audit.SeverityLow
	case errors.Is(err, ErrAuthorization), errors.Is(err, ErrRateLimited):
		return audit.SeverityMedium
	case errors.Is(err, ErrAuthentication):
		n, cerr := e.limiter.Count(context.WithoutCancel(ctx), rate.Key(authFailureClass, actor), e.config.Audit.ElevateWindow)
		if cerr != nil {
			e.logger.WarnContext(ctx, "auth failure counter unavailable", "error", cerr)
			return audit.SeverityMedium
		}
		if n > e.config.Audit.ElevateAfter {
			return audit.SeverityHigh
		}
		return audit.SeverityMedium
	default:
		return audit.SeverityHigh
	}
}

// actorKey identifies the actor for per-actor counters: the principal when
// known, else the client IP.
func (e *Engine) actorKey(ctx context.Context, principalID string) string {
	if principalID != "" {
		return "p:" + principalID
	}
	if ip := clientIPFromContext(ctx); ip != "" {
		return "ip:" + ip
	}
	return "anonymous"
}

func auditReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCancelled
	}
	if r := ReasonOf(err); r != "" {
		return r
	}
	return ReasonInternal
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
