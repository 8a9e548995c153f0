package authcore

import (
	"context"
	"io"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/rate"
)

// PrincipalStatus is the lifecycle state of a principal.
type PrincipalStatus string

const (
	PrincipalActive   PrincipalStatus = "active"
	PrincipalDisabled PrincipalStatus = "disabled"
)

// Principal is an authenticated identity.
type Principal struct {
	ID        string
	Email     string
	Status    PrincipalStatus
	CreatedAt time.Time
}

// Credential is the password state of a principal. A LockedAt within the
// configured lock window blocks authentication regardless of the password.
type Credential struct {
	PrincipalID    string
	PasswordHash   string
	FailedAttempts int
	LockedAt       time.Time
	UpdatedAt      time.Time
}

// LockedUntil returns the end of the lock for window, or zero when unlocked.
func (c Credential) LockedUntil(window time.Duration) time.Time {
	if c.LockedAt.IsZero() {
		return time.Time{}
	}
	return c.LockedAt.Add(window)
}

// TOTPRecord is the second-factor secret of a principal. A record is pending
// until a valid code confirms it. LastCounter is the most recent accepted time
// step; codes at or before it are replays.
type TOTPRecord struct {
	PrincipalID string
	Secret      string
	Confirmed   bool
	LastCounter int64
	CreatedAt   time.Time
}

// BackupCodeRecord is one single-use recovery code, stored hashed.
type BackupCodeRecord struct {
	Hash      string
	CreatedAt time.Time
	UsedAt    time.Time
}

// Used reports whether the code has been consumed.
func (b BackupCodeRecord) Used() bool { return !b.UsedAt.IsZero() }

// PrincipalStore reads principals and mutates their password credential.
// Lookups return ErrNotFound for unknown principals.
type PrincipalStore interface {
	PrincipalByID(ctx context.Context, id string) (Principal, error)
	PrincipalByEmail(ctx context.Context, email string) (Principal, error)
	Credential(ctx context.Context, principalID string) (Credential, error)
	SetPasswordHash(ctx context.Context, principalID, hash string, at time.Time) error
	// RecordFailedAttempt increments the failure counter and, when it reaches
	// lockAfter, stamps LockedAt with at. Both happen atomically.
	RecordFailedAttempt(ctx context.Context, principalID string, lockAfter int, at time.Time) (Credential, error)
	ResetFailedAttempts(ctx context.Context, principalID string) error
}

// FactorStore keeps TOTP secrets and backup codes. TOTP returns ErrNotFound
// when the principal never enrolled.
type FactorStore interface {
	TOTP(ctx context.Context, principalID string) (TOTPRecord, error)
	SaveTOTP(ctx context.Context, rec TOTPRecord) error
	// AdvanceTOTPCounter records counter as used when it is greater than the
	// stored LastCounter and reports whether it did. When confirm is set the
	// record is confirmed in the same step.
	AdvanceTOTPCounter(ctx context.Context, principalID string, counter int64, confirm bool) (bool, error)
	DeleteTOTP(ctx context.Context, principalID string) error
	ReplaceBackupCodes(ctx context.Context, principalID string, codes []BackupCodeRecord) error
	// ConsumeBackupCode marks the unused code with hash as used and reports
	// whether such a code existed. Exactly one concurrent caller wins.
	ConsumeBackupCode(ctx context.Context, principalID, hash string, at time.Time) (bool, error)
	CountBackupCodes(ctx context.Context, principalID string) (int, error)
	DeleteBackupCodes(ctx context.Context, principalID string) error
}

// CounterStore is the atomic fixed-window counter used for rate limits and
// audit severity escalation.
type CounterStore = rate.CounterStore

// AuditStore is the append-only audit table.
type AuditStore = audit.Store

// AuditEntry is one audit record.
type AuditEntry = audit.Entry

// AuditSink receives entries after they are stored.
type AuditSink = audit.Sink

// Severity grades audit entries.
type Severity = audit.Severity

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// RandomSource supplies cryptographically secure random bytes.
type RandomSource = io.Reader
