package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/tenant"
)

const uniqueViolation = "23505"

// Store keeps principals, credentials, second factors, password history,
// memberships and the audit log in PostgreSQL. Sessions and rate-limit
// counters live in Redis.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var (
	_ authcore.PrincipalStore = (*Store)(nil)
	_ authcore.FactorStore    = (*Store)(nil)
	_ authcore.AuditStore     = (*Store)(nil)
	_ tenant.MembershipStore  = (*Store)(nil)
	_ password.HistoryStore   = (*Store)(nil)
)

// Open connects through the pgx stdlib driver and applies pool defaults.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return New(db, logger), nil
}

// New wraps an existing handle.
func New(db *sqlx.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

func (s *Store) Close() error { return s.db.Close() }

// Ping reports reachability and round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := s.db.PingContext(ctx)
	return time.Since(start), err
}

// -------- PRINCIPALS --------

type principalRow struct {
	ID        string    `db:"id"`
	Email     string    `db:"email"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
}

func (r principalRow) principal() authcore.Principal {
	return authcore.Principal{
		ID:        r.ID,
		Email:     r.Email,
		Status:    authcore.PrincipalStatus(r.Status),
		CreatedAt: r.CreatedAt,
	}
}

// CreatePrincipal inserts an active principal with an empty credential.
func (s *Store) CreatePrincipal(ctx context.Context, email string, at time.Time) (authcore.Principal, error) {
	p := authcore.Principal{
		ID:        uuid.NewString(),
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Status:    authcore.PrincipalActive,
		CreatedAt: at,
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return authcore.Principal{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO principals (id, email, status, created_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Email, string(p.Status), p.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return authcore.Principal{}, authcore.ErrConflict
		}
		return authcore.Principal{}, fmt.Errorf("postgres: insert principal: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credentials (principal_id, updated_at) VALUES ($1, $2)`, p.ID, at); err != nil {
		return authcore.Principal{}, fmt.Errorf("postgres: insert credential: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return authcore.Principal{}, err
	}
	return p, nil
}

// SetStatus changes the lifecycle state of a principal.
func (s *Store) SetStatus(ctx context.Context, principalID string, status authcore.PrincipalStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE principals SET status = $2 WHERE id = $1`, principalID, string(status))
	if err != nil {
		return fmt.Errorf("postgres: set status: %w", err)
	}
	return requireRow(res)
}

func (s *Store) PrincipalByID(ctx context.Context, id string) (authcore.Principal, error) {
	var row principalRow
	err := s.db.GetContext(ctx, &row, `SELECT id, email, status, created_at FROM principals WHERE id = $1`, id)
	if err != nil {
		return authcore.Principal{}, notFound(err, "principal by id")
	}
	return row.principal(), nil
}

func (s *Store) PrincipalByEmail(ctx context.Context, email string) (authcore.Principal, error) {
	var row principalRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, email, status, created_at FROM principals WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return authcore.Principal{}, notFound(err, "principal by email")
	}
	return row.principal(), nil
}

// -------- CREDENTIALS --------

type credentialRow struct {
	PrincipalID    string       `db:"principal_id"`
	PasswordHash   string       `db:"password_hash"`
	FailedAttempts int          `db:"failed_attempts"`
	LockedAt       sql.NullTime `db:"locked_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
}

func (r credentialRow) credential() authcore.Credential {
	c := authcore.Credential{
		PrincipalID:    r.PrincipalID,
		PasswordHash:   r.PasswordHash,
		FailedAttempts: r.FailedAttempts,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.LockedAt.Valid {
		c.LockedAt = r.LockedAt.Time
	}
	return c
}

const credentialColumns = `principal_id, password_hash, failed_attempts, locked_at, updated_at`

// Credential returns ErrNotFound when no password has been set.
func (s *Store) Credential(ctx context.Context, principalID string) (authcore.Credential, error) {
	var row credentialRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+credentialColumns+` FROM credentials WHERE principal_id = $1 AND password_hash <> ''`,
		principalID)
	if err != nil {
		return authcore.Credential{}, notFound(err, "credential")
	}
	return row.credential(), nil
}

func (s *Store) SetPasswordHash(ctx context.Context, principalID, hash string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (principal_id, password_hash, updated_at)
		SELECT id, $2, $3 FROM principals WHERE id = $1
		ON CONFLICT (principal_id) DO UPDATE
		SET password_hash = excluded.password_hash, updated_at = excluded.updated_at`,
		principalID, hash, at)
	if err != nil {
		return fmt.Errorf("postgres: set password hash: %w", err)
	}
	return requireRow(res)
}

// RecordFailedAttempt increments and conditionally locks in one statement.
func (s *Store) RecordFailedAttempt(ctx context.Context, principalID string, lockAfter int, at time.Time) (authcore.Credential, error) {
	var row credentialRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE credentials
		SET failed_attempts = failed_attempts + 1,
		    locked_at = CASE
		        WHEN locked_at IS NULL AND failed_attempts + 1 >= $2 THEN $3
		        ELSE locked_at
		    END
		WHERE principal_id = $1
		RETURNING `+credentialColumns,
		principalID, lockAfter, at)
	if err != nil {
		return authcore.Credential{}, notFound(err, "record failed attempt")
	}
	return row.credential(), nil
}

func (s *Store) ResetFailedAttempts(ctx context.Context, principalID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET failed_attempts = 0, locked_at = NULL WHERE principal_id = $1`, principalID)
	if err != nil {
		return fmt.Errorf("postgres: reset failed attempts: %w", err)
	}
	return requireRow(res)
}

// -------- SECOND FACTORS --------

type totpRow struct {
	PrincipalID string    `db:"principal_id"`
	Secret      string    `db:"secret"`
	Confirmed   bool      `db:"confirmed"`
	LastCounter int64     `db:"last_counter"`
	CreatedAt   time.Time `db:"created_at"`
}

func (s *Store) TOTP(ctx context.Context, principalID string) (authcore.TOTPRecord, error) {
	var row totpRow
	err := s.db.GetContext(ctx, &row,
		`SELECT principal_id, secret, confirmed, last_counter, created_at FROM totp_secrets WHERE principal_id = $1`,
		principalID)
	if err != nil {
		return authcore.TOTPRecord{}, notFound(err, "totp")
	}
	return authcore.TOTPRecord(row), nil
}

// SaveTOTP stores a pending secret, replacing any earlier record.
func (s *Store) SaveTOTP(ctx context.Context, rec authcore.TOTPRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO totp_secrets (principal_id, secret, confirmed, last_counter, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (principal_id) DO UPDATE
		SET secret = excluded.secret, confirmed = excluded.confirmed,
		    last_counter = excluded.last_counter, created_at = excluded.created_at`,
		rec.PrincipalID, rec.Secret, rec.Confirmed, rec.LastCounter, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save totp: %w", err)
	}
	return nil
}

// AdvanceTOTPCounter is a conditional update; the row lock serialises
// concurrent verifications of the same step.
func (s *Store) AdvanceTOTPCounter(ctx context.Context, principalID string, counter int64, confirm bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE totp_secrets
		SET last_counter = $2, confirmed = confirmed OR $3
		WHERE principal_id = $1 AND last_counter < $2`,
		principalID, counter, confirm)
	if err != nil {
		return false, fmt.Errorf("postgres: advance totp counter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) DeleteTOTP(ctx context.Context, principalID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM totp_secrets WHERE principal_id = $1`, principalID); err != nil {
		return fmt.Errorf("postgres: delete totp: %w", err)
	}
	return nil
}

type backupCodeRow struct {
	PrincipalID string    `db:"principal_id"`
	CodeHash    string    `db:"code_hash"`
	CreatedAt   time.Time `db:"created_at"`
}

// ReplaceBackupCodes swaps the whole set in one transaction.
func (s *Store) ReplaceBackupCodes(ctx context.Context, principalID string, codes []authcore.BackupCodeRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM backup_codes WHERE principal_id = $1`, principalID); err != nil {
		return fmt.Errorf("postgres: clear backup codes: %w", err)
	}
	if len(codes) > 0 {
		rows := make([]backupCodeRow, 0, len(codes))
		for _, c := range codes {
			rows = append(rows, backupCodeRow{PrincipalID: principalID, CodeHash: c.Hash, CreatedAt: c.CreatedAt})
		}
		if _, err := tx.NamedExecContext(ctx,
			`INSERT INTO backup_codes (principal_id, code_hash, created_at) VALUES (:principal_id, :code_hash, :created_at)`,
			rows); err != nil {
			return fmt.Errorf("postgres: insert backup codes: %w", err)
		}
	}
	return tx.Commit()
}

// ConsumeBackupCode marks the code used only if it is still unused, so
// exactly one concurrent caller sees a row affected.
func (s *Store) ConsumeBackupCode(ctx context.Context, principalID, hash string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE backup_codes SET used_at = $3
		WHERE principal_id = $1 AND code_hash = $2 AND used_at IS NULL`,
		principalID, hash, at)
	if err != nil {
		return false, fmt.Errorf("postgres: consume backup code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) CountBackupCodes(ctx context.Context, principalID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT count(*) FROM backup_codes WHERE principal_id = $1 AND used_at IS NULL`, principalID)
	if err != nil {
		return 0, fmt.Errorf("postgres: count backup codes: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteBackupCodes(ctx context.Context, principalID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM backup_codes WHERE principal_id = $1`, principalID); err != nil {
		return fmt.Errorf("postgres: delete backup codes: %w", err)
	}
	return nil
}

// -------- PASSWORD HISTORY --------

type historyRow struct {
	Hash      string    `db:"hash"`
	CreatedAt time.Time `db:"created_at"`
}

// RecentPasswordHashes returns up to limit entries, newest first.
func (s *Store) RecentPasswordHashes(ctx context.Context, principalID string, limit int) ([]password.HistoryEntry, error) {
	var rows []historyRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT hash, created_at FROM password_history
		WHERE principal_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, principalID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: password history: %w", err)
	}
	out := make([]password.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, password.HistoryEntry{Hash: r.Hash, CreatedAt: r.CreatedAt})
	}
	return out, nil
}

// AppendPasswordHash inserts and prunes under a per-principal advisory lock
// so that concurrent changes cannot leave more than keep entries.
func (s *Store) AppendPasswordHash(ctx context.Context, principalID string, entry password.HistoryEntry, keep int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, principalID); err != nil {
		return fmt.Errorf("postgres: history lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO password_history (principal_id, hash, created_at) VALUES ($1, $2, $3)`,
		principalID, entry.Hash, entry.CreatedAt); err != nil {
		return fmt.Errorf("postgres: history insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM password_history
		WHERE principal_id = $1 AND id NOT IN (
			SELECT id FROM password_history
			WHERE principal_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		)`, principalID, keep); err != nil {
		return fmt.Errorf("postgres: history prune: %w", err)
	}
	return tx.Commit()
}

// -------- MEMBERSHIPS --------

type membershipRow struct {
	PrincipalID    string    `db:"principal_id"`
	OrganizationID string    `db:"organization_id"`
	Role           string    `db:"role"`
	Status         string    `db:"status"`
	JoinedAt       time.Time `db:"joined_at"`
}

// AddMembership inserts or replaces the membership of a principal in an
// organization.
func (s *Store) AddMembership(ctx context.Context, m tenant.Membership) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO memberships (principal_id, organization_id, role, status, joined_at)
		VALUES (:principal_id, :organization_id, :role, :status, :joined_at)
		ON CONFLICT (principal_id, organization_id) DO UPDATE
		SET role = excluded.role, status = excluded.status`,
		membershipRow{
			PrincipalID:    m.PrincipalID,
			OrganizationID: m.OrganizationID,
			Role:           m.Role,
			Status:         string(m.Status),
			JoinedAt:       m.JoinedAt,
		})
	if err != nil {
		return fmt.Errorf("postgres: add membership: %w", err)
	}
	return nil
}

func (s *Store) MembershipsForPrincipal(ctx context.Context, principalID string) ([]tenant.Membership, error) {
	var rows []membershipRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT principal_id, organization_id, role, status, joined_at
		FROM memberships WHERE principal_id = $1
		ORDER BY joined_at ASC`, principalID)
	if err != nil {
		return nil, fmt.Errorf("postgres: memberships: %w", err)
	}
	out := make([]tenant.Membership, 0, len(rows))
	for _, r := range rows {
		out = append(out, tenant.Membership{
			PrincipalID:    r.PrincipalID,
			OrganizationID: r.OrganizationID,
			Role:           r.Role,
			Status:         tenant.Status(r.Status),
			JoinedAt:       r.JoinedAt,
		})
	}
	return out, nil
}

// -------- AUDIT --------

// AppendAudit inserts one row. The table rejects updates and deletes.
func (s *Store) AppendAudit(ctx context.Context, e authcore.AuditEntry) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("postgres: audit metadata: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, occurred_at, action, outcome, reason, severity, stage,
			actor_id, organization_id, request_id, session_id, ip, user_agent, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.Timestamp, e.Action, e.Outcome, e.Reason, string(e.Severity), e.Stage,
		e.ActorID, sql.NullString{String: e.OrganizationID, Valid: e.OrganizationID != ""},
		e.RequestID, e.SessionID, e.IP, e.UserAgent, metadata)
	if err != nil {
		return fmt.Errorf("postgres: append audit: %w", err)
	}
	return nil
}

func notFound(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return authcore.ErrNotFound
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return authcore.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
