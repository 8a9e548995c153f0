package postgres

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/tenant"
)

var at = time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = db.Close()
	})
	return New(sqlx.NewDb(db, "pgx"), slog.New(slog.NewTextHandler(io.Discard, nil))), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestCreatePrincipalConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO principals")).
		WithArgs(sqlmock.AnyArg(), "alice@clinic.example", "active", sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})
	mock.ExpectRollback()

	_, err := s.CreatePrincipal(context.Background(), " Alice@Clinic.example ", at)
	if !errors.Is(err, authcore.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCreatePrincipalInsertsCredential(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO principals")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("INSERT INTO credentials")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p, err := s.CreatePrincipal(context.Background(), "bob@clinic.example", at)
	if err != nil {
		t.Fatalf("CreatePrincipal: %v", err)
	}
	if p.ID == "" || p.Status != authcore.PrincipalActive {
		t.Fatalf("unexpected principal %+v", p)
	}
}

func TestPrincipalByEmailNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(q("FROM principals WHERE email = $1")).
		WithArgs("nobody@clinic.example").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "status", "created_at"}))

	if _, err := s.PrincipalByEmail(context.Background(), "Nobody@clinic.example"); !errors.Is(err, authcore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCredentialWithoutPasswordIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(q("FROM credentials WHERE principal_id = $1 AND password_hash <> ''")).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"principal_id", "password_hash", "failed_attempts", "locked_at", "updated_at"}))

	if _, err := s.Credential(context.Background(), "p1"); !errors.Is(err, authcore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordFailedAttemptReturnsLock(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"principal_id", "password_hash", "failed_attempts", "locked_at", "updated_at"}).
		AddRow("p1", "$argon2id$x", 5, at, at)
	mock.ExpectQuery(q("UPDATE credentials")).
		WithArgs("p1", 5, at).
		WillReturnRows(rows)

	cred, err := s.RecordFailedAttempt(context.Background(), "p1", 5, at)
	if err != nil {
		t.Fatalf("RecordFailedAttempt: %v", err)
	}
	if cred.FailedAttempts != 5 || !cred.LockedAt.Equal(at) {
		t.Fatalf("unexpected credential %+v", cred)
	}
}

func TestSetPasswordHashUnknownPrincipal(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(q("INSERT INTO credentials")).
		WithArgs("ghost", "hash", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.SetPasswordHash(context.Background(), "ghost", "hash", at); !errors.Is(err, authcore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAdvanceTOTPCounter(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(q("UPDATE totp_secrets")).
		WithArgs("p1", int64(42), true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE totp_secrets")).
		WithArgs("p1", int64(42), false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.AdvanceTOTPCounter(context.Background(), "p1", 42, true)
	if err != nil || !ok {
		t.Fatalf("expected first advance to win, got %v %v", ok, err)
	}
	ok, err = s.AdvanceTOTPCounter(context.Background(), "p1", 42, false)
	if err != nil || ok {
		t.Fatalf("expected replayed step refused, got %v %v", ok, err)
	}
}

func TestTOTPRecord(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(q("FROM totp_secrets WHERE principal_id = $1")).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"principal_id", "secret", "confirmed", "last_counter", "created_at"}).
			AddRow("p1", "JBSWY3DPEHPK3PXP", true, int64(7), at))

	rec, err := s.TOTP(context.Background(), "p1")
	if err != nil {
		t.Fatalf("TOTP: %v", err)
	}
	if !rec.Confirmed || rec.LastCounter != 7 || rec.Secret != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestReplaceBackupCodes(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM backup_codes")).WithArgs("p1").WillReturnResult(sqlmock.NewResult(0, 8))
	mock.ExpectExec(q("INSERT INTO backup_codes")).
		WithArgs("p1", "h1", at, "p1", "h2", at).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	codes := []authcore.BackupCodeRecord{{Hash: "h1", CreatedAt: at}, {Hash: "h2", CreatedAt: at}}
	if err := s.ReplaceBackupCodes(context.Background(), "p1", codes); err != nil {
		t.Fatalf("ReplaceBackupCodes: %v", err)
	}
}

func TestConsumeBackupCode(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(q("UPDATE backup_codes SET used_at = $3")).
		WithArgs("p1", "h1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE backup_codes SET used_at = $3")).
		WithArgs("p1", "h1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if ok, err := s.ConsumeBackupCode(context.Background(), "p1", "h1", at); err != nil || !ok {
		t.Fatalf("expected consume, got %v %v", ok, err)
	}
	if ok, err := s.ConsumeBackupCode(context.Background(), "p1", "h1", at); err != nil || ok {
		t.Fatalf("expected used code refused, got %v %v", ok, err)
	}
}

func TestCountBackupCodes(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(q("SELECT count(*) FROM backup_codes")).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := s.CountBackupCodes(context.Background(), "p1")
	if err != nil || n != 7 {
		t.Fatalf("expected 7, got %d %v", n, err)
	}
}

func TestAppendPasswordHashPrunesInTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("SELECT pg_advisory_xact_lock(hashtext($1))")).WithArgs("p1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("INSERT INTO password_history")).WithArgs("p1", "hash", at).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(q("DELETE FROM password_history")).WithArgs("p1", 5).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.AppendPasswordHash(context.Background(), "p1", password.HistoryEntry{Hash: "hash", CreatedAt: at}, 5)
	if err != nil {
		t.Fatalf("AppendPasswordHash: %v", err)
	}
}

func TestAppendPasswordHashRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("SELECT pg_advisory_xact_lock")).WithArgs("p1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("INSERT INTO password_history")).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.AppendPasswordHash(context.Background(), "p1", password.HistoryEntry{Hash: "hash", CreatedAt: at}, 5)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRecentPasswordHashesOrder(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(q("ORDER BY created_at DESC, id DESC")).
		WithArgs("p1", 5).
		WillReturnRows(sqlmock.NewRows([]string{"hash", "created_at"}).
			AddRow("new", at.Add(time.Hour)).
			AddRow("old", at))

	got, err := s.RecentPasswordHashes(context.Background(), "p1", 5)
	if err != nil {
		t.Fatalf("RecentPasswordHashes: %v", err)
	}
	if len(got) != 2 || got[0].Hash != "new" || got[1].Hash != "old" {
		t.Fatalf("unexpected history %+v", got)
	}
}

func TestMembershipsForPrincipal(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(q("FROM memberships WHERE principal_id = $1")).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"principal_id", "organization_id", "role", "status", "joined_at"}).
			AddRow("p1", "org-a", "clinician", "active", at).
			AddRow("p1", "org-b", "viewer", "suspended", at.Add(time.Hour)))

	got, err := s.MembershipsForPrincipal(context.Background(), "p1")
	if err != nil {
		t.Fatalf("MembershipsForPrincipal: %v", err)
	}
	if len(got) != 2 || got[0].OrganizationID != "org-a" || got[1].Status != tenant.StatusSuspended {
		t.Fatalf("unexpected memberships %+v", got)
	}
}

type jsonArg map[string]string

func (j jsonArg) Match(v driver.Value) bool {
	b, ok := v.([]byte)
	if !ok {
		return false
	}
	var got map[string]string
	if err := json.Unmarshal(b, &got); err != nil || len(got) != len(j) {
		return false
	}
	for k, want := range j {
		if got[k] != want {
			return false
		}
	}
	return true
}

func TestAppendAuditEncodesMetadata(t *testing.T) {
	s, mock := newMockStore(t)
	entry := authcore.AuditEntry{
		ID:        "01J0000000000000000000000",
		Timestamp: at,
		Action:    "request",
		Outcome:   "failure",
		Reason:    "forbidden",
		Severity:  authcore.SeverityMedium,
		Stage:     "authorize",
		ActorID:   "p1",
		Metadata:  map[string]string{"capabilities": "records.write"},
	}
	mock.ExpectExec(q("INSERT INTO audit_log")).
		WithArgs(entry.ID, at, "request", "failure", "forbidden", "medium", "authorize",
			"p1", nil, "", "", "", "", jsonArg{"capabilities": "records.write"}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.AppendAudit(context.Background(), entry); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}

	entry.OrganizationID = "org-1"
	mock.ExpectExec(q("INSERT INTO audit_log")).
		WithArgs(entry.ID, at, "request", "failure", "forbidden", "medium", "authorize",
			"p1", "org-1", "", "", "", "", jsonArg{"capabilities": "records.write"}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.AppendAudit(context.Background(), entry); err != nil {
		t.Fatalf("AppendAudit scoped: %v", err)
	}
}

func TestMigrateAppliesPending(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS schema_migrations")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("SELECT EXISTS")).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS principals")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("INSERT INTO schema_migrations")).WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
}

func TestMigrateSkipsApplied(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS schema_migrations")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("SELECT EXISTS")).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
}
