package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/tenant"
)

// Store keeps every authcore record in process memory. It satisfies
// authcore.PrincipalStore, authcore.FactorStore, session.Store,
// tenant.MembershipStore, password.HistoryStore and authcore.AuditStore.
// Each operation runs under one mutex, which gives the atomicity the
// interfaces require.
type Store struct {
	mu sync.Mutex

	principals  map[string]authcore.Principal
	byEmail     map[string]string
	credentials map[string]authcore.Credential
	totp        map[string]authcore.TOTPRecord
	backup      map[string][]authcore.BackupCodeRecord
	history     map[string][]password.HistoryEntry
	sessions    map[string]session.Session
	memberships map[string][]tenant.Membership
	audit       []authcore.AuditEntry
}

var (
	_ authcore.PrincipalStore = (*Store)(nil)
	_ authcore.FactorStore    = (*Store)(nil)
	_ authcore.AuditStore     = (*Store)(nil)
	_ session.Store           = (*Store)(nil)
	_ tenant.MembershipStore  = (*Store)(nil)
	_ password.HistoryStore   = (*Store)(nil)
)

func New() *Store {
	return &Store{
		principals:  make(map[string]authcore.Principal),
		byEmail:     make(map[string]string),
		credentials: make(map[string]authcore.Credential),
		totp:        make(map[string]authcore.TOTPRecord),
		backup:      make(map[string][]authcore.BackupCodeRecord),
		history:     make(map[string][]password.HistoryEntry),
		sessions:    make(map[string]session.Session),
		memberships: make(map[string][]tenant.Membership),
	}
}

// CreatePrincipal adds an active principal with a random UUID and an empty
// credential. Set the password through Engine.SetPassword.
func (s *Store) CreatePrincipal(_ context.Context, email string, at time.Time) (authcore.Principal, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return authcore.Principal{}, authcore.ErrConflict
	}
	p := authcore.Principal{ID: uuid.NewString(), Email: email, Status: authcore.PrincipalActive, CreatedAt: at}
	s.principals[p.ID] = p
	s.byEmail[email] = p.ID
	s.credentials[p.ID] = authcore.Credential{PrincipalID: p.ID, UpdatedAt: at}
	return p, nil
}

// SetStatus changes the lifecycle state of a principal.
func (s *Store) SetStatus(_ context.Context, principalID string, status authcore.PrincipalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[principalID]
	if !ok {
		return authcore.ErrNotFound
	}
	p.Status = status
	s.principals[principalID] = p
	return nil
}

func (s *Store) PrincipalByID(_ context.Context, id string) (authcore.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return authcore.Principal{}, authcore.ErrNotFound
	}
	return p, nil
}

func (s *Store) PrincipalByEmail(_ context.Context, email string) (authcore.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return authcore.Principal{}, authcore.ErrNotFound
	}
	return s.principals[id], nil
}

func (s *Store) Credential(_ context.Context, principalID string) (authcore.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[principalID]
	if !ok || c.PasswordHash == "" {
		return authcore.Credential{}, authcore.ErrNotFound
	}
	return c, nil
}

func (s *Store) SetPasswordHash(_ context.Context, principalID, hash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.principals[principalID]; !ok {
		return authcore.ErrNotFound
	}
	c := s.credentials[principalID]
	c.PrincipalID = principalID
	c.PasswordHash = hash
	c.UpdatedAt = at
	s.credentials[principalID] = c
	return nil
}

func (s *Store) RecordFailedAttempt(_ context.Context, principalID string, lockAfter int, at time.Time) (authcore.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[principalID]
	if !ok {
		return authcore.Credential{}, authcore.ErrNotFound
	}
	c.FailedAttempts++
	if lockAfter > 0 && c.FailedAttempts >= lockAfter && c.LockedAt.IsZero() {
		c.LockedAt = at
	}
	s.credentials[principalID] = c
	return c, nil
}

func (s *Store) ResetFailedAttempts(_ context.Context, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[principalID]
	if !ok {
		return authcore.ErrNotFound
	}
	c.FailedAttempts = 0
	c.LockedAt = time.Time{}
	s.credentials[principalID] = c
	return nil
}

func (s *Store) TOTP(_ context.Context, principalID string) (authcore.TOTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.totp[principalID]
	if !ok {
		return authcore.TOTPRecord{}, authcore.ErrNotFound
	}
	return rec, nil
}

func (s *Store) SaveTOTP(_ context.Context, rec authcore.TOTPRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totp[rec.PrincipalID] = rec
	return nil
}

func (s *Store) AdvanceTOTPCounter(_ context.Context, principalID string, counter int64, confirm bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.totp[principalID]
	if !ok {
		return false, authcore.ErrNotFound
	}
	if counter <= rec.LastCounter {
		return false, nil
	}
	rec.LastCounter = counter
	if confirm {
		rec.Confirmed = true
	}
	s.totp[principalID] = rec
	return true, nil
}

func (s *Store) DeleteTOTP(_ context.Context, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.totp, principalID)
	return nil
}

func (s *Store) ReplaceBackupCodes(_ context.Context, principalID string, codes []authcore.BackupCodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backup[principalID] = append([]authcore.BackupCodeRecord(nil), codes...)
	return nil
}

func (s *Store) ConsumeBackupCode(_ context.Context, principalID, hash string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := s.backup[principalID]
	for i := range codes {
		if codes[i].Hash == hash && !codes[i].Used() {
			codes[i].UsedAt = at
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CountBackupCodes(_ context.Context, principalID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.backup[principalID] {
		if !c.Used() {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteBackupCodes(_ context.Context, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.backup, principalID)
	return nil
}

// RecentPasswordHashes returns up to limit entries, newest first.
func (s *Store) RecentPasswordHashes(_ context.Context, principalID string, limit int) ([]password.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[principalID]
	if limit > len(h) {
		limit = len(h)
	}
	out := make([]password.HistoryEntry, 0, limit)
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out, nil
}

// AppendPasswordHash inserts and prunes to keep in one critical section.
func (s *Store) AppendPasswordHash(_ context.Context, principalID string, entry password.HistoryEntry, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.history[principalID], entry)
	if keep > 0 && len(h) > keep {
		h = append([]password.HistoryEntry(nil), h[len(h)-keep:]...)
	}
	s.history[principalID] = h
	return nil
}

// HistoryLen reports the retained history size.
func (s *Store) HistoryLen(principalID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history[principalID])
}

func (s *Store) Create(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = *sess
	return nil
}

func (s *Store) Find(_ context.Context, id string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return &sess, nil
}

func (s *Store) Delete(_ context.Context, _, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *Store) DeleteAllForPrincipal(_ context.Context, principalID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.PrincipalID == principalID {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// SweepSessions removes sessions expired at now.
func (s *Store) SweepSessions(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if !sess.ValidAt(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// AddMembership inserts or replaces the membership for (principal, org).
func (s *Store) AddMembership(_ context.Context, m tenant.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.memberships[m.PrincipalID]
	for i := range list {
		if list[i].OrganizationID == m.OrganizationID {
			list[i] = m
			return nil
		}
	}
	s.memberships[m.PrincipalID] = append(list, m)
	return nil
}

func (s *Store) MembershipsForPrincipal(_ context.Context, principalID string) ([]tenant.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]tenant.Membership(nil), s.memberships[principalID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *Store) AppendAudit(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

// AuditEntries returns a copy of every appended entry in order.
func (s *Store) AuditEntries() []authcore.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]authcore.AuditEntry(nil), s.audit...)
}
