package tenant

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubStore struct {
	list []Membership
	err  error
}

func (s stubStore) MembershipsForPrincipal(context.Context, string) ([]Membership, error) {
	return s.list, s.err
}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestResolveAdminPolicyWinsOverMemberships(t *testing.T) {
	store := stubStore{list: []Membership{{PrincipalID: "p1", OrganizationID: "org-a", Role: "clinician", Status: StatusActive, JoinedAt: t0}}}
	r := NewResolver(AdminIdentityPolicy{EmailPatterns: []string{"*@ops.example.org"}}, store)

	got, err := r.Resolve(context.Background(), "p1", "Root@OPS.example.org")
	if err != nil {
		t.Fatal(err)
	}
	if !got.GlobalAdmin || got.Role != GlobalAdminRole || got.Scoped() {
		t.Fatalf("expected unscoped admin context, got %+v", got)
	}
}

func TestResolveEarliestActiveMembership(t *testing.T) {
	store := stubStore{list: []Membership{
		{PrincipalID: "p1", OrganizationID: "org-late", Role: "viewer", Status: StatusActive, JoinedAt: t0.Add(48 * time.Hour)},
		{PrincipalID: "p1", OrganizationID: "org-pending", Role: "owner", Status: StatusPending, JoinedAt: t0.Add(-time.Hour)},
		{PrincipalID: "p1", OrganizationID: "org-early", Role: "clinician", Status: StatusActive, JoinedAt: t0},
		{PrincipalID: "p1", OrganizationID: "org-suspended", Role: "owner", Status: StatusSuspended, JoinedAt: t0.Add(-2 * time.Hour)},
	}}
	r := NewResolver(AdminIdentityPolicy{}, store)

	got, err := r.Resolve(context.Background(), "p1", "nurse@clinic.example")
	if err != nil {
		t.Fatal(err)
	}
	if got.OrganizationID != "org-early" || got.Role != "clinician" {
		t.Fatalf("expected org-early/clinician, got %+v", got)
	}
}

func TestResolveNoMembershipIsUnscoped(t *testing.T) {
	r := NewResolver(AdminIdentityPolicy{}, stubStore{})
	got, err := r.Resolve(context.Background(), "p1", "x@y.z")
	if err != nil {
		t.Fatal(err)
	}
	if got.Scoped() || got.Role != "" || got.GlobalAdmin {
		t.Fatalf("expected empty context, got %+v", got)
	}
}

func TestResolveStoreErrorFailsClosed(t *testing.T) {
	r := NewResolver(AdminIdentityPolicy{}, stubStore{err: errors.New("boom")})
	if _, err := r.Resolve(context.Background(), "p1", ""); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestAdminPolicyMatching(t *testing.T) {
	p := AdminIdentityPolicy{
		PrincipalIDs:  []string{"root-id"},
		Emails:        []string{"CISO@Example.org"},
		EmailPatterns: []string{"*@ops.example.org"},
	}
	cases := []struct {
		id, email string
		want      bool
	}{
		{"root-id", "", true},
		{"x", "ciso@example.org", true},
		{"x", "a@ops.example.org", true},
		{"x", "a@ops.example.org.evil", false},
		{"x", "a@example.org", false},
		{"", "", false},
	}
	for _, tc := range cases {
		if got := p.Matches(tc.id, tc.email); got != tc.want {
			t.Fatalf("Matches(%q,%q)=%v want %v", tc.id, tc.email, got, tc.want)
		}
	}
	if err := (AdminIdentityPolicy{EmailPatterns: []string{"[bad"}}).Validate(); err == nil {
		t.Fatal("expected malformed pattern error")
	}
}
