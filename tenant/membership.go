package tenant

import (
	"context"
	"time"
)

// Status is a membership lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Membership links a principal to an organization with a role. At most one
// membership exists per (principal, organization).
type Membership struct {
	PrincipalID    string
	OrganizationID string
	Role           string
	Status         Status
	JoinedAt       time.Time
}

// MembershipStore lists memberships for a principal ordered by JoinedAt
// ascending. Resolver sorts again before choosing.
type MembershipStore interface {
	MembershipsForPrincipal(ctx context.Context, principalID string) ([]Membership, error)
}
