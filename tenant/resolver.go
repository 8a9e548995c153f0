package tenant

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// GlobalAdminRole is assigned to principals matching the admin policy.
const GlobalAdminRole = "global_admin"

// ErrStoreUnavailable wraps membership store failures.
var ErrStoreUnavailable = errors.New("tenant: membership store unavailable")

// Context is the resolved tenant scope of a principal. An empty
// OrganizationID means unscoped; an empty Role means no authority.
type Context struct {
	OrganizationID string
	Role           string
	GlobalAdmin    bool
}

// Scoped reports whether the context names an organization.
func (c Context) Scoped() bool { return c.OrganizationID != "" }

// Resolver applies admin policy first, then the earliest active membership.
type Resolver struct {
	policy AdminIdentityPolicy
	store  MembershipStore
}

// NewResolver returns a resolver. store may be nil for deployments without
// organizations, in which case only admins get a role.
func NewResolver(policy AdminIdentityPolicy, store MembershipStore) *Resolver {
	return &Resolver{policy: policy, store: store}
}

// Resolve never returns a scoped context for an inactive membership.
func (r *Resolver) Resolve(ctx context.Context, principalID, email string) (Context, error) {
	if r.policy.Matches(principalID, email) {
		return Context{Role: GlobalAdminRole, GlobalAdmin: true}, nil
	}
	if r.store == nil {
		return Context{}, nil
	}

	memberships, err := r.store.MembershipsForPrincipal(ctx, principalID)
	if err != nil {
		return Context{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	active := make([]Membership, 0, len(memberships))
	for _, m := range memberships {
		if m.Status == StatusActive && m.PrincipalID == principalID {
			active = append(active, m)
		}
	}
	if len(active) == 0 {
		return Context{}, nil
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].JoinedAt.Before(active[j].JoinedAt)
	})
	primary := active[0]
	return Context{OrganizationID: primary.OrganizationID, Role: primary.Role}, nil
}
