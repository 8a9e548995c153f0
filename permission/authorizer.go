package permission

import (
	"errors"
	"fmt"
)

var (
	// ErrForbidden is the parent of every authorization failure.
	ErrForbidden = errors.New("permission: forbidden")
	// ErrNoRole is returned when the caller holds no role at all.
	ErrNoRole = fmt.Errorf("%w: no role", ErrForbidden)
	// ErrUnknownRole is returned for a role absent from the RoleManager.
	ErrUnknownRole = fmt.Errorf("%w: unknown role", ErrForbidden)
	// ErrMissingCapability is returned when the role lacks a capability.
	ErrMissingCapability = fmt.Errorf("%w: missing capability", ErrForbidden)
)

// Authorizer checks a role against required capabilities.
type Authorizer struct {
	registry *Registry
	roles    *RoleManager
}

// NewAuthorizer freezes registry and roles; registrations after this point
// are rejected.
func NewAuthorizer(registry *Registry, roles *RoleManager) *Authorizer {
	registry.Freeze()
	roles.Freeze()
	return &Authorizer{registry: registry, roles: roles}
}

// Authorize returns nil when role holds every required capability. An empty
// required set still demands a known role. Unknown capability names deny.
func (a *Authorizer) Authorize(role string, required []string) error {
	if role == "" {
		return ErrNoRole
	}
	mask, ok := a.roles.Mask(role)
	if !ok {
		return ErrUnknownRole
	}
	for _, name := range required {
		bit, ok := a.registry.Bit(name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingCapability, name)
		}
		if !mask.Has(bit) {
			return fmt.Errorf("%w: %s", ErrMissingCapability, name)
		}
	}
	return nil
}
