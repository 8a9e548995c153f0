package permission

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrRoleFrozen    = errors.New("permission: role manager frozen")
	ErrRoleExists    = errors.New("permission: role already registered")
	ErrRoleNameEmpty = errors.New("permission: role name empty")
)

// RoleManager maps role names to capability masks.
type RoleManager struct {
	registry *Registry

	mu     sync.RWMutex
	roles  map[string]Mask64
	frozen bool
}

// NewRoleManager returns a manager resolving names through registry.
func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{registry: registry, roles: make(map[string]Mask64)}
}

// RegisterRole grants the named capabilities to role.
func (rm *RoleManager) RegisterRole(role string, capabilities []string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	switch {
	case rm.frozen:
		return ErrRoleFrozen
	case role == "":
		return ErrRoleNameEmpty
	}
	if _, exists := rm.roles[role]; exists {
		return fmt.Errorf("%w: %s", ErrRoleExists, role)
	}
	mask, err := rm.registry.Mask(capabilities...)
	if err != nil {
		return fmt.Errorf("role %s: %w", role, err)
	}
	rm.roles[role] = mask
	return nil
}

// RegisterRoot registers role with the root bit.
func (rm *RoleManager) RegisterRoot(role string) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	switch {
	case rm.frozen:
		return ErrRoleFrozen
	case role == "":
		return ErrRoleNameEmpty
	}
	if _, exists := rm.roles[role]; exists {
		return fmt.Errorf("%w: %s", ErrRoleExists, role)
	}
	rm.roles[role] = Mask64(0).Set(RootBit)
	return nil
}

// Mask returns the mask for role.
func (rm *RoleManager) Mask(role string) (Mask64, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	m, ok := rm.roles[role]
	return m, ok
}

// Freeze rejects further registrations.
func (rm *RoleManager) Freeze() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.frozen = true
}

// Count returns the number of roles.
func (rm *RoleManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.roles)
}
