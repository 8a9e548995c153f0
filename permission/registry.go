package permission

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrRegistryFrozen    = errors.New("permission: registry frozen")
	ErrDuplicate         = errors.New("permission: already registered")
	ErrCapacity          = errors.New("permission: capacity exceeded")
	ErrUnknownCapability = errors.New("permission: unknown capability")
	ErrInvalidName       = errors.New("permission: empty name")
)

// Registry assigns capability names to bit positions 0..62. Bit 63 is
// reserved for the root bit.
type Registry struct {
	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		nameToBit: make(map[string]int),
		bitToName: make(map[int]string),
	}
}

// Register assigns the next free bit to name.
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.frozen:
		return -1, ErrRegistryFrozen
	case name == "":
		return -1, ErrInvalidName
	}
	if _, exists := r.nameToBit[name]; exists {
		return -1, fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	next := len(r.nameToBit)
	if next >= RootBit {
		return -1, ErrCapacity
	}
	r.nameToBit[name] = next
	r.bitToName[next] = name
	return next, nil
}

// Bit returns the bit for name.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

// Name returns the capability assigned to bit.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

// Mask builds a mask from capability names.
func (r *Registry) Mask(names ...string) (Mask64, error) {
	var m Mask64
	for _, n := range names {
		bit, ok := r.Bit(n)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownCapability, n)
		}
		m = m.Set(bit)
	}
	return m, nil
}

// Freeze rejects further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Count returns the number of registered capabilities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}
