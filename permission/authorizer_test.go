package permission

import (
	"errors"
	"fmt"
	"testing"
)

func newTestAuthorizer(t *testing.T) *Authorizer {
	t.Helper()
	reg := NewRegistry()
	for _, c := range []string{"patient.read", "patient.write", "audit.read"} {
		if _, err := reg.Register(c); err != nil {
			t.Fatal(err)
		}
	}
	roles := NewRoleManager(reg)
	if err := roles.RegisterRole("clinician", []string{"patient.read", "patient.write"}); err != nil {
		t.Fatal(err)
	}
	if err := roles.RegisterRole("viewer", []string{"patient.read"}); err != nil {
		t.Fatal(err)
	}
	if err := roles.RegisterRoot("global_admin"); err != nil {
		t.Fatal(err)
	}
	return NewAuthorizer(reg, roles)
}

func TestAuthorize(t *testing.T) {
	a := newTestAuthorizer(t)
	cases := []struct {
		role     string
		required []string
		want     error
	}{
		{"clinician", []string{"patient.read", "patient.write"}, nil},
		{"viewer", []string{"patient.read"}, nil},
		{"viewer", []string{"patient.write"}, ErrMissingCapability},
		{"viewer", nil, nil},
		{"", []string{"patient.read"}, ErrNoRole},
		{"", nil, ErrNoRole},
		{"janitor", []string{"patient.read"}, ErrUnknownRole},
		{"global_admin", []string{"audit.read", "patient.write"}, nil},
		{"clinician", []string{"does.not.exist"}, ErrMissingCapability},
	}
	for _, tc := range cases {
		err := a.Authorize(tc.role, tc.required)
		if tc.want == nil && err != nil {
			t.Fatalf("%s %v: unexpected %v", tc.role, tc.required, err)
		}
		if tc.want != nil {
			if !errors.Is(err, tc.want) || !errors.Is(err, ErrForbidden) {
				t.Fatalf("%s %v: got %v want %v", tc.role, tc.required, err, tc.want)
			}
		}
	}
}

func TestRegistryFreezeAndCapacity(t *testing.T) {
	reg := NewRegistry()
	for i := 0; i < RootBit; i++ {
		if _, err := reg.Register(fmt.Sprintf("cap.%d", i)); err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}
	if _, err := reg.Register("overflow"); !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
	reg2 := NewRegistry()
	reg2.Freeze()
	if _, err := reg2.Register("x"); !errors.Is(err, ErrRegistryFrozen) {
		t.Fatalf("expected ErrRegistryFrozen, got %v", err)
	}
}

func TestRoleManagerRejectsUnknownCapability(t *testing.T) {
	reg := NewRegistry()
	_, _ = reg.Register("a")
	rm := NewRoleManager(reg)
	if err := rm.RegisterRole("r", []string{"b"}); !errors.Is(err, ErrUnknownCapability) {
		t.Fatalf("expected ErrUnknownCapability, got %v", err)
	}
	_ = rm.RegisterRole("r", []string{"a"})
	if err := rm.RegisterRole("r", nil); !errors.Is(err, ErrRoleExists) {
		t.Fatalf("expected ErrRoleExists, got %v", err)
	}
}

func TestMaskRootBit(t *testing.T) {
	var m Mask64
	m = m.Set(3)
	if !m.Has(3) || m.Has(4) {
		t.Fatal("unexpected bits")
	}
	root := Mask64(0).Set(RootBit)
	if !root.Has(0) || !root.Has(62) {
		t.Fatal("root bit must satisfy every capability")
	}
	if m.Clear(3).Has(3) {
		t.Fatal("clear failed")
	}
}
