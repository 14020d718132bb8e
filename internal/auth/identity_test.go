package auth

import (
	"errors"
	"testing"
)

func TestParseRole(t *testing.T) {
	tests := map[string]Role{
		"admin":   RoleAdmin,
		"ADMIN":   RoleAdmin,
		" admin ": RoleAdmin,
		"member":  RoleMember,
		"user":    RoleMember,
		"":        RoleMember,
	}
	for in, want := range tests {
		if got := ParseRole(in); got != want {
			t.Errorf("ParseRole(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIdentity_Authorize(t *testing.T) {
	admin := Identity{Name: "bob", Role: RoleAdmin}
	member := Identity{Name: "alice", Role: RoleMember}

	if err := admin.Authorize(ActionEvict); err != nil {
		t.Errorf("admin.Authorize(evict) = %v, want nil", err)
	}
	if err := member.Authorize(ActionEvict); !errors.Is(err, ErrForbidden) {
		t.Errorf("member.Authorize(evict) = %v, want ErrForbidden", err)
	}
	if err := (Identity{Name: "ghost", Role: "unknown"}).Authorize(ActionEvict); !errors.Is(err, ErrForbidden) {
		t.Errorf("unknown role Authorize(evict) = %v, want ErrForbidden", err)
	}
	if !admin.IsAdmin() || member.IsAdmin() {
		t.Error("IsAdmin() does not reflect role")
	}
}
