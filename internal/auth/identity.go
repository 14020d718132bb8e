// Package auth verifies the signed identity tokens presented at connection
// time and holds the role-based authorization guard used by privileged
// chat operations.
package auth

import (
	"errors"
	"strings"
)

// Role is the privilege level carried by an identity.
type Role string

const (
	// RoleMember is the default role for any authenticated user.
	RoleMember Role = "member"
	// RoleAdmin may evict other users.
	RoleAdmin Role = "admin"
)

// ParseRole maps a token's role claim onto a Role. Anything other than
// "admin" is treated as a member.
func ParseRole(s string) Role {
	if strings.EqualFold(strings.TrimSpace(s), string(RoleAdmin)) {
		return RoleAdmin
	}
	return RoleMember
}

// Action names a privileged operation checked by Authorize.
type Action string

const (
	// ActionEvict forcibly disconnects another user's session.
	ActionEvict Action = "evict"
)

// ErrForbidden is returned by Authorize when the identity's role does not
// grant the requested action.
var ErrForbidden = errors.New("not authorized")

var permissions = map[Role]map[Action]bool{
	RoleAdmin: {
		ActionEvict: true,
	},
	RoleMember: {},
}

// Identity is a verified user. It is immutable for the lifetime of a
// connection.
type Identity struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Authorize returns nil if the identity's role grants action, and
// ErrForbidden otherwise.
func (i Identity) Authorize(action Action) error {
	if permissions[i.Role][action] {
		return nil
	}
	return ErrForbidden
}
