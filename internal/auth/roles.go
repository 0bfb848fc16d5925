package auth

import (
	"fmt"
	"slices"
)

// Role is an authorisation tier.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// ValidRoles lists the roles in increasing order of privilege.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !slices.Contains(ValidRoles, r) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Permission is a named capability.
type Permission string

const (
	PermDriverRead      Permission = "driver:read"
	PermFieldWrite      Permission = "field:write"
	PermCommandRun      Permission = "command:run"
	PermDriverConfigure Permission = "driver:configure"
)

// rolePermissions is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermDriverRead,
	},
	RoleOperator: {
		PermDriverRead,
		PermFieldWrite,
		PermCommandRun,
	},
	RoleAdmin: {
		PermDriverRead,
		PermFieldWrite,
		PermCommandRun,
		PermDriverConfigure,
	},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}
