package auth

import (
	"strings"

	"guardia.org/internal/rbac"
)

// RolePrefix marks role-derived authorities inside a token's authority list.
const RolePrefix = "ROLE_"

// Authorities flattens a user's role graph into authority strings: one
// "ROLE_<name>" per role plus each permission's "resource:action" grant,
// deduplicated in first-seen order.
func Authorities(u *rbac.User) []string {
	if u == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	add := func(authority string) {
		if _, ok := seen[authority]; ok {
			return
		}
		seen[authority] = struct{}{}
		out = append(out, authority)
	}
	for _, role := range u.Roles {
		add(RolePrefix + role.Name)
		for _, perm := range role.Permissions {
			add(perm.FullPermission())
		}
	}
	return out
}

// RolesFromAuthorities extracts bare role names from an authority list,
// ignoring permission grants.
func RolesFromAuthorities(authorities []string) []string {
	var roles []string
	for _, a := range authorities {
		if strings.HasPrefix(a, RolePrefix) {
			roles = append(roles, strings.TrimPrefix(a, RolePrefix))
		}
	}
	return roles
}
