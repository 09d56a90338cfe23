package authkit

// Role is a platform or organization role name carried in access claims.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

var roleHierarchy = map[Role]int{
	RoleViewer: 0,
	RoleMember: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// IsValid checks if the role is one of the predefined roles.
func (r Role) IsValid() bool {
	_, ok := roleHierarchy[r]
	return ok
}

// IsAtLeast checks if this role meets the minimum required level. Unknown
// roles never satisfy a minimum.
func (r Role) IsAtLeast(minRole Role) bool {
	current, ok := roleHierarchy[r]
	if !ok {
		return false
	}
	min, ok := roleHierarchy[minRole]
	if !ok {
		return false
	}
	return current >= min
}

// ParseRole safely parses a string into a Role.
func ParseRole(s string) (Role, bool) {
	role := Role(s)
	return role, role.IsValid()
}

// AllRoles returns the predefined roles in hierarchical order.
func AllRoles() []Role {
	return []Role{RoleViewer, RoleMember, RoleAdmin, RoleOwner}
}

// firstRole picks the default active role from a claim's role list: the
// highest known role wins, otherwise the first entry as-is.
func firstRole(roles []string) string {
	if len(roles) == 0 {
		return ""
	}

	best := ""
	bestRank := -1
	for _, raw := range roles {
		if role, ok := ParseRole(raw); ok {
			if rank := roleHierarchy[role]; rank > bestRank {
				best = raw
				bestRank = rank
			}
		}
	}
	if best != "" {
		return best
	}
	return roles[0]
}
