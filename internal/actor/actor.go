// Package actor models the humans and automated subsystems that request
// emergency transitions.
package actor

// Role is a named authorization role.
type Role string

const (
	RolePlatformAdmin Role = "platform_admin"
	RoleSecurityAdmin Role = "security_admin"
	RoleSRE           Role = "sre"
	RoleOperator      Role = "operator"
)

// Kind distinguishes humans from automated subsystems.
type Kind string

const (
	Human  Kind = "human"
	System Kind = "system"
)

// Actor is the requester of an activate/deactivate call.
type Actor struct {
	ID    string `json:"id"`
	Roles []Role `json:"roles,omitempty"`
	Kind  Kind   `json:"kind"`
}

// HasRole reports whether the actor holds the given role.
func (a Actor) HasRole(r Role) bool {
	for _, have := range a.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// HasAny reports whether the actor holds at least one of the roles.
func (a Actor) HasAny(roles []Role) bool {
	for _, r := range roles {
		if a.HasRole(r) {
			return true
		}
	}
	return false
}

// ParseRoles converts role names to Roles, dropping empty entries.
func ParseRoles(names []string) []Role {
	var roles []Role
	for _, n := range names {
		if n == "" {
			continue
		}
		roles = append(roles, Role(n))
	}
	return roles
}
