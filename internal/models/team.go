package models

import "time"

// Role is a named, reusable bundle of permission kinds. Roles are applied to a
// project through a Membership.
type Role struct {
	ID          string
	Name        string
	Permissions []PermissionKind
	CreatedAt   time.Time
}

// Has reports whether the role includes kind.
func (r *Role) Has(kind PermissionKind) bool {
	for _, k := range r.Permissions {
		if k == kind {
			return true
		}
	}
	return false
}

// Membership ties one user to one project with a set of roles.
type Membership struct {
	ID        string
	UserID    string
	ProjectID string
	RoleIDs   []string
	CreatedAt time.Time
}
