package directory

import "time"

// Role is a named permission grouping. Roles may inherit from parent roles
// through an explicit, cycle-free edge set validated at definition time.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ParentIDs   []int64   `json:"parentIds,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RoleAssignment links a user to a role for a validity window.
type RoleAssignment struct {
	UserID     int64      `json:"userId"`
	RoleID     int64      `json:"roleId"`
	RoleName   string     `json:"roleName"`
	ValidFrom  time.Time  `json:"validFrom"`
	ValidUntil *time.Time `json:"validUntil,omitempty"`
}

// RoleGrant is a permission carried by a role.
type RoleGrant struct {
	RoleID         int64
	RoleName       string
	PermissionCode string
	GrantedAt      time.Time
}
