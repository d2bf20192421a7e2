package assignments

import "time"

// Decision is the explicit outcome carried by an override.
type Decision string

const (
	DecisionGrant Decision = "grant"
	DecisionDeny  Decision = "deny"
)

// Scope bounds where an override applies.
type Scope string

const (
	ScopeGlobal           Scope = "global"
	ScopeResourceInstance Scope = "resource-instance"
)

// DirectAssignment is a single-source grant outside any role.
type DirectAssignment struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"userId"`
	PermissionCode string     `json:"permissionCode"`
	GrantedAt      time.Time  `json:"grantedAt"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	GrantedBy      int64      `json:"grantedBy"`
	RevokedAt      *time.Time `json:"revokedAt,omitempty"`
}

// Override is an explicit, optionally time-bounded grant or deny that can
// supersede role-derived permissions. Version supports optimistic concurrency
// on updates.
type Override struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"userId"`
	PermissionCode string     `json:"permissionCode"`
	Decision       Decision   `json:"decision"`
	Priority       int        `json:"priority"`
	Scope          Scope      `json:"scope"`
	ResourceID     *string    `json:"resourceId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	CreatedBy      int64      `json:"createdBy"`
	RevokedAt      *time.Time `json:"revokedAt,omitempty"`
	Version        int        `json:"version"`
}

// ActiveAt reports whether the override applies at the logical timestamp.
func (o Override) ActiveAt(at time.Time) bool {
	if o.RevokedAt != nil && !o.RevokedAt.After(at) {
		return false
	}
	if o.CreatedAt.After(at) {
		return false
	}
	return o.ExpiresAt == nil || o.ExpiresAt.After(at)
}

// ActiveAt reports whether the assignment applies at the logical timestamp.
func (a DirectAssignment) ActiveAt(at time.Time) bool {
	if a.RevokedAt != nil && !a.RevokedAt.After(at) {
		return false
	}
	if a.GrantedAt.After(at) {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(at)
}
