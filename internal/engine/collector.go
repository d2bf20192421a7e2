package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atlas-hcm/atlas-authz/internal/assignments"
	"github.com/atlas-hcm/atlas-authz/internal/directory"
	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

// UserDirectory is the collector's view of role memberships.
type UserDirectory interface {
	RequireUser(ctx context.Context, userID int64) error
	RoleMemberships(ctx context.Context, userID int64, at time.Time) ([]directory.RoleAssignment, error)
	EffectiveRoleGrants(ctx context.Context, memberships []directory.RoleAssignment, at time.Time) ([]directory.RoleGrant, error)
}

// AssignmentSource is the collector's view of direct grants and overrides.
type AssignmentSource interface {
	ActiveDirectAssignments(ctx context.Context, userID int64, at time.Time) ([]assignments.DirectAssignment, error)
	ActiveOverrides(ctx context.Context, userID int64, at time.Time) ([]assignments.Override, error)
}

// PermissionLookup supplies the system-critical flag per code.
type PermissionLookup interface {
	CriticalCodes(ctx context.Context) (map[string]bool, error)
}

// Sources bundles the three source kinds plus the registry, all bound to one
// snapshot so every read sees the same logical state.
type Sources struct {
	Directory   UserDirectory
	Assignments AssignmentSource
	Catalog     PermissionLookup
}

// Collector gathers raw, still-unresolved permission assertions for a user
// at a point in time.
type Collector struct {
	sources Sources
}

// NewCollector constructs a collector over the given snapshot sources.
func NewCollector(sources Sources) *Collector {
	return &Collector{sources: sources}
}

// Collect reads role-derived grants (with the role hierarchy expanded),
// direct assignments and overrides, all valid at the same logical timestamp.
func (c *Collector) Collect(ctx context.Context, userID int64, at time.Time) ([]RawAssertion, error) {
	if err := c.sources.Directory.RequireUser(ctx, userID); err != nil {
		return nil, err
	}

	memberships, err := c.sources.Directory.RoleMemberships(ctx, userID, at)
	if err != nil {
		return nil, sourceFailure("role memberships", err)
	}
	roleGrants, err := c.sources.Directory.EffectiveRoleGrants(ctx, memberships, at)
	if err != nil {
		return nil, sourceFailure("role grants", err)
	}
	directs, err := c.sources.Assignments.ActiveDirectAssignments(ctx, userID, at)
	if err != nil {
		return nil, sourceFailure("direct assignments", err)
	}
	overrides, err := c.sources.Assignments.ActiveOverrides(ctx, userID, at)
	if err != nil {
		return nil, sourceFailure("overrides", err)
	}
	critical, err := c.sources.Catalog.CriticalCodes(ctx)
	if err != nil {
		return nil, sourceFailure("permission registry", err)
	}

	asserts := make([]RawAssertion, 0, len(roleGrants)+len(directs)+len(overrides))
	for _, g := range roleGrants {
		asserts = append(asserts, RawAssertion{
			PermissionCode: g.PermissionCode,
			Source:         SourceRef{Type: SourceRole, ID: g.RoleID, RoleName: g.RoleName},
			Decision:       DecisionGrant,
			CreatedAt:      g.GrantedAt,
			SystemCritical: critical[g.PermissionCode],
		})
	}
	for _, d := range directs {
		asserts = append(asserts, RawAssertion{
			PermissionCode: d.PermissionCode,
			Source:         SourceRef{Type: SourceDirect, ID: d.ID},
			Decision:       DecisionGrant,
			CreatedAt:      d.GrantedAt,
			ExpiresAt:      d.ExpiresAt,
			SystemCritical: critical[d.PermissionCode],
		})
	}
	for _, o := range overrides {
		asserts = append(asserts, RawAssertion{
			PermissionCode: o.PermissionCode,
			Source:         SourceRef{Type: SourceOverride, ID: o.ID},
			Decision:       Decision(o.Decision),
			Priority:       o.Priority,
			Scope:          o.Scope,
			CreatedAt:      o.CreatedAt,
			ExpiresAt:      o.ExpiresAt,
			SystemCritical: critical[o.PermissionCode],
		})
	}
	return asserts, nil
}

// GroupByCode buckets assertions per permission code.
func GroupByCode(asserts []RawAssertion) map[string][]RawAssertion {
	grouped := make(map[string][]RawAssertion)
	for _, a := range asserts {
		grouped[a.PermissionCode] = append(grouped[a.PermissionCode], a)
	}
	return grouped
}

func sourceFailure(source string, err error) error {
	if errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrSourceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", shared.ErrSourceUnavailable, source, err)
}
