package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

// RepositoryPort defines data access for role definitions and memberships.
type RepositoryPort interface {
	Exists(ctx context.Context, userID int64) (bool, error)
	RoleMemberships(ctx context.Context, userID int64, at time.Time) ([]RoleAssignment, error)
	ParentEdges(ctx context.Context) (map[int64][]int64, error)
	RoleGrants(ctx context.Context, roleIDs []int64, at time.Time) ([]RoleGrant, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	SetParents(ctx context.Context, roleID int64, parents []int64) error
}

// Service handles role catalog business logic. Role definitions validate the
// hierarchy here so evaluation can treat the graph as trusted.
type Service struct {
	repo RepositoryPort
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Exists reports whether the directory knows the user.
func (s *Service) Exists(ctx context.Context, userID int64) (bool, error) {
	return s.repo.Exists(ctx, userID)
}

// RoleMemberships returns memberships valid at the logical timestamp.
func (s *Service) RoleMemberships(ctx context.Context, userID int64, at time.Time) ([]RoleAssignment, error) {
	return s.repo.RoleMemberships(ctx, userID, at)
}

// EffectiveRoleGrants expands the role hierarchy for the given memberships
// and returns every permission the expanded roles carry at the timestamp.
func (s *Service) EffectiveRoleGrants(ctx context.Context, memberships []RoleAssignment, at time.Time) ([]RoleGrant, error) {
	if len(memberships) == 0 {
		return nil, nil
	}
	edges, err := s.repo.ParentEdges(ctx)
	if err != nil {
		return nil, err
	}
	roleIDs := make([]int64, 0, len(memberships))
	for _, m := range memberships {
		roleIDs = append(roleIDs, m.RoleID)
	}
	expanded := ExpandRoles(roleIDs, edges)
	return s.repo.RoleGrants(ctx, expanded, at)
}

// SetRoleParents updates a role's parents after validating the hierarchy
// stays acyclic.
func (s *Service) SetRoleParents(ctx context.Context, roleID int64, parents []int64) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	for _, parent := range parents {
		if _, err := s.repo.GetRole(ctx, parent); err != nil {
			return fmt.Errorf("parent role %d: %w", parent, err)
		}
	}
	edges, err := s.repo.ParentEdges(ctx)
	if err != nil {
		return err
	}
	if err := ValidateHierarchy(roleID, parents, edges); err != nil {
		return err
	}
	return s.repo.SetParents(ctx, roleID, parents)
}

// RolePermissionCodes lists the permission codes a role grants right now,
// including those inherited from its parents.
func (s *Service) RolePermissionCodes(ctx context.Context, roleID int64) ([]string, error) {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	edges, err := s.repo.ParentEdges(ctx)
	if err != nil {
		return nil, err
	}
	grants, err := s.repo.RoleGrants(ctx, ExpandRoles([]int64{roleID}, edges), time.Now().UTC())
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(grants))
	seen := map[string]struct{}{}
	for _, g := range grants {
		if _, ok := seen[g.PermissionCode]; ok {
			continue
		}
		seen[g.PermissionCode] = struct{}{}
		codes = append(codes, g.PermissionCode)
	}
	return codes, nil
}

// RequireUser returns shared.ErrNotFound when the user is unknown.
func (s *Service) RequireUser(ctx context.Context, userID int64) error {
	ok, err := s.repo.Exists(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: user directory: %v", shared.ErrSourceUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: user %d", shared.ErrNotFound, userID)
	}
	return nil
}
