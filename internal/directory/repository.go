package directory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence for roles, the role
// hierarchy and user role memberships.
type Repository struct {
	db DBTX
}

// NewRepository constructs a repository.
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

// Exists reports whether the user directory knows userID.
func (r *Repository) Exists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	return exists, err
}

// RoleMemberships returns the role assignments for userID valid at the given
// logical timestamp.
func (r *Repository) RoleMemberships(ctx context.Context, userID int64, at time.Time) ([]RoleAssignment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT ur.user_id, ur.role_id, ro.name, ur.valid_from, ur.valid_until
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id
		WHERE ur.user_id = $1
		  AND ur.valid_from <= $2
		  AND (ur.valid_until IS NULL OR ur.valid_until > $2)
		ORDER BY ur.role_id`, userID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var memberships []RoleAssignment
	for rows.Next() {
		var m RoleAssignment
		if err := rows.Scan(&m.UserID, &m.RoleID, &m.RoleName, &m.ValidFrom, &m.ValidUntil); err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

// ParentEdges loads the full role hierarchy as child -> parents.
func (r *Repository) ParentEdges(ctx context.Context) (map[int64][]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT role_id, parent_role_id FROM role_edges ORDER BY role_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	edges := make(map[int64][]int64)
	for rows.Next() {
		var child, parent int64
		if err := rows.Scan(&child, &parent); err != nil {
			return nil, err
		}
		edges[child] = append(edges[child], parent)
	}
	return edges, rows.Err()
}

// RoleGrants returns the permissions carried by roleIDs that were granted at
// or before the logical timestamp.
func (r *Repository) RoleGrants(ctx context.Context, roleIDs []int64, at time.Time) ([]RoleGrant, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT rp.role_id, ro.name, rp.permission_code, rp.created_at
		FROM role_permissions rp
		JOIN roles ro ON ro.id = rp.role_id
		WHERE rp.role_id = ANY($1) AND rp.created_at <= $2
		ORDER BY rp.role_id, rp.permission_code`, roleIDs, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []RoleGrant
	for rows.Next() {
		var g RoleGrant
		if err := rows.Scan(&g.RoleID, &g.RoleName, &g.PermissionCode, &g.GrantedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// GetRole fetches a role with its parent edges.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.db.QueryRow(ctx, `
		SELECT id, name, description, created_at, updated_at FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.ErrNotFound
	}
	if err != nil {
		return Role{}, err
	}
	rows, err := r.db.Query(ctx, `SELECT parent_role_id FROM role_edges WHERE role_id = $1 ORDER BY parent_role_id`, id)
	if err != nil {
		return Role{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var parent int64
		if err := rows.Scan(&parent); err != nil {
			return Role{}, err
		}
		role.ParentIDs = append(role.ParentIDs, parent)
	}
	return role, rows.Err()
}

// SetParents replaces the parent edges of a role. Hierarchy validation is the
// service's responsibility.
func (r *Repository) SetParents(ctx context.Context, roleID int64, parents []int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM role_edges WHERE role_id = $1`, roleID); err != nil {
		return err
	}
	for _, parent := range parents {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO role_edges (role_id, parent_role_id) VALUES ($1, $2)`, roleID, parent); err != nil {
			return err
		}
	}
	return nil
}

// AssignRole opens a membership window for the user. Returns shared.ErrDuplicate
// when an identical active membership already exists.
func (r *Repository) AssignRole(ctx context.Context, userID, roleID int64, from time.Time, until *time.Time) error {
	var active bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM user_roles
			WHERE user_id = $1 AND role_id = $2
			  AND valid_from <= $3 AND (valid_until IS NULL OR valid_until > $3)
		)`, userID, roleID, from).Scan(&active)
	if err != nil {
		return err
	}
	if active {
		return shared.ErrDuplicate
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id, valid_from, valid_until)
		VALUES ($1, $2, $3, $4)`, userID, roleID, from, until)
	return err
}

// RevokeRole closes all open membership windows for the pair at the given
// instant. Returns shared.ErrNotFound when no active membership exists.
func (r *Repository) RevokeRole(ctx context.Context, userID, roleID int64, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE user_roles SET valid_until = $3
		WHERE user_id = $1 AND role_id = $2
		  AND valid_from <= $3 AND (valid_until IS NULL OR valid_until > $3)`,
		userID, roleID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
