package assignments

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

const uniqueViolation = "23505"

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence for direct assignments
// and overrides.
type Repository struct {
	db DBTX
}

// NewRepository constructs a repository.
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

// ActiveDirectAssignments returns assignments valid at the logical timestamp.
func (r *Repository) ActiveDirectAssignments(ctx context.Context, userID int64, at time.Time) ([]DirectAssignment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, permission_code, granted_at, expires_at, granted_by, revoked_at
		FROM direct_assignments
		WHERE user_id = $1
		  AND granted_at <= $2
		  AND (expires_at IS NULL OR expires_at > $2)
		  AND (revoked_at IS NULL OR revoked_at > $2)
		ORDER BY id`, userID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []DirectAssignment
	for rows.Next() {
		var a DirectAssignment
		if err := rows.Scan(&a.ID, &a.UserID, &a.PermissionCode, &a.GrantedAt, &a.ExpiresAt, &a.GrantedBy, &a.RevokedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// ActiveOverrides returns overrides valid at the logical timestamp.
func (r *Repository) ActiveOverrides(ctx context.Context, userID int64, at time.Time) ([]Override, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, permission_code, decision, priority, scope, resource_id,
		       created_at, expires_at, created_by, revoked_at, version
		FROM overrides
		WHERE user_id = $1
		  AND created_at <= $2
		  AND (expires_at IS NULL OR expires_at > $2)
		  AND (revoked_at IS NULL OR revoked_at > $2)
		ORDER BY id`, userID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOverrides(rows)
}

// CreateDirectAssignment inserts a grant. Returns shared.ErrDuplicate when an
// identical assignment is already active, which callers treat as an
// idempotent no-op.
func (r *Repository) CreateDirectAssignment(ctx context.Context, a DirectAssignment) (DirectAssignment, error) {
	var active bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM direct_assignments
			WHERE user_id = $1 AND permission_code = $2
			  AND revoked_at IS NULL
			  AND (expires_at IS NULL OR expires_at > $3)
		)`, a.UserID, a.PermissionCode, a.GrantedAt).Scan(&active)
	if err != nil {
		return DirectAssignment{}, err
	}
	if active {
		return DirectAssignment{}, shared.ErrDuplicate
	}
	err = r.db.QueryRow(ctx, `
		INSERT INTO direct_assignments (user_id, permission_code, granted_at, expires_at, granted_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`, a.UserID, a.PermissionCode, a.GrantedAt, a.ExpiresAt, a.GrantedBy).Scan(&a.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return DirectAssignment{}, shared.ErrDuplicate
		}
		return DirectAssignment{}, err
	}
	return a, nil
}

// RevokeDirectAssignment closes every active assignment for the pair at the
// given instant. Returns shared.ErrNotFound when nothing was active.
func (r *Repository) RevokeDirectAssignment(ctx context.Context, userID int64, permissionCode string, at time.Time) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE direct_assignments SET revoked_at = $3
		WHERE user_id = $1 AND permission_code = $2
		  AND granted_at <= $3
		  AND (expires_at IS NULL OR expires_at > $3)
		  AND revoked_at IS NULL
		RETURNING id`, userID, permissionCode, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, shared.ErrNotFound
	}
	return ids, nil
}

// CreateOverride inserts an override.
func (r *Repository) CreateOverride(ctx context.Context, o Override) (Override, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO overrides (user_id, permission_code, decision, priority, scope, resource_id,
		                       created_at, expires_at, created_by, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
		RETURNING id, version`,
		o.UserID, o.PermissionCode, o.Decision, o.Priority, o.Scope, o.ResourceID,
		o.CreatedAt, o.ExpiresAt, o.CreatedBy).Scan(&o.ID, &o.Version)
	if err != nil {
		return Override{}, err
	}
	return o, nil
}

// GetOverride fetches an override by id.
func (r *Repository) GetOverride(ctx context.Context, id int64) (Override, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, user_id, permission_code, decision, priority, scope, resource_id,
		       created_at, expires_at, created_by, revoked_at, version
		FROM overrides WHERE id = $1`, id)
	o, err := scanOverride(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Override{}, shared.ErrNotFound
	}
	return o, err
}

// RevokeOverride marks an override revoked, guarded by its version. A version
// mismatch surfaces as shared.ErrConcurrentModification for caller retry.
func (r *Repository) RevokeOverride(ctx context.Context, id int64, version int, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE overrides SET revoked_at = $3, version = version + 1
		WHERE id = $1 AND version = $2 AND revoked_at IS NULL`, id, version, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		o, err := r.GetOverride(ctx, id)
		if err != nil {
			return err
		}
		if o.RevokedAt != nil {
			return shared.ErrNotFound
		}
		return shared.ErrConcurrentModification
	}
	return nil
}

// ActiveOverridesForPermission returns active overrides for one (user,
// permission) pair, used when clearing overrides through the batch path.
func (r *Repository) ActiveOverridesForPermission(ctx context.Context, userID int64, permissionCode string, at time.Time) ([]Override, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, permission_code, decision, priority, scope, resource_id,
		       created_at, expires_at, created_by, revoked_at, version
		FROM overrides
		WHERE user_id = $1 AND permission_code = $2
		  AND created_at <= $3
		  AND (expires_at IS NULL OR expires_at > $3)
		  AND (revoked_at IS NULL OR revoked_at > $3)
		ORDER BY id`, userID, permissionCode, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOverrides(rows)
}

// ExpiredActiveOverrides lists overrides whose expiry has passed but are not
// yet revoked, for the sweep job and the compliance analyzer.
func (r *Repository) ExpiredActiveOverrides(ctx context.Context, asOf time.Time, limit int) ([]Override, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, permission_code, decision, priority, scope, resource_id,
		       created_at, expires_at, created_by, revoked_at, version
		FROM overrides
		WHERE revoked_at IS NULL AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`, asOf, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOverrides(rows)
}

// OrphanedOverrides lists active overrides whose permission code is missing
// from the registry.
func (r *Repository) OrphanedOverrides(ctx context.Context, asOf time.Time) ([]Override, error) {
	rows, err := r.db.Query(ctx, `
		SELECT o.id, o.user_id, o.permission_code, o.decision, o.priority, o.scope, o.resource_id,
		       o.created_at, o.expires_at, o.created_by, o.revoked_at, o.version
		FROM overrides o
		LEFT JOIN permissions p ON p.code = o.permission_code
		WHERE p.code IS NULL
		  AND o.revoked_at IS NULL
		  AND (o.expires_at IS NULL OR o.expires_at > $1)
		ORDER BY o.id`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOverrides(rows)
}

// UsersWithActiveOverrides returns the distinct users holding at least one
// active override, for conflict scanning.
func (r *Repository) UsersWithActiveOverrides(ctx context.Context, asOf time.Time) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT user_id FROM overrides
		WHERE created_at <= $1
		  AND (expires_at IS NULL OR expires_at > $1)
		  AND (revoked_at IS NULL OR revoked_at > $1)
		ORDER BY user_id`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanOverrides(rows pgx.Rows) ([]Override, error) {
	var result []Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func scanOverride(row pgx.Row) (Override, error) {
	var o Override
	err := row.Scan(&o.ID, &o.UserID, &o.PermissionCode, &o.Decision, &o.Priority, &o.Scope, &o.ResourceID,
		&o.CreatedAt, &o.ExpiresAt, &o.CreatedBy, &o.RevokedAt, &o.Version)
	return o, err
}
