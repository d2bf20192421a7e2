package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx so the repository can
// run against the pool or inside a caller-owned transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence for the permission registry.
type Repository struct {
	db DBTX
}

// NewRepository constructs a repository.
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

// Ensure inserts the permission if absent and returns the stored row. An
// existing row is returned unchanged: codes are immutable once created.
func (r *Repository) Ensure(ctx context.Context, p Permission) (Permission, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO permissions (code, resource, action, description, is_system_critical, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (code) DO UPDATE SET code = permissions.code
		RETURNING code, resource, action, description, is_system_critical, created_at`,
		p.Code, p.Resource, p.Action, p.Description, p.IsSystemCritical)
	return scanPermission(row)
}

// Get fetches a permission by code.
func (r *Repository) Get(ctx context.Context, code string) (Permission, error) {
	row := r.db.QueryRow(ctx, `
		SELECT code, resource, action, description, is_system_critical, created_at
		FROM permissions WHERE code = $1`, code)
	p, err := scanPermission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, shared.ErrNotFound
	}
	return p, err
}

// List returns all permissions ordered by code.
func (r *Repository) List(ctx context.Context) ([]Permission, error) {
	rows, err := r.db.Query(ctx, `
		SELECT code, resource, action, description, is_system_critical, created_at
		FROM permissions ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.Code, &p.Resource, &p.Action, &p.Description, &p.IsSystemCritical, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// CriticalCodes returns the set of codes flagged system-critical.
func (r *Repository) CriticalCodes(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.Query(ctx, `SELECT code FROM permissions WHERE is_system_critical`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	critical := make(map[string]bool)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		critical[code] = true
	}
	return critical, rows.Err()
}

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	err := row.Scan(&p.Code, &p.Resource, &p.Action, &p.Description, &p.IsSystemCritical, &p.CreatedAt)
	return p, err
}
