package engine

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-hcm/atlas-authz/internal/assignments"
	"github.com/atlas-hcm/atlas-authz/internal/catalog"
	"github.com/atlas-hcm/atlas-authz/internal/directory"
	"github.com/atlas-hcm/atlas-authz/internal/platform/db"
)

// PGSnapshot binds all sources to one read-only RepeatableRead transaction so
// the collector never mixes reads from different points in time.
func PGSnapshot(pool *pgxpool.Pool) SnapshotRunner {
	return func(ctx context.Context, fn func(Sources) error) error {
		return db.WithSnapshot(ctx, pool, func(tx pgx.Tx) error {
			return fn(Sources{
				Directory:   directory.NewService(directory.NewRepository(tx)),
				Assignments: assignments.NewRepository(tx),
				Catalog:     catalog.NewRepository(tx),
			})
		})
	}
}
