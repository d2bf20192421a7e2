package batch

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-hcm/atlas-authz/internal/assignments"
	"github.com/atlas-hcm/atlas-authz/internal/directory"
	"github.com/atlas-hcm/atlas-authz/internal/history"
	"github.com/atlas-hcm/atlas-authz/internal/platform/db"
)

// PGTxRunner runs each chunk in one RepeatableRead transaction over the pool,
// with every store bound to that transaction so the chunk's mutations and
// history entries commit together.
func PGTxRunner(pool *pgxpool.Pool) TxRunner {
	return func(ctx context.Context, fn func(Stores) error) error {
		return db.WithTx(ctx, pool, func(tx pgx.Tx) error {
			return fn(Stores{
				Assignments: assignments.NewRepository(tx),
				Memberships: directory.NewRepository(tx),
				History:     history.NewRecorder(tx),
			})
		})
	}
}
