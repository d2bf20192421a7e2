package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx. Record is always called
// with the mutation's transaction so the entry and the change commit or roll
// back together.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Recorder appends to and reads the immutable history log.
type Recorder struct {
	db DBTX
}

// NewRecorder constructs a recorder. For queries pass the pool; for writes
// construct one over the mutation's transaction.
func NewRecorder(db DBTX) *Recorder {
	return &Recorder{db: db}
}

// Record appends one entry. The id and occurredAt are filled when absent.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return fmt.Errorf("%w: history entry requires action/entity/entityId", shared.ErrValidation)
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CorrelationID == uuid.Nil {
		entry.CorrelationID = uuid.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO history_entries
			(id, actor_id, action, entity, entity_id, user_id, before, after, correlation_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.ActorID, entry.Action, entry.Entity, entry.EntityID,
		entry.UserID, entry.Before, entry.After, entry.CorrelationID, entry.OccurredAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return shared.ErrDuplicate
		}
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Result wraps one query window with paging information.
type Result struct {
	Entries []Entry       `json:"entries"`
	Paging  shared.Paging `json:"paging"`
}

// Query returns a time-ordered window of entries. It reads pageSize+1 rows to
// learn whether a next page exists without counting the table.
func (r *Recorder) Query(ctx context.Context, f Filters) (Result, error) {
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	rows, err := r.db.Query(ctx, `
		SELECT id, actor_id, action, entity, entity_id, user_id, before, after, correlation_id, occurred_at
		FROM history_entries
		WHERE ($1::bigint = 0 OR user_id = $1)
		  AND ($2::bigint = 0 OR actor_id = $2)
		  AND ($3::text = '' OR action = $3)
		  AND ($4::text = '' OR entity = $4)
		  AND ($5::timestamptz IS NULL OR occurred_at >= $5)
		  AND ($6::timestamptz IS NULL OR occurred_at < $6)
		ORDER BY occurred_at DESC, id DESC
		OFFSET $7 LIMIT $8`,
		f.UserID, f.ActorID, f.Action, f.Entity, nullableTime(f.From), nullableTime(f.To),
		offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Entity, &e.EntityID,
			&e.UserID, &e.Before, &e.After, &e.CorrelationID, &e.OccurredAt); err != nil {
			return Result{}, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}

	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	return Result{Entries: entries, Paging: shared.NewPaging(page, pageSize, hasNext)}, nil
}

// CountInWindow reports how many entries exist for an entity kind in a time
// window, used by the compliance audit-coverage section.
func (r *Recorder) CountInWindow(ctx context.Context, entity string, from, to time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM history_entries
		WHERE ($1::text = '' OR entity = $1)
		  AND occurred_at >= $2 AND occurred_at < $3`, entity, from, to).Scan(&count)
	return count, err
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
