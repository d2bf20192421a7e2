package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

type captureDB struct {
	execSQL  string
	execArgs []any
	execErr  error
}

func (c *captureDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.execSQL = sql
	c.execArgs = args
	return pgconn.CommandTag{}, c.execErr
}

func (c *captureDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (c *captureDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func TestRecordRequiresActionEntityAndID(t *testing.T) {
	rec := NewRecorder(&captureDB{})
	err := rec.Record(context.Background(), Entry{Action: ActionAssignDirect, Entity: "direct_assignment"})
	if !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRecordFillsDefaults(t *testing.T) {
	db := &captureDB{}
	rec := NewRecorder(db)
	err := rec.Record(context.Background(), Entry{
		ActorID:  1,
		Action:   ActionCreateOverride,
		Entity:   "override",
		EntityID: "17",
		UserID:   42,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(db.execArgs) != 10 {
		t.Fatalf("expected 10 insert args, got %d", len(db.execArgs))
	}
	if id, ok := db.execArgs[0].(uuid.UUID); !ok || id == uuid.Nil {
		t.Fatalf("expected generated entry id, got %v", db.execArgs[0])
	}
	if corr, ok := db.execArgs[8].(uuid.UUID); !ok || corr == uuid.Nil {
		t.Fatalf("expected generated correlation id, got %v", db.execArgs[8])
	}
	if at, ok := db.execArgs[9].(time.Time); !ok || at.IsZero() {
		t.Fatalf("expected occurredAt to be filled, got %v", db.execArgs[9])
	}
}

func TestRecordPreservesCallerIdentifiers(t *testing.T) {
	db := &captureDB{}
	rec := NewRecorder(db)
	id := uuid.New()
	corr := uuid.New()
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	err := rec.Record(context.Background(), Entry{
		ID:            id,
		ActorID:       1,
		Action:        ActionRevokeDirect,
		Entity:        "direct_assignment",
		EntityID:      "3",
		CorrelationID: corr,
		OccurredAt:    at,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if db.execArgs[0] != id || db.execArgs[8] != corr {
		t.Fatal("caller-provided identifiers must not be regenerated")
	}
	if got := db.execArgs[9].(time.Time); !got.Equal(at) {
		t.Fatalf("occurredAt overwritten: %v", got)
	}
}

func TestRecordMapsUniqueViolationToDuplicate(t *testing.T) {
	db := &captureDB{execErr: &pgconn.PgError{Code: "23505"}}
	rec := NewRecorder(db)
	err := rec.Record(context.Background(), Entry{
		Action: ActionAssignDirect, Entity: "direct_assignment", EntityID: "1",
	})
	if !errors.Is(err, shared.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}
