package jobs

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atlas-hcm/atlas-authz/internal/assignments"
	"github.com/atlas-hcm/atlas-authz/internal/batch"
	"github.com/atlas-hcm/atlas-authz/internal/history"
	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

type sweepStore struct {
	expired  []assignments.Override
	revoked  []int64
	entries  []history.Entry
	staleIDs map[int64]bool
}

func (s *sweepStore) ExpiredActiveOverrides(context.Context, time.Time, int) ([]assignments.Override, error) {
	return s.expired, nil
}

func (s *sweepStore) CreateDirectAssignment(context.Context, assignments.DirectAssignment) (assignments.DirectAssignment, error) {
	return assignments.DirectAssignment{}, nil
}

func (s *sweepStore) RevokeDirectAssignment(context.Context, int64, string, time.Time) ([]int64, error) {
	return nil, shared.ErrNotFound
}

func (s *sweepStore) CreateOverride(context.Context, assignments.Override) (assignments.Override, error) {
	return assignments.Override{}, nil
}

func (s *sweepStore) ActiveOverridesForPermission(context.Context, int64, string, time.Time) ([]assignments.Override, error) {
	return nil, nil
}

func (s *sweepStore) RevokeOverride(_ context.Context, id int64, _ int, _ time.Time) error {
	if s.staleIDs[id] {
		return shared.ErrConcurrentModification
	}
	s.revoked = append(s.revoked, id)
	return nil
}

func (s *sweepStore) AssignRole(context.Context, int64, int64, time.Time, *time.Time) error {
	return nil
}

func (s *sweepStore) RevokeRole(context.Context, int64, int64, time.Time) error {
	return nil
}

func (s *sweepStore) Record(_ context.Context, entry history.Entry) error {
	s.entries = append(s.entries, entry)
	return nil
}

type sweepInvalidator struct {
	users map[int64]bool
}

func (i *sweepInvalidator) InvalidateUser(_ context.Context, userID int64) {
	i.users[userID] = true
}

func sweepTask(t *testing.T, limit int) *asynq.Task {
	t.Helper()
	task, err := NewOverrideSweepTask(OverrideSweepPayload{Limit: limit})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	return task
}

func TestOverrideSweepRevokesExpiredAndRecordsHistory(t *testing.T) {
	expiry := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	store := &sweepStore{
		expired: []assignments.Override{
			{ID: 1, UserID: 7, PermissionCode: "payroll.export", Decision: assignments.DecisionGrant, Version: 1, ExpiresAt: &expiry},
			{ID: 2, UserID: 8, PermissionCode: "payroll.view", Decision: assignments.DecisionDeny, Version: 1, ExpiresAt: &expiry},
		},
		staleIDs: map[int64]bool{},
	}
	run := batch.TxRunner(func(ctx context.Context, fn func(batch.Stores) error) error {
		return fn(batch.Stores{Assignments: store, Memberships: store, History: store})
	})
	inv := &sweepInvalidator{users: map[int64]bool{}}
	job := NewOverrideSweepJob(store, run, inv, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	if err := job.Handle(context.Background(), sweepTask(t, 10)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(store.revoked) != 2 {
		t.Fatalf("expected 2 revocations, got %v", store.revoked)
	}
	if len(store.entries) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(store.entries))
	}
	if store.entries[0].Action != history.ActionRevokeOverride {
		t.Fatalf("unexpected action %q", store.entries[0].Action)
	}
	var before assignments.Override
	if err := json.Unmarshal(store.entries[0].Before, &before); err != nil || before.ID != 1 {
		t.Fatalf("before snapshot missing: %v %+v", err, before)
	}
	if !inv.users[7] || !inv.users[8] {
		t.Fatalf("caches not invalidated for both users: %v", inv.users)
	}
}

func TestOverrideSweepSkipsConcurrentlyRevoked(t *testing.T) {
	expiry := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	store := &sweepStore{
		expired: []assignments.Override{
			{ID: 1, UserID: 7, Version: 1, ExpiresAt: &expiry},
			{ID: 2, UserID: 8, Version: 1, ExpiresAt: &expiry},
		},
		staleIDs: map[int64]bool{1: true},
	}
	run := batch.TxRunner(func(ctx context.Context, fn func(batch.Stores) error) error {
		return fn(batch.Stores{Assignments: store, Memberships: store, History: store})
	})
	inv := &sweepInvalidator{users: map[int64]bool{}}
	job := NewOverrideSweepJob(store, run, inv, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	if err := job.Handle(context.Background(), sweepTask(t, 10)); err != nil {
		t.Fatalf("a concurrently revoked override must not fail the sweep: %v", err)
	}
	if len(store.revoked) != 1 || store.revoked[0] != 2 {
		t.Fatalf("expected only override 2 revoked, got %v", store.revoked)
	}
	if len(store.entries) != 1 {
		t.Fatalf("skipped override must not leave history, got %d entries", len(store.entries))
	}
}

func TestOverrideSweepRejectsMalformedPayload(t *testing.T) {
	store := &sweepStore{staleIDs: map[int64]bool{}}
	run := batch.TxRunner(func(ctx context.Context, fn func(batch.Stores) error) error {
		return fn(batch.Stores{Assignments: store, Memberships: store, History: store})
	})
	job := NewOverrideSweepJob(store, run, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskOverrideSweep, []byte("{broken")))
	if err != asynq.SkipRetry {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}
