package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-hcm/atlas-authz/internal/assignments"
	"github.com/atlas-hcm/atlas-authz/internal/history"
	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

// AssignmentStore is the slice of the assignments repository the executor
// mutates. assignments.Repository satisfies it when constructed over the
// chunk's transaction.
type AssignmentStore interface {
	CreateDirectAssignment(ctx context.Context, a assignments.DirectAssignment) (assignments.DirectAssignment, error)
	RevokeDirectAssignment(ctx context.Context, userID int64, permissionCode string, at time.Time) ([]int64, error)
	CreateOverride(ctx context.Context, o assignments.Override) (assignments.Override, error)
	ActiveOverridesForPermission(ctx context.Context, userID int64, permissionCode string, at time.Time) ([]assignments.Override, error)
	RevokeOverride(ctx context.Context, id int64, version int, at time.Time) error
}

// MembershipStore mutates role memberships. directory.Repository satisfies it.
type MembershipStore interface {
	AssignRole(ctx context.Context, userID, roleID int64, from time.Time, until *time.Time) error
	RevokeRole(ctx context.Context, userID, roleID int64, at time.Time) error
}

// HistoryStore appends audit entries inside the chunk's transaction.
// history.Recorder satisfies it.
type HistoryStore interface {
	Record(ctx context.Context, entry history.Entry) error
}

// Stores bundles the transaction-bound stores handed to a chunk.
type Stores struct {
	Assignments AssignmentStore
	Memberships MembershipStore
	History     HistoryStore
}

// TxRunner opens one transaction, hands transaction-bound stores to fn, and
// commits when fn returns nil. Each chunk runs in its own transaction.
type TxRunner func(ctx context.Context, fn func(Stores) error) error

// Locker serialises mutations per user. shared.MutationLocker satisfies it.
type Locker interface {
	AcquireAll(ctx context.Context, ids []int64) (map[int64]string, error)
	ReleaseAll(ctx context.Context, tokens map[int64]string)
}

// CacheInvalidator drops cached decisions after a user's sources change.
// engine.Service satisfies it.
type CacheInvalidator interface {
	InvalidateUser(ctx context.Context, userID int64)
}

// Options tunes one execution.
type Options struct {
	BatchSize     int
	FailFast      bool
	ActorID       int64
	CorrelationID uuid.UUID
	// OnProgress is invoked after every committed chunk. May be nil.
	OnProgress func(Progress)
}

const (
	defaultBatchSize = 20
	maxBatchSize     = 500
)

// Executor applies validated batches in chunks. Each chunk is one transaction;
// cancellation is honoured at chunk boundaries so a committed chunk is never
// rolled back.
type Executor struct {
	validator *Validator
	run       TxRunner
	locker    Locker
	caches    CacheInvalidator
	clock     shared.Clock
	logger    *slog.Logger
}

// NewExecutor constructs an executor.
func NewExecutor(validator *Validator, run TxRunner, locker Locker, caches CacheInvalidator, clock shared.Clock, logger *slog.Logger) *Executor {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{validator: validator, run: run, locker: locker, caches: caches, clock: clock, logger: logger}
}

// Execute validates then applies ops. When validation produces errors no
// mutation happens and the returned ValidationResult carries the findings.
func (e *Executor) Execute(ctx context.Context, ops []AssignmentOperation, opts Options) (Result, ValidationResult, error) {
	validation, err := e.validator.Validate(ctx, ops)
	if err != nil {
		return Result{}, ValidationResult{}, fmt.Errorf("batch: validate: %w", err)
	}
	if !validation.Valid {
		return Result{Status: StatusValidating}, validation, nil
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.BatchSize > maxBatchSize {
		opts.BatchSize = maxBatchSize
	}
	if opts.CorrelationID == uuid.Nil {
		opts.CorrelationID = uuid.New()
	}

	tokens, err := e.locker.AcquireAll(ctx, distinctUsers(ops))
	if err != nil {
		return Result{}, validation, fmt.Errorf("batch: lock users: %w", err)
	}
	defer e.locker.ReleaseAll(context.WithoutCancel(ctx), tokens)

	result, err := e.apply(ctx, ops, opts)
	return result, validation, err
}

func (e *Executor) apply(ctx context.Context, ops []AssignmentOperation, opts Options) (Result, error) {
	result := Result{
		BatchID:   opts.CorrelationID,
		Status:    StatusExecuting,
		Items:     make([]ItemResult, 0, len(ops)),
		StartedAt: e.clock.Now(),
	}
	totalBatches := (len(ops) + opts.BatchSize - 1) / opts.BatchSize
	started := time.Now()
	abort := false

	for chunk := 0; chunk < totalBatches; chunk++ {
		if ctx.Err() != nil {
			result.Status = StatusCancelled
			e.markRemaining(&result, ops, chunk*opts.BatchSize, "batch cancelled")
			break
		}
		if abort {
			result.Status = StatusPartiallyFailed
			e.markRemaining(&result, ops, chunk*opts.BatchSize, "aborted after earlier failure")
			break
		}

		lo := chunk * opts.BatchSize
		hi := min(lo+opts.BatchSize, len(ops))
		var chunkItems []ItemResult
		err := e.run(ctx, func(stores Stores) error {
			var err error
			chunkItems, err = e.applyChunk(ctx, stores, ops[lo:hi], lo, opts)
			return err
		})
		if err != nil {
			// Transaction failure rolls the whole chunk back.
			e.logger.Error("batch chunk failed",
				slog.String("batchId", opts.CorrelationID.String()),
				slog.Int("chunk", chunk+1),
				slog.Any("error", err))
			result.Status = StatusPartiallyFailed
			e.markRemaining(&result, ops, lo, "chunk rolled back: "+err.Error())
			result.FinishedAt = e.clock.Now()
			return result, fmt.Errorf("batch %s chunk %d: %w", opts.CorrelationID, chunk+1, err)
		}

		for _, item := range chunkItems {
			switch item.Outcome {
			case ItemApplied:
				result.Applied++
			case ItemSkipped:
				result.Skipped++
			case ItemFailed:
				result.Failed++
				if opts.FailFast {
					abort = true
				}
			}
		}
		result.Items = append(result.Items, chunkItems...)

		for _, userID := range distinctUsers(ops[lo:hi]) {
			e.caches.InvalidateUser(ctx, userID)
		}

		if opts.OnProgress != nil {
			opts.OnProgress(progressAfter(opts.CorrelationID, &result, chunk+1, totalBatches, len(ops), time.Since(started)))
		}
	}

	if result.Status == StatusExecuting {
		if result.Failed > 0 {
			result.Status = StatusPartiallyFailed
		} else {
			result.Status = StatusCompleted
		}
	}
	result.FinishedAt = e.clock.Now()
	return result, nil
}

// applyChunk applies one slice of operations inside a single transaction.
// Domain failures (not found, version conflicts) are recorded per item; only
// infrastructure errors abort and roll back the chunk.
func (e *Executor) applyChunk(ctx context.Context, stores Stores, ops []AssignmentOperation, base int, opts Options) ([]ItemResult, error) {
	now := e.clock.Now()
	items := make([]ItemResult, 0, len(ops))
	for i, op := range ops {
		item := ItemResult{Index: base + i}
		entry, err := e.applyOne(ctx, stores, op, now, opts)
		switch {
		case err == nil:
			item.Outcome = ItemApplied
			if recErr := stores.History.Record(ctx, entry); recErr != nil {
				return nil, recErr
			}
		case errors.Is(err, shared.ErrDuplicate):
			// Already in the desired state. No mutation, no audit entry.
			item.Outcome = ItemSkipped
		case errors.Is(err, shared.ErrNotFound), errors.Is(err, shared.ErrConcurrentModification), errors.Is(err, shared.ErrValidation):
			item.Outcome = ItemFailed
			item.Error = err.Error()
		default:
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (e *Executor) applyOne(ctx context.Context, stores Stores, op AssignmentOperation, now time.Time, opts Options) (history.Entry, error) {
	entry := history.Entry{
		ActorID:       opts.ActorID,
		UserID:        op.UserID,
		CorrelationID: opts.CorrelationID,
		OccurredAt:    now,
	}
	switch op.Kind {
	case OpAssign:
		created, err := stores.Assignments.CreateDirectAssignment(ctx, assignments.DirectAssignment{
			UserID:         op.UserID,
			PermissionCode: op.PermissionCode,
			GrantedAt:      now,
			ExpiresAt:      op.ExpiresAt,
			GrantedBy:      opts.ActorID,
		})
		if err != nil {
			return entry, err
		}
		entry.Action = history.ActionAssignDirect
		entry.Entity = "direct_assignment"
		entry.EntityID = fmt.Sprintf("%d", created.ID)
		entry.After = mustJSON(created)
	case OpRevoke:
		ids, err := stores.Assignments.RevokeDirectAssignment(ctx, op.UserID, op.PermissionCode, now)
		if err != nil {
			return entry, err
		}
		entry.Action = history.ActionRevokeDirect
		entry.Entity = "direct_assignment"
		entry.EntityID = fmt.Sprintf("%d", ids[0])
		entry.After = mustJSON(map[string]any{"revokedIds": ids, "permissionCode": op.PermissionCode})
	case OpOverrideSet:
		o := assignments.Override{
			UserID:         op.UserID,
			PermissionCode: op.PermissionCode,
			Decision:       *op.Decision,
			Priority:       op.Priority,
			Scope:          assignments.ScopeGlobal,
			ResourceID:     op.ResourceID,
			CreatedAt:      now,
			ExpiresAt:      op.ExpiresAt,
			CreatedBy:      opts.ActorID,
		}
		if op.Scope != nil {
			o.Scope = *op.Scope
		}
		created, err := stores.Assignments.CreateOverride(ctx, o)
		if err != nil {
			return entry, err
		}
		entry.Action = history.ActionCreateOverride
		entry.Entity = "override"
		entry.EntityID = fmt.Sprintf("%d", created.ID)
		entry.After = mustJSON(created)
	case OpOverrideClear:
		active, err := stores.Assignments.ActiveOverridesForPermission(ctx, op.UserID, op.PermissionCode, now)
		if err != nil {
			return entry, err
		}
		if len(active) == 0 {
			return entry, shared.ErrDuplicate
		}
		ids := make([]int64, 0, len(active))
		for _, o := range active {
			if err := stores.Assignments.RevokeOverride(ctx, o.ID, o.Version, now); err != nil {
				return entry, err
			}
			ids = append(ids, o.ID)
		}
		entry.Action = history.ActionRevokeOverride
		entry.Entity = "override"
		entry.EntityID = fmt.Sprintf("%d", ids[0])
		entry.Before = mustJSON(active)
		entry.After = mustJSON(map[string]any{"revokedIds": ids})
	case OpRoleAssign:
		if err := stores.Memberships.AssignRole(ctx, op.UserID, op.RoleID, now, op.ExpiresAt); err != nil {
			return entry, err
		}
		entry.Action = history.ActionAssignRole
		entry.Entity = "role_membership"
		entry.EntityID = fmt.Sprintf("%d:%d", op.UserID, op.RoleID)
		entry.After = mustJSON(op)
	case OpRoleRevoke:
		if err := stores.Memberships.RevokeRole(ctx, op.UserID, op.RoleID, now); err != nil {
			return entry, err
		}
		entry.Action = history.ActionRevokeRole
		entry.Entity = "role_membership"
		entry.EntityID = fmt.Sprintf("%d:%d", op.UserID, op.RoleID)
		entry.After = mustJSON(op)
	default:
		return entry, fmt.Errorf("%w: unknown operation kind %q", shared.ErrValidation, op.Kind)
	}
	return entry, nil
}

func (e *Executor) markRemaining(result *Result, ops []AssignmentOperation, from int, reason string) {
	for i := from; i < len(ops); i++ {
		result.Items = append(result.Items, ItemResult{Index: i, Outcome: ItemSkipped, Error: reason})
		result.Skipped++
	}
}

func progressAfter(batchID uuid.UUID, result *Result, chunksDone, totalBatches, totalOps int, elapsed time.Duration) Progress {
	processed := result.Applied + result.Failed + result.Skipped
	p := Progress{
		BatchID:      batchID,
		Completed:    result.Applied,
		Failed:       result.Failed,
		Percentage:   float64(processed) / float64(totalOps) * 100,
		CurrentBatch: chunksDone,
		TotalBatches: totalBatches,
	}
	if chunksDone > 0 && chunksDone < totalBatches {
		avg := elapsed / time.Duration(chunksDone)
		p.ETASeconds = (avg * time.Duration(totalBatches-chunksDone)).Seconds()
	}
	return p
}

func distinctUsers(ops []AssignmentOperation) []int64 {
	seen := map[int64]struct{}{}
	var ids []int64
	for _, op := range ops {
		if _, ok := seen[op.UserID]; ok {
			continue
		}
		seen[op.UserID] = struct{}{}
		ids = append(ids, op.UserID)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
