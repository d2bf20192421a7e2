package batch

import (
	"time"

	"github.com/google/uuid"

	"github.com/atlas-hcm/atlas-authz/internal/assignments"
)

// OperationKind names one mutation type a batch item can carry.
type OperationKind string

const (
	OpAssign        OperationKind = "assign"
	OpRevoke        OperationKind = "revoke"
	OpOverrideSet   OperationKind = "override_set"
	OpOverrideClear OperationKind = "override_clear"
	OpRoleAssign    OperationKind = "role_assign"
	OpRoleRevoke    OperationKind = "role_revoke"
)

// AssignmentOperation is one item of a batch. Field requirements depend on
// Kind and are enforced by the validator before any mutation.
type AssignmentOperation struct {
	Kind           OperationKind         `json:"kind" validate:"required,oneof=assign revoke override_set override_clear role_assign role_revoke"`
	UserID         int64                 `json:"userId" validate:"required,gt=0"`
	PermissionCode string                `json:"permissionCode,omitempty" validate:"omitempty,max=200"`
	RoleID         int64                 `json:"roleId,omitempty" validate:"omitempty,gt=0"`
	Decision       *assignments.Decision `json:"decision,omitempty" validate:"omitempty,oneof=grant deny"`
	Priority       int                   `json:"priority,omitempty" validate:"gte=0"`
	Scope          *assignments.Scope    `json:"scope,omitempty" validate:"omitempty,oneof=global resource-instance"`
	ResourceID     *string               `json:"resourceId,omitempty"`
	ExpiresAt      *time.Time            `json:"expiresAt,omitempty"`
}

// IssueSeverity distinguishes blocking errors from advisory warnings.
type IssueSeverity string

const (
	IssueError   IssueSeverity = "error"
	IssueWarning IssueSeverity = "warning"
)

// Issue codes produced by validation.
const (
	IssueMalformed          = "malformed_operation"
	IssueUnknownPermission  = "unknown_permission"
	IssueUnknownUser        = "unknown_user"
	IssueDuplicateOperation = "duplicate_operation"
	IssueRevokeBeforeAssign = "revoke_before_assign"
	IssueRoleOverlap        = "role_permission_overlap"
)

// ValidationIssue is one itemized finding against an operation index.
type ValidationIssue struct {
	Index    int           `json:"index"`
	Code     string        `json:"code"`
	Severity IssueSeverity `json:"severity"`
	Message  string        `json:"message"`
}

// ValidationResult aggregates pre-mutation findings. Valid is false when any
// error-severity issue exists.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Status is the batch state machine's terminal or in-flight state.
type Status string

const (
	StatusValidating      Status = "validating"
	StatusExecuting       Status = "executing"
	StatusCompleted       Status = "completed"
	StatusPartiallyFailed Status = "partially_failed"
	StatusCancelled       Status = "cancelled"
)

// ItemOutcome describes how one operation ended.
type ItemOutcome string

const (
	ItemApplied ItemOutcome = "applied"
	ItemSkipped ItemOutcome = "skipped"
	ItemFailed  ItemOutcome = "failed"
)

// ItemResult pairs an operation index with its outcome.
type ItemResult struct {
	Index   int         `json:"index"`
	Outcome ItemOutcome `json:"outcome"`
	Error   string      `json:"error,omitempty"`
}

// Progress is emitted after each chunk commits.
type Progress struct {
	BatchID      uuid.UUID `json:"batchId"`
	Completed    int       `json:"completed"`
	Failed       int       `json:"failed"`
	Percentage   float64   `json:"percentage"`
	CurrentBatch int       `json:"currentBatch"`
	TotalBatches int       `json:"totalBatches"`
	ETASeconds   float64   `json:"etaSeconds"`
}

// Result is the final outcome of a batch execution.
type Result struct {
	BatchID    uuid.UUID    `json:"batchId"`
	Status     Status       `json:"status"`
	Applied    int          `json:"applied"`
	Skipped    int          `json:"skipped"`
	Failed     int          `json:"failed"`
	Items      []ItemResult `json:"items"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
}
