package history

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entry is one immutable record of a mutation or access decision. Entries are
// inserted in the same transaction as the change they describe and are never
// updated or deleted.
type Entry struct {
	ID            uuid.UUID       `json:"id"`
	ActorID       int64           `json:"actorId"`
	Action        string          `json:"action"`
	Entity        string          `json:"entity"`
	EntityID      string          `json:"entityId"`
	UserID        int64           `json:"userId,omitempty"`
	Before        json.RawMessage `json:"before,omitempty"`
	After         json.RawMessage `json:"after,omitempty"`
	CorrelationID uuid.UUID       `json:"correlationId"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// Actions recorded by the mutation path.
const (
	ActionAssignDirect   = "direct_assignment.create"
	ActionRevokeDirect   = "direct_assignment.revoke"
	ActionCreateOverride = "override.create"
	ActionRevokeOverride = "override.revoke"
	ActionAssignRole     = "role_membership.create"
	ActionRevokeRole     = "role_membership.revoke"
)

// Filters narrows a history query. Zero values mean "any".
type Filters struct {
	UserID   int64
	ActorID  int64
	Action   string
	Entity   string
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}
