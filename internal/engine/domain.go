package engine

import (
	"fmt"
	"time"

	"github.com/atlas-hcm/atlas-authz/internal/assignments"
)

// Decision is the outcome a source asserts, or the node state in an
// explanation tree.
type Decision string

const (
	DecisionGrant   Decision = "grant"
	DecisionDeny    Decision = "deny"
	DecisionInherit Decision = "inherit"
)

// SourceType identifies one contributor kind to a permission decision.
type SourceType string

const (
	SourceRole     SourceType = "role"
	SourceDirect   SourceType = "direct"
	SourceOverride SourceType = "override"
	SourceDefault  SourceType = "default"
)

// Tier is the priority class used to resolve competing sources. Lower wins.
type Tier int

const (
	TierDenyOverride  Tier = 0
	TierGrantOverride Tier = 1
	TierDirect        Tier = 2
	TierRole          Tier = 3
	TierDefaultDeny   Tier = 4
)

// SourceRef names the concrete source behind an assertion in a serializable
// way, for winningSource and conflict reporting.
type SourceRef struct {
	Type     SourceType `json:"type"`
	ID       int64      `json:"id,omitempty"`
	RoleName string     `json:"roleName,omitempty"`
}

// Label renders a short human-readable identity such as "role:manager" or
// "override:17".
func (s SourceRef) Label() string {
	switch s.Type {
	case SourceRole:
		return "role:" + s.RoleName
	case SourceDirect:
		return fmt.Sprintf("direct:%d", s.ID)
	case SourceOverride:
		return fmt.Sprintf("override:%d", s.ID)
	default:
		return "default:deny"
	}
}

// RawAssertion is one still-unresolved permission assertion gathered from a
// source at a logical timestamp.
type RawAssertion struct {
	PermissionCode string            `json:"permissionCode"`
	Source         SourceRef         `json:"source"`
	Decision       Decision          `json:"decision"`
	Priority       int               `json:"priority"`
	Scope          assignments.Scope `json:"scope,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	ExpiresAt      *time.Time        `json:"expiresAt,omitempty"`
	SystemCritical bool              `json:"-"`
}

// Tier derives the priority class from the source kind and decision.
func (a RawAssertion) Tier() Tier {
	switch a.Source.Type {
	case SourceOverride:
		if a.Decision == DecisionDeny {
			return TierDenyOverride
		}
		return TierGrantOverride
	case SourceDirect:
		return TierDirect
	case SourceRole:
		return TierRole
	default:
		return TierDefaultDeny
	}
}

// ConflictKind classifies a disagreement among sources.
type ConflictKind string

const (
	ConflictRoleVsOverride     ConflictKind = "role_vs_override"
	ConflictOverrideVsOverride ConflictKind = "override_vs_override"
	ConflictExpiryMismatch     ConflictKind = "expiry_mismatch"
)

// Severity grades a conflict.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Conflict is a detected disagreement between two or more sources for the
// same permission. Conflicts are data, never errors: the resolver still
// returns a definite decision alongside them.
type Conflict struct {
	Kind            ConflictKind `json:"kind"`
	Severity        Severity     `json:"severity"`
	PermissionCode  string       `json:"permissionCode"`
	InvolvedSources []SourceRef  `json:"involvedSources"`
}

// EffectivePermission is the final decision for one user and permission after
// merging all sources. Always re-derivable, never persisted as ground truth.
type EffectivePermission struct {
	PermissionCode string     `json:"permissionCode"`
	IsGranted      bool       `json:"isGranted"`
	WinningSource  SourceRef  `json:"winningSource"`
	Tier           Tier       `json:"tier"`
	Priority       int        `json:"priority"`
	Conflicts      []Conflict `json:"conflicts,omitempty"`
	EvaluatedAt    time.Time  `json:"evaluatedAt"`
}

// InheritanceNode renders the resolution as an explainable tree. The root
// carries the winning source; each child level holds the assertions it
// overrides, marked inherit.
type InheritanceNode struct {
	Level      int               `json:"level"`
	SourceType SourceType        `json:"sourceType"`
	Source     SourceRef         `json:"source"`
	Decision   Decision          `json:"decision"`
	Priority   int               `json:"priority"`
	Children   []InheritanceNode `json:"children,omitempty"`
}
