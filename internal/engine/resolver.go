package engine

import (
	"sort"
	"time"
)

// Resolver merges the assertions for one permission code into a single
// effective decision using the fixed tier order and the deny-overrides
// policy. Deny outranking grant at equal or higher tier is a deliberate
// fail-safe default and must not be weakened.
type Resolver struct{}

// NewResolver constructs a resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve computes the effective permission for code. conflicts come from the
// ConflictDetector and are carried on the result untouched; the resolver
// never raises an error for disagreeing sources.
func (r *Resolver) Resolve(code string, asserts []RawAssertion, conflicts []Conflict, evaluatedAt time.Time) EffectivePermission {
	scoped := make([]RawAssertion, 0, len(asserts))
	for _, a := range asserts {
		if a.PermissionCode == code {
			scoped = append(scoped, a)
		}
	}

	if len(scoped) == 0 {
		return EffectivePermission{
			PermissionCode: code,
			IsGranted:      false,
			WinningSource:  SourceRef{Type: SourceDefault},
			Tier:           TierDefaultDeny,
			Conflicts:      conflicts,
			EvaluatedAt:    evaluatedAt,
		}
	}

	SortByPrecedence(scoped)
	winner := scoped[0]

	// Fail-safe: a disagreement at the winner's tier and numeric priority
	// resolves to deny even when createdAt would order a grant first.
	if winner.Decision == DecisionGrant {
		for _, a := range scoped[1:] {
			if a.Tier() != winner.Tier() || a.Priority != winner.Priority {
				break
			}
			if a.Decision == DecisionDeny {
				winner = a
				break
			}
		}
	}

	return EffectivePermission{
		PermissionCode: code,
		IsGranted:      winner.Decision == DecisionGrant,
		WinningSource:  winner.Source,
		Tier:           winner.Tier(),
		Priority:       winner.Priority,
		Conflicts:      conflicts,
		EvaluatedAt:    evaluatedAt,
	}
}

// SortByPrecedence orders assertions winner-first: tier ascending, then
// numeric priority descending, then most recent createdAt, then deny before
// grant, with the source label as a final deterministic tie-break.
func SortByPrecedence(asserts []RawAssertion) {
	sort.SliceStable(asserts, func(i, j int) bool {
		a, b := asserts[i], asserts[j]
		if a.Tier() != b.Tier() {
			return a.Tier() < b.Tier()
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.Decision != b.Decision {
			return a.Decision == DecisionDeny
		}
		return a.Source.Label() < b.Source.Label()
	})
}
