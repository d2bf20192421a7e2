package engine

// Detector identifies and classifies disagreements among the sources
// contributing to one permission code. Severity grading lives here and only
// here; other components carry the detector's output instead of re-grading.
type Detector struct{}

// NewDetector constructs a detector.
func NewDetector() *Detector {
	return &Detector{}
}

// Detect returns at most one conflict per kind for the given code.
func (d *Detector) Detect(code string, asserts []RawAssertion) []Conflict {
	var roles, overrides []RawAssertion
	critical := false
	for _, a := range asserts {
		if a.PermissionCode != code {
			continue
		}
		critical = critical || a.SystemCritical
		switch a.Source.Type {
		case SourceRole:
			roles = append(roles, a)
		case SourceOverride:
			overrides = append(overrides, a)
		}
	}

	var conflicts []Conflict
	if c, ok := d.roleVsOverride(code, roles, overrides, critical); ok {
		conflicts = append(conflicts, c)
	}
	if c, ok := d.overrideVsOverride(code, overrides, critical); ok {
		conflicts = append(conflicts, c)
	}
	if c, ok := d.expiryMismatch(code, overrides, critical); ok {
		conflicts = append(conflicts, c)
	}
	return conflicts
}

// roleVsOverride fires when a role grant and an override disagree.
func (d *Detector) roleVsOverride(code string, roles, overrides []RawAssertion, critical bool) (Conflict, bool) {
	var denies []RawAssertion
	for _, o := range overrides {
		if o.Decision == DecisionDeny {
			denies = append(denies, o)
		}
	}
	if len(roles) == 0 || len(denies) == 0 {
		return Conflict{}, false
	}
	involved := make([]SourceRef, 0, len(roles)+len(denies))
	for _, a := range roles {
		involved = append(involved, a.Source)
	}
	for _, a := range denies {
		involved = append(involved, a.Source)
	}
	return Conflict{
		Kind:            ConflictRoleVsOverride,
		Severity:        classify(critical, involved),
		PermissionCode:  code,
		InvolvedSources: involved,
	}, true
}

// overrideVsOverride fires when two overrides at equal numeric priority
// disagree.
func (d *Detector) overrideVsOverride(code string, overrides []RawAssertion, critical bool) (Conflict, bool) {
	var involved []SourceRef
	for i := range overrides {
		for j := i + 1; j < len(overrides); j++ {
			a, b := overrides[i], overrides[j]
			if a.Priority == b.Priority && a.Decision != b.Decision {
				involved = appendSource(involved, a.Source)
				involved = appendSource(involved, b.Source)
			}
		}
	}
	if len(involved) == 0 {
		return Conflict{}, false
	}
	return Conflict{
		Kind:            ConflictOverrideVsOverride,
		Severity:        classify(critical, involved),
		PermissionCode:  code,
		InvolvedSources: involved,
	}, true
}

// expiryMismatch fires when the currently winning override expires while an
// opposing override stays active, flipping the effective decision at a future
// instant purely through differing expiry, independent of priority.
func (d *Detector) expiryMismatch(code string, overrides []RawAssertion, critical bool) (Conflict, bool) {
	if len(overrides) < 2 {
		return Conflict{}, false
	}
	ordered := make([]RawAssertion, len(overrides))
	copy(ordered, overrides)
	SortByPrecedence(ordered)
	winner := ordered[0]
	if winner.ExpiresAt == nil {
		return Conflict{}, false
	}
	for _, o := range ordered[1:] {
		if o.Decision == winner.Decision {
			continue
		}
		if o.ExpiresAt == nil || o.ExpiresAt.After(*winner.ExpiresAt) {
			involved := []SourceRef{winner.Source, o.Source}
			return Conflict{
				Kind:            ConflictExpiryMismatch,
				Severity:        classify(critical, involved),
				PermissionCode:  code,
				InvolvedSources: involved,
			}, true
		}
	}
	return Conflict{}, false
}

// classify is the one severity rule: critical for system-critical codes, high
// when two or more distinct roles are involved, medium for exactly one role
// plus an override, low otherwise.
func classify(critical bool, involved []SourceRef) Severity {
	if critical {
		return SeverityCritical
	}
	roleCount := 0
	roleNames := make(map[string]bool)
	overrideInvolved := false
	for _, s := range involved {
		switch s.Type {
		case SourceRole:
			if !roleNames[s.RoleName] {
				roleNames[s.RoleName] = true
				roleCount++
			}
		case SourceOverride:
			overrideInvolved = true
		}
	}
	switch {
	case roleCount >= 2:
		return SeverityHigh
	case roleCount == 1 && overrideInvolved:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func appendSource(refs []SourceRef, ref SourceRef) []SourceRef {
	for _, existing := range refs {
		if existing == ref {
			return refs
		}
	}
	return append(refs, ref)
}
