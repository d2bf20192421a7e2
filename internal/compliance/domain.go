package compliance

import (
	"time"

	"github.com/google/uuid"

	"github.com/atlas-hcm/atlas-authz/internal/engine"
)

// Window bounds the period a report covers.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Section names within a report.
const (
	SectionExpiredGrants    = "expired grants"
	SectionOrphanedEntries  = "orphaned entries"
	SectionCriticalConflict = "critical conflicts"
	SectionAuditCoverage    = "audit coverage"
)

// Finding is one observation inside a report section. Findings are
// informational; violations additionally count against the score.
type Finding struct {
	Section string `json:"section"`
	Detail  string `json:"detail"`
	UserID  int64  `json:"userId,omitempty"`
}

// Violation is a scored policy breach.
type Violation struct {
	Section        string          `json:"section"`
	PermissionCode string          `json:"permissionCode,omitempty"`
	UserID         int64           `json:"userId,omitempty"`
	Severity       engine.Severity `json:"severity"`
	Detail         string          `json:"detail"`
}

// Report is the persisted outcome of one compliance run. Degraded marks a
// report generated while one or more sections could not read their source;
// such a report is still produced but must not be read as a clean bill.
type Report struct {
	ReportID    uuid.UUID   `json:"reportId"`
	GeneratedAt time.Time   `json:"generatedAt"`
	Window      Window      `json:"window"`
	Score       int         `json:"score"`
	Findings    []Finding   `json:"findings"`
	Violations  []Violation `json:"violations"`
	Degraded    bool        `json:"degraded"`
	Sections    []string    `json:"sections"`
}

// Score weights per violation severity. The score starts at 100 and never
// drops below zero.
var severityPenalty = map[engine.Severity]int{
	engine.SeverityLow:      1,
	engine.SeverityMedium:   3,
	engine.SeverityHigh:     7,
	engine.SeverityCritical: 15,
}

func scoreOf(violations []Violation) int {
	score := 100
	for _, v := range violations {
		score -= severityPenalty[v.Severity]
	}
	if score < 0 {
		score = 0
	}
	return score
}
