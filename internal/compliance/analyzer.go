package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/atlas-hcm/atlas-authz/internal/assignments"
	"github.com/atlas-hcm/atlas-authz/internal/engine"
	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

// OverrideAuditor reads override state for the report sections.
// assignments.Repository satisfies it.
type OverrideAuditor interface {
	ExpiredActiveOverrides(ctx context.Context, asOf time.Time, limit int) ([]assignments.Override, error)
	OrphanedOverrides(ctx context.Context, asOf time.Time) ([]assignments.Override, error)
	UsersWithActiveOverrides(ctx context.Context, asOf time.Time) ([]int64, error)
}

// ConflictScanner evaluates a user and returns detected conflicts.
// engine.Service satisfies it.
type ConflictScanner interface {
	Conflicts(ctx context.Context, userID int64, at time.Time) ([]engine.Conflict, error)
}

// AuditCounter reports history volume in a window. history.Recorder
// satisfies it.
type AuditCounter interface {
	CountInWindow(ctx context.Context, entity string, from, to time.Time) (int, error)
}

// Notifier receives every finished report. The default implementation logs;
// deployments hang alerting off it.
type Notifier interface {
	ReportGenerated(ctx context.Context, report Report)
}

type logNotifier struct {
	logger    *slog.Logger
	threshold int
}

func (n logNotifier) ReportGenerated(_ context.Context, report Report) {
	level := slog.LevelInfo
	if report.Score < n.threshold || report.Degraded {
		level = slog.LevelWarn
	}
	n.logger.Log(context.Background(), level, "compliance report generated",
		slog.String("reportId", report.ReportID.String()),
		slog.Int("score", report.Score),
		slog.Int("violations", len(report.Violations)),
		slog.Bool("degraded", report.Degraded))
}

// NewLogNotifier returns a Notifier that logs reports, warning below the
// score threshold.
func NewLogNotifier(logger *slog.Logger, threshold int) Notifier {
	if threshold <= 0 {
		threshold = 70
	}
	return logNotifier{logger: logger, threshold: threshold}
}

// Analyzer assembles compliance reports from the override store, the
// evaluation engine, and the history log. A section whose source fails marks
// the report degraded instead of failing the run.
type Analyzer struct {
	overrides OverrideAuditor
	conflicts ConflictScanner
	audit     AuditCounter
	clock     shared.Clock
	logger    *slog.Logger

	maxScannedUsers int
	titler          cases.Caser
}

// NewAnalyzer constructs an analyzer. maxScannedUsers caps the conflict scan;
// zero means the default of 200.
func NewAnalyzer(overrides OverrideAuditor, conflicts ConflictScanner, audit AuditCounter, clock shared.Clock, logger *slog.Logger, maxScannedUsers int) *Analyzer {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if maxScannedUsers <= 0 {
		maxScannedUsers = 200
	}
	return &Analyzer{
		overrides:       overrides,
		conflicts:       conflicts,
		audit:           audit,
		clock:           clock,
		logger:          logger,
		maxScannedUsers: maxScannedUsers,
		titler:          cases.Title(language.English),
	}
}

// Generate runs every section and scores the result.
func (a *Analyzer) Generate(ctx context.Context, window Window) (Report, error) {
	now := a.clock.Now()
	if window.To.IsZero() {
		window.To = now
	}
	if window.From.IsZero() {
		window.From = window.To.Add(-30 * 24 * time.Hour)
	}
	if !window.From.Before(window.To) {
		return Report{}, fmt.Errorf("%w: report window must have from < to", shared.ErrValidation)
	}

	report := Report{
		ReportID:    uuid.New(),
		GeneratedAt: now,
		Window:      window,
	}
	for _, section := range []string{SectionExpiredGrants, SectionOrphanedEntries, SectionCriticalConflict, SectionAuditCoverage} {
		report.Sections = append(report.Sections, a.titler.String(section))
	}

	a.expiredGrants(ctx, now, &report)
	a.orphanedEntries(ctx, now, &report)
	a.criticalConflicts(ctx, now, &report)
	a.auditCoverage(ctx, window, &report)

	report.Score = scoreOf(report.Violations)
	return report, nil
}

func (a *Analyzer) degrade(section string, err error, report *Report) {
	a.logger.Warn("compliance section degraded",
		slog.String("section", section), slog.Any("error", err))
	report.Degraded = true
	report.Findings = append(report.Findings, Finding{
		Section: section,
		Detail:  "source unavailable, section skipped: " + err.Error(),
	})
}

// expiredGrants flags overrides whose expiry passed but remain unrevoked, so
// they would spring back to life if the expiry were extended.
func (a *Analyzer) expiredGrants(ctx context.Context, now time.Time, report *Report) {
	expired, err := a.overrides.ExpiredActiveOverrides(ctx, now, 0)
	if err != nil {
		a.degrade(SectionExpiredGrants, err, report)
		return
	}
	for _, o := range expired {
		severity := engine.SeverityLow
		if o.Decision == assignments.DecisionGrant {
			severity = engine.SeverityMedium
		}
		report.Violations = append(report.Violations, Violation{
			Section:        SectionExpiredGrants,
			PermissionCode: o.PermissionCode,
			UserID:         o.UserID,
			Severity:       severity,
			Detail:         fmt.Sprintf("override %d expired %s but was never revoked", o.ID, o.ExpiresAt.Format(time.RFC3339)),
		})
	}
	report.Findings = append(report.Findings, Finding{
		Section: SectionExpiredGrants,
		Detail:  fmt.Sprintf("%d expired overrides pending revocation", len(expired)),
	})
}

// orphanedEntries flags overrides that reference permission codes no longer
// registered in the catalog.
func (a *Analyzer) orphanedEntries(ctx context.Context, now time.Time, report *Report) {
	orphans, err := a.overrides.OrphanedOverrides(ctx, now)
	if err != nil {
		a.degrade(SectionOrphanedEntries, err, report)
		return
	}
	for _, o := range orphans {
		report.Violations = append(report.Violations, Violation{
			Section:        SectionOrphanedEntries,
			PermissionCode: o.PermissionCode,
			UserID:         o.UserID,
			Severity:       engine.SeverityMedium,
			Detail:         fmt.Sprintf("override %d references unregistered permission %q", o.ID, o.PermissionCode),
		})
	}
	report.Findings = append(report.Findings, Finding{
		Section: SectionOrphanedEntries,
		Detail:  fmt.Sprintf("%d overrides reference unknown permissions", len(orphans)),
	})
}

// criticalConflicts re-evaluates every user holding an active override and
// surfaces high and critical conflicts.
func (a *Analyzer) criticalConflicts(ctx context.Context, now time.Time, report *Report) {
	users, err := a.overrides.UsersWithActiveOverrides(ctx, now)
	if err != nil {
		a.degrade(SectionCriticalConflict, err, report)
		return
	}
	if len(users) > a.maxScannedUsers {
		report.Findings = append(report.Findings, Finding{
			Section: SectionCriticalConflict,
			Detail:  fmt.Sprintf("scan capped at %d of %d users", a.maxScannedUsers, len(users)),
		})
		users = users[:a.maxScannedUsers]
	}
	scanned := 0
	for _, userID := range users {
		conflicts, err := a.conflicts.Conflicts(ctx, userID, now)
		if err != nil {
			a.degrade(SectionCriticalConflict, fmt.Errorf("user %d: %w", userID, err), report)
			continue
		}
		scanned++
		for _, c := range conflicts {
			if c.Severity != engine.SeverityHigh && c.Severity != engine.SeverityCritical {
				continue
			}
			report.Violations = append(report.Violations, Violation{
				Section:        SectionCriticalConflict,
				PermissionCode: c.PermissionCode,
				UserID:         userID,
				Severity:       c.Severity,
				Detail:         fmt.Sprintf("unresolved %s conflict on %q", c.Kind, c.PermissionCode),
			})
		}
	}
	report.Findings = append(report.Findings, Finding{
		Section: SectionCriticalConflict,
		Detail:  fmt.Sprintf("%d users scanned for conflicts", scanned),
	})
}

// auditCoverage verifies mutations in the window left history entries.
func (a *Analyzer) auditCoverage(ctx context.Context, window Window, report *Report) {
	count, err := a.audit.CountInWindow(ctx, "", window.From, window.To)
	if err != nil {
		a.degrade(SectionAuditCoverage, err, report)
		return
	}
	if count == 0 {
		report.Violations = append(report.Violations, Violation{
			Section:  SectionAuditCoverage,
			Severity: engine.SeverityLow,
			Detail:   "no history entries recorded in the report window",
		})
	}
	report.Findings = append(report.Findings, Finding{
		Section: SectionAuditCoverage,
		Detail:  fmt.Sprintf("%d history entries in window", count),
	})
}
