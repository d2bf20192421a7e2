package compliance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/atlas-hcm/atlas-authz/internal/assignments"
	"github.com/atlas-hcm/atlas-authz/internal/engine"
	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

var reportTime = time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)

type stubAuditor struct {
	expired     []assignments.Override
	orphans     []assignments.Override
	users       []int64
	expiredErr  error
	orphansErr  error
	usersErr    error
}

func (s *stubAuditor) ExpiredActiveOverrides(context.Context, time.Time, int) ([]assignments.Override, error) {
	return s.expired, s.expiredErr
}

func (s *stubAuditor) OrphanedOverrides(context.Context, time.Time) ([]assignments.Override, error) {
	return s.orphans, s.orphansErr
}

func (s *stubAuditor) UsersWithActiveOverrides(context.Context, time.Time) ([]int64, error) {
	return s.users, s.usersErr
}

type stubScanner struct {
	conflicts map[int64][]engine.Conflict
	err       error
}

func (s *stubScanner) Conflicts(_ context.Context, userID int64, _ time.Time) ([]engine.Conflict, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.conflicts[userID], nil
}

type stubCounter struct {
	count int
	err   error
}

func (s *stubCounter) CountInWindow(context.Context, string, time.Time, time.Time) (int, error) {
	return s.count, s.err
}

func newTestAnalyzer(auditor *stubAuditor, scanner *stubScanner, counter *stubCounter) *Analyzer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAnalyzer(auditor, scanner, counter, shared.FixedClock{At: reportTime}, logger, 0)
}

func window() Window {
	return Window{From: reportTime.Add(-24 * time.Hour), To: reportTime}
}

func TestGenerateCleanReportScoresFull(t *testing.T) {
	a := newTestAnalyzer(&stubAuditor{}, &stubScanner{}, &stubCounter{count: 12})
	report, err := a.Generate(context.Background(), window())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if report.Score != 100 {
		t.Fatalf("clean report must score 100, got %d", report.Score)
	}
	if report.Degraded {
		t.Fatal("clean report must not be degraded")
	}
	if len(report.Violations) != 0 {
		t.Fatalf("unexpected violations: %+v", report.Violations)
	}
	if len(report.Sections) != 4 {
		t.Fatalf("expected 4 sections, got %v", report.Sections)
	}
	if report.Sections[0] != "Expired Grants" {
		t.Fatalf("section titles must be title-cased, got %q", report.Sections[0])
	}
}

func TestGenerateRejectsInvertedWindow(t *testing.T) {
	a := newTestAnalyzer(&stubAuditor{}, &stubScanner{}, &stubCounter{})
	_, err := a.Generate(context.Background(), Window{From: reportTime, To: reportTime.Add(-time.Hour)})
	if !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestGenerateFlagsExpiredOverrides(t *testing.T) {
	expiry := reportTime.Add(-48 * time.Hour)
	auditor := &stubAuditor{expired: []assignments.Override{
		{ID: 1, UserID: 7, PermissionCode: "payroll.export", Decision: assignments.DecisionGrant, ExpiresAt: &expiry},
		{ID: 2, UserID: 8, PermissionCode: "payroll.view", Decision: assignments.DecisionDeny, ExpiresAt: &expiry},
	}}
	a := newTestAnalyzer(auditor, &stubScanner{}, &stubCounter{count: 1})
	report, err := a.Generate(context.Background(), window())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(report.Violations) != 2 {
		t.Fatalf("expected 2 violations, got %+v", report.Violations)
	}
	if report.Violations[0].Severity != engine.SeverityMedium {
		t.Fatalf("expired grant must be medium, got %s", report.Violations[0].Severity)
	}
	if report.Violations[1].Severity != engine.SeverityLow {
		t.Fatalf("expired deny must be low, got %s", report.Violations[1].Severity)
	}
	if report.Score != 100-3-1 {
		t.Fatalf("unexpected score %d", report.Score)
	}
}

func TestGenerateFlagsCriticalConflicts(t *testing.T) {
	auditor := &stubAuditor{users: []int64{7, 8}}
	scanner := &stubScanner{conflicts: map[int64][]engine.Conflict{
		7: {
			{Kind: engine.ConflictRoleVsOverride, Severity: engine.SeverityCritical, PermissionCode: "payroll.approve"},
			{Kind: engine.ConflictOverrideVsOverride, Severity: engine.SeverityLow, PermissionCode: "payroll.view"},
		},
	}}
	a := newTestAnalyzer(auditor, scanner, &stubCounter{count: 1})
	report, err := a.Generate(context.Background(), window())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(report.Violations) != 1 {
		t.Fatalf("only high and critical conflicts count, got %+v", report.Violations)
	}
	v := report.Violations[0]
	if v.UserID != 7 || v.Severity != engine.SeverityCritical || v.PermissionCode != "payroll.approve" {
		t.Fatalf("unexpected violation: %+v", v)
	}
	if report.Score != 100-15 {
		t.Fatalf("unexpected score %d", report.Score)
	}
}

func TestGenerateDegradesOnSectionFailure(t *testing.T) {
	auditor := &stubAuditor{expiredErr: errors.New("connection refused")}
	a := newTestAnalyzer(auditor, &stubScanner{}, &stubCounter{count: 3})
	report, err := a.Generate(context.Background(), window())
	if err != nil {
		t.Fatalf("a failing section must degrade, not fail: %v", err)
	}
	if !report.Degraded {
		t.Fatal("expected degraded report")
	}
	found := false
	for _, f := range report.Findings {
		if f.Section == SectionExpiredGrants && strings.Contains(f.Detail, "source unavailable") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a degraded finding, got %+v", report.Findings)
	}
}

func TestGenerateFlagsMissingAuditCoverage(t *testing.T) {
	a := newTestAnalyzer(&stubAuditor{}, &stubScanner{}, &stubCounter{count: 0})
	report, err := a.Generate(context.Background(), window())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(report.Violations) != 1 || report.Violations[0].Section != SectionAuditCoverage {
		t.Fatalf("expected audit coverage violation, got %+v", report.Violations)
	}
}

func TestScoreNeverGoesNegative(t *testing.T) {
	violations := make([]Violation, 20)
	for i := range violations {
		violations[i] = Violation{Severity: engine.SeverityCritical}
	}
	if got := scoreOf(violations); got != 0 {
		t.Fatalf("score must floor at 0, got %d", got)
	}
}
