package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/atlas-hcm/atlas-authz/internal/assignments"
	"github.com/atlas-hcm/atlas-authz/internal/directory"
	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

type stubDirectory struct {
	users       map[int64]bool
	memberships []directory.RoleAssignment
	grants      []directory.RoleGrant
}

func (s *stubDirectory) RequireUser(ctx context.Context, userID int64) error {
	if !s.users[userID] {
		return shared.ErrNotFound
	}
	return nil
}

func (s *stubDirectory) RoleMemberships(ctx context.Context, userID int64, at time.Time) ([]directory.RoleAssignment, error) {
	var result []directory.RoleAssignment
	for _, m := range s.memberships {
		if m.UserID != userID || m.ValidFrom.After(at) {
			continue
		}
		if m.ValidUntil != nil && !m.ValidUntil.After(at) {
			continue
		}
		result = append(result, m)
	}
	return result, nil
}

func (s *stubDirectory) EffectiveRoleGrants(ctx context.Context, memberships []directory.RoleAssignment, at time.Time) ([]directory.RoleGrant, error) {
	roleIDs := make(map[int64]bool, len(memberships))
	for _, m := range memberships {
		roleIDs[m.RoleID] = true
	}
	var result []directory.RoleGrant
	for _, g := range s.grants {
		if roleIDs[g.RoleID] && !g.GrantedAt.After(at) {
			result = append(result, g)
		}
	}
	return result, nil
}

type stubAssignments struct {
	directs   []assignments.DirectAssignment
	overrides []assignments.Override
}

func (s *stubAssignments) ActiveDirectAssignments(ctx context.Context, userID int64, at time.Time) ([]assignments.DirectAssignment, error) {
	var result []assignments.DirectAssignment
	for _, d := range s.directs {
		if d.UserID == userID && d.ActiveAt(at) {
			result = append(result, d)
		}
	}
	return result, nil
}

func (s *stubAssignments) ActiveOverrides(ctx context.Context, userID int64, at time.Time) ([]assignments.Override, error) {
	var result []assignments.Override
	for _, o := range s.overrides {
		if o.UserID == userID && o.ActiveAt(at) {
			result = append(result, o)
		}
	}
	return result, nil
}

type stubCatalog struct {
	critical map[string]bool
}

func (s *stubCatalog) CriticalCodes(ctx context.Context) (map[string]bool, error) {
	return s.critical, nil
}

type fixture struct {
	dir       *stubDirectory
	asg       *stubAssignments
	cat       *stubCatalog
	snapshots int
}

func (f *fixture) runner() SnapshotRunner {
	return func(ctx context.Context, fn func(Sources) error) error {
		f.snapshots++
		return fn(Sources{Directory: f.dir, Assignments: f.asg, Catalog: f.cat})
	}
}

func managerFixture() *fixture {
	return &fixture{
		dir: &stubDirectory{
			users: map[int64]bool{42: true},
			memberships: []directory.RoleAssignment{
				{UserID: 42, RoleID: 3, RoleName: "manager", ValidFrom: baseTime.Add(-30 * 24 * time.Hour)},
			},
			grants: []directory.RoleGrant{
				{RoleID: 3, RoleName: "manager", PermissionCode: "payroll.view", GrantedAt: baseTime.Add(-30 * 24 * time.Hour)},
			},
		},
		asg: &stubAssignments{},
		cat: &stubCatalog{critical: map[string]bool{}},
	}
}

func TestEvaluateUnknownUser(t *testing.T) {
	f := managerFixture()
	svc := NewService(f.runner(), nil, shared.FixedClock{At: baseTime}, nil)
	if _, err := svc.Evaluate(context.Background(), 99, "payroll.view", baseTime); !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEvaluateScenarioDenyOverrideThenRemoval(t *testing.T) {
	f := managerFixture()
	f.asg.overrides = []assignments.Override{
		{ID: 1, UserID: 42, PermissionCode: "payroll.view", Decision: assignments.DecisionDeny,
			Priority: 10, Scope: assignments.ScopeGlobal, CreatedAt: baseTime.Add(-time.Hour)},
	}
	svc := NewService(f.runner(), nil, shared.FixedClock{At: baseTime}, nil)

	result, err := svc.Evaluate(context.Background(), 42, "payroll.view", baseTime)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.IsGranted {
		t.Fatal("deny override must win over the role grant")
	}
	if result.WinningSource.Label() != "override:1" {
		t.Fatalf("expected override:1, got %s", result.WinningSource.Label())
	}

	// Removing the override restores the role grant.
	f.asg.overrides = nil
	result, err = svc.Evaluate(context.Background(), 42, "payroll.view", baseTime)
	if err != nil {
		t.Fatalf("evaluate after removal: %v", err)
	}
	if !result.IsGranted {
		t.Fatal("role grant must apply once the override is gone")
	}
	if result.WinningSource.Label() != "role:manager" {
		t.Fatalf("expected role:manager, got %s", result.WinningSource.Label())
	}
}

func TestEvaluateExpiryMonotonicity(t *testing.T) {
	expiry := baseTime.Add(24 * time.Hour)
	f := &fixture{
		dir: &stubDirectory{users: map[int64]bool{7: true}},
		asg: &stubAssignments{
			overrides: []assignments.Override{
				{ID: 5, UserID: 7, PermissionCode: "reports.run", Decision: assignments.DecisionGrant,
					Priority: 1, Scope: assignments.ScopeGlobal, CreatedAt: baseTime.Add(-time.Hour), ExpiresAt: &expiry},
			},
		},
		cat: &stubCatalog{critical: map[string]bool{}},
	}
	svc := NewService(f.runner(), nil, shared.FixedClock{At: baseTime}, nil)

	before, err := svc.Evaluate(context.Background(), 7, "reports.run", expiry.Add(-time.Minute))
	if err != nil {
		t.Fatalf("evaluate before expiry: %v", err)
	}
	if !before.IsGranted {
		t.Fatal("expected grant before expiry")
	}

	atExpiry, err := svc.Evaluate(context.Background(), 7, "reports.run", expiry)
	if err != nil {
		t.Fatalf("evaluate at expiry: %v", err)
	}
	if atExpiry.IsGranted {
		t.Fatal("expected deny at expiry instant")
	}
	if atExpiry.WinningSource.Type != SourceDefault {
		t.Fatalf("expected default deny, got %+v", atExpiry.WinningSource)
	}
}

func TestEvaluateConflictCompleteness(t *testing.T) {
	// Scenario: two overrides with equal priority, one grant one deny.
	f := &fixture{
		dir: &stubDirectory{users: map[int64]bool{7: true}},
		asg: &stubAssignments{
			overrides: []assignments.Override{
				{ID: 1, UserID: 7, PermissionCode: "payroll.view", Decision: assignments.DecisionGrant,
					Priority: 5, Scope: assignments.ScopeGlobal, CreatedAt: baseTime.Add(-time.Hour)},
				{ID: 2, UserID: 7, PermissionCode: "payroll.view", Decision: assignments.DecisionDeny,
					Priority: 5, Scope: assignments.ScopeGlobal, CreatedAt: baseTime.Add(-2 * time.Hour)},
			},
		},
		cat: &stubCatalog{critical: map[string]bool{}},
	}
	svc := NewService(f.runner(), nil, shared.FixedClock{At: baseTime}, nil)

	result, err := svc.Evaluate(context.Background(), 7, "payroll.view", baseTime)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.IsGranted {
		t.Fatal("equal-priority disagreement must deny")
	}
	count := 0
	for _, c := range result.Conflicts {
		if c.Kind == ConflictOverrideVsOverride {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one override_vs_override conflict, got %+v", result.Conflicts)
	}
}

func TestEvaluateDeterministicAgainstUnchangedSnapshot(t *testing.T) {
	f := managerFixture()
	svc := NewService(f.runner(), nil, shared.FixedClock{At: baseTime}, nil)

	first, err := svc.Evaluate(context.Background(), 42, "payroll.view", baseTime)
	if err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	second, err := svc.Evaluate(context.Background(), 42, "payroll.view", baseTime)
	if err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if first.IsGranted != second.IsGranted || first.WinningSource != second.WinningSource ||
		!first.EvaluatedAt.Equal(second.EvaluatedAt) {
		t.Fatalf("evaluation not deterministic: %+v vs %+v", first, second)
	}
}

func TestEvaluateAllEnumeratesAssertedCodes(t *testing.T) {
	f := managerFixture()
	f.asg.directs = []assignments.DirectAssignment{
		{ID: 9, UserID: 42, PermissionCode: "reports.run", GrantedAt: baseTime.Add(-time.Hour)},
	}
	svc := NewService(f.runner(), nil, shared.FixedClock{At: baseTime}, nil)

	decisions, err := svc.EvaluateAll(context.Background(), 42, baseTime)
	if err != nil {
		t.Fatalf("evaluate all: %v", err)
	}
	if len(decisions) != 2 {
		t.Fatalf("expected 2 decisions, got %+v", decisions)
	}
	// Output sorted by code for stable pagination downstream.
	if decisions[0].PermissionCode != "payroll.view" || decisions[1].PermissionCode != "reports.run" {
		t.Fatalf("expected code-sorted output, got %+v", decisions)
	}
}

func TestExplainServiceProducesTree(t *testing.T) {
	f := managerFixture()
	f.asg.overrides = []assignments.Override{
		{ID: 1, UserID: 42, PermissionCode: "payroll.view", Decision: assignments.DecisionDeny,
			Priority: 10, Scope: assignments.ScopeGlobal, CreatedAt: baseTime.Add(-time.Hour)},
	}
	svc := NewService(f.runner(), nil, shared.FixedClock{At: baseTime}, nil)

	node, err := svc.Explain(context.Background(), 42, "payroll.view", baseTime)
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if node.SourceType != SourceOverride || node.Decision != DecisionDeny {
		t.Fatalf("root must be the deny override, got %+v", node)
	}
	if len(node.Children) != 1 || node.Children[0].Decision != DecisionInherit {
		t.Fatalf("role grant must appear as inherit child, got %+v", node.Children)
	}
}

func newTestCache(t *testing.T, clock shared.Clock, ttl time.Duration) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, clock, ttl)
}

func TestEvaluateNowUsesDecisionCache(t *testing.T) {
	f := managerFixture()
	clock := shared.FixedClock{At: baseTime}
	svc := NewService(f.runner(), newTestCache(t, clock, time.Minute), clock, nil)

	if _, err := svc.Evaluate(context.Background(), 42, "payroll.view", time.Time{}); err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	if _, err := svc.Evaluate(context.Background(), 42, "payroll.view", time.Time{}); err != nil {
		t.Fatalf("second evaluate: %v", err)
	}
	if f.snapshots != 1 {
		t.Fatalf("expected 1 snapshot read, got %d", f.snapshots)
	}
}

func TestHistoricalEvaluateBypassesCache(t *testing.T) {
	f := managerFixture()
	clock := shared.FixedClock{At: baseTime}
	svc := NewService(f.runner(), newTestCache(t, clock, time.Minute), clock, nil)

	if _, err := svc.Evaluate(context.Background(), 42, "payroll.view", time.Time{}); err != nil {
		t.Fatalf("cached evaluate: %v", err)
	}
	if _, err := svc.Evaluate(context.Background(), 42, "payroll.view", baseTime.Add(-time.Hour)); err != nil {
		t.Fatalf("historical evaluate: %v", err)
	}
	if f.snapshots != 2 {
		t.Fatalf("historical reads must hit the snapshot, got %d reads", f.snapshots)
	}
}

func TestInvalidateUserDropsCachedDecisions(t *testing.T) {
	f := managerFixture()
	clock := shared.FixedClock{At: baseTime}
	svc := NewService(f.runner(), newTestCache(t, clock, time.Minute), clock, nil)

	ctx := context.Background()
	if _, err := svc.Evaluate(ctx, 42, "payroll.view", time.Time{}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	svc.InvalidateUser(ctx, 42)
	if _, err := svc.Evaluate(ctx, 42, "payroll.view", time.Time{}); err != nil {
		t.Fatalf("evaluate after invalidate: %v", err)
	}
	if f.snapshots != 2 {
		t.Fatalf("invalidation must force a fresh snapshot, got %d reads", f.snapshots)
	}
}
