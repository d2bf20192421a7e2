package engine

import (
	"testing"
	"time"
)

func TestExplainDefaultDenyRoot(t *testing.T) {
	node := NewTreeBuilder().Explain("payroll.view", nil)
	if node.SourceType != SourceDefault || node.Decision != DecisionDeny {
		t.Fatalf("expected default-deny root, got %+v", node)
	}
	if len(node.Children) != 0 {
		t.Fatalf("default root must be a leaf, got %+v", node.Children)
	}
}

func TestExplainOrdersByTier(t *testing.T) {
	asserts := []RawAssertion{
		roleAssert("payroll.view", "manager", 3),
		directAssert("payroll.view", 9),
		overrideAssert("payroll.view", 1, DecisionDeny, 10, baseTime.Add(-time.Hour)),
	}
	root := NewTreeBuilder().Explain("payroll.view", asserts)

	if root.SourceType != SourceOverride || root.Decision != DecisionDeny {
		t.Fatalf("root must be the winning deny override, got %+v", root)
	}
	if root.Level != 0 {
		t.Fatalf("root level must be 0, got %d", root.Level)
	}
	if len(root.Children) != 1 {
		t.Fatalf("expected chained children, got %+v", root.Children)
	}

	direct := root.Children[0]
	if direct.SourceType != SourceDirect || direct.Decision != DecisionInherit {
		t.Fatalf("overridden direct assignment must be inherit, got %+v", direct)
	}
	if len(direct.Children) != 1 {
		t.Fatalf("expected role child, got %+v", direct.Children)
	}

	role := direct.Children[0]
	if role.SourceType != SourceRole || role.Decision != DecisionInherit {
		t.Fatalf("overridden role grant must be inherit, got %+v", role)
	}
	if role.Level != 2 {
		t.Fatalf("role node level must be 2, got %d", role.Level)
	}
	if len(role.Children) != 0 {
		t.Fatalf("deepest node must be a leaf, got %+v", role.Children)
	}
}

func TestExplainSingleSourceKeepsItsDecision(t *testing.T) {
	asserts := []RawAssertion{roleAssert("payroll.view", "manager", 3)}
	root := NewTreeBuilder().Explain("payroll.view", asserts)
	if root.Decision != DecisionGrant || root.SourceType != SourceRole {
		t.Fatalf("sole source keeps its decision, got %+v", root)
	}
}

func TestExplainDoesNotMutateInput(t *testing.T) {
	asserts := []RawAssertion{
		roleAssert("payroll.view", "manager", 3),
		overrideAssert("payroll.view", 1, DecisionDeny, 10, baseTime),
	}
	originalFirst := asserts[0].Source
	_ = NewTreeBuilder().Explain("payroll.view", asserts)
	if asserts[0].Source != originalFirst {
		t.Fatal("explain must not reorder the caller's slice")
	}
}
