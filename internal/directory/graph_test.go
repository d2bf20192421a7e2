package directory

import (
	"errors"
	"testing"

	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

func TestValidateHierarchyAcceptsDAG(t *testing.T) {
	edges := map[int64][]int64{
		2: {1},
		3: {1},
	}
	// 4 inherits from both 2 and 3, a diamond over 1. Still acyclic.
	if err := ValidateHierarchy(4, []int64{2, 3}, edges); err != nil {
		t.Fatalf("diamond should validate: %v", err)
	}
}

func TestValidateHierarchyRejectsSelfParent(t *testing.T) {
	err := ValidateHierarchy(1, []int64{1}, nil)
	if !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestValidateHierarchyRejectsCycle(t *testing.T) {
	edges := map[int64][]int64{
		2: {1},
		3: {2},
	}
	// Proposing 1 -> 3 closes the loop 1 -> 3 -> 2 -> 1.
	err := ValidateHierarchy(1, []int64{3}, edges)
	if !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected cycle rejection, got %v", err)
	}
}

func TestExpandRolesFollowsParents(t *testing.T) {
	edges := map[int64][]int64{
		4: {2, 3},
		2: {1},
		3: {1},
	}
	expanded := ExpandRoles([]int64{4}, edges)
	want := map[int64]bool{1: true, 2: true, 3: true, 4: true}
	if len(expanded) != len(want) {
		t.Fatalf("expected %d roles, got %v", len(want), expanded)
	}
	for _, id := range expanded {
		if !want[id] {
			t.Fatalf("unexpected role %d in expansion %v", id, expanded)
		}
	}
}

func TestExpandRolesDeduplicates(t *testing.T) {
	edges := map[int64][]int64{2: {1}, 3: {1}}
	expanded := ExpandRoles([]int64{2, 3}, edges)
	count := 0
	for _, id := range expanded {
		if id == 1 {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("role 1 expanded %d times: %v", count, expanded)
	}
}
