package directory

import (
	"fmt"

	"github.com/atlas-hcm/atlas-authz/internal/shared"
)

// ValidateHierarchy checks that adding the proposed parent edges for roleID
// keeps the role graph acyclic. edges maps role id to its current parents.
// Called when role definitions change, never during evaluation.
func ValidateHierarchy(roleID int64, parents []int64, edges map[int64][]int64) error {
	next := make(map[int64][]int64, len(edges)+1)
	for id, ps := range edges {
		next[id] = ps
	}
	next[roleID] = parents

	for _, parent := range parents {
		if parent == roleID {
			return fmt.Errorf("%w: role %d cannot be its own parent", shared.ErrValidation, roleID)
		}
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	state := make(map[int64]int, len(next))

	var visit func(id int64) error
	visit = func(id int64) error {
		switch state[id] {
		case grey:
			return fmt.Errorf("%w: role hierarchy cycle through role %d", shared.ErrValidation, id)
		case black:
			return nil
		}
		state[id] = grey
		for _, parent := range next[id] {
			if err := visit(parent); err != nil {
				return err
			}
		}
		state[id] = black
		return nil
	}

	for id := range next {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// ExpandRoles returns the transitive closure of roleIDs over the parent edge
// set, including the input roles. The graph is validated cycle-free at
// definition time; the depth guard here only protects against corrupted data.
func ExpandRoles(roleIDs []int64, edges map[int64][]int64) []int64 {
	const maxDepth = 64
	seen := make(map[int64]bool, len(roleIDs))
	order := make([]int64, 0, len(roleIDs))

	var walk func(id int64, depth int)
	walk = func(id int64, depth int) {
		if seen[id] || depth > maxDepth {
			return
		}
		seen[id] = true
		order = append(order, id)
		for _, parent := range edges[id] {
			walk(parent, depth+1)
		}
	}
	for _, id := range roleIDs {
		walk(id, 0)
	}
	return order
}
