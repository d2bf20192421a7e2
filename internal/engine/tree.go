package engine

// TreeBuilder renders a resolution as an explainable tree for audit and UI
// consumption. The projection is one-way: nothing here feeds back into the
// resolver.
type TreeBuilder struct{}

// NewTreeBuilder constructs a tree builder.
func NewTreeBuilder() *TreeBuilder {
	return &TreeBuilder{}
}

// Explain builds the inheritance tree for code. The root is the winning
// assertion; every deeper level holds the next assertion in precedence order,
// marked inherit because a higher-priority node overrides it. An empty source
// list yields the implicit default-deny root.
func (b *TreeBuilder) Explain(code string, asserts []RawAssertion) InheritanceNode {
	scoped := make([]RawAssertion, 0, len(asserts))
	for _, a := range asserts {
		if a.PermissionCode == code {
			scoped = append(scoped, a)
		}
	}

	if len(scoped) == 0 {
		return InheritanceNode{
			Level:      0,
			SourceType: SourceDefault,
			Source:     SourceRef{Type: SourceDefault},
			Decision:   DecisionDeny,
		}
	}

	SortByPrecedence(scoped)

	node := InheritanceNode{}
	for i := len(scoped) - 1; i >= 0; i-- {
		a := scoped[i]
		decision := DecisionInherit
		if i == 0 {
			decision = a.Decision
		}
		next := InheritanceNode{
			Level:      i,
			SourceType: a.Source.Type,
			Source:     a.Source,
			Decision:   decision,
			Priority:   a.Priority,
		}
		if i < len(scoped)-1 {
			next.Children = []InheritanceNode{node}
		}
		node = next
	}
	return node
}
