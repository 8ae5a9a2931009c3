// Package forge provides query mechanisms for component-based entity systems
package forge

import (
	"fmt"

	"github.com/TheBitDrifter/bark"
)

// FilterBuilder is a composable And/Or/Not boolean predicate builder over
// component presence, used to hand-assemble a Cursor (Factory.NewCursor)
// or an App.Assert/AssertAny filter outside of a registered system. It is
// a distinct concept from the Query[P, F] system parameter kind (params.go):
// this builds an arbitrary boolean tree over component presence, while
// Query[P, F] composes one already-typed parameter kind with a flat
// filter-only component set.
type FilterBuilder interface {
	QueryNode
	And(items ...interface{}) QueryNode
	Or(items ...interface{}) QueryNode
	Not(items ...interface{}) QueryNode
}

// QueryNode represents a node in the query tree that can be evaluated
type QueryNode interface {
	Evaluate(archetype *ArchetypeImpl, storage Storage) bool
}

// QueryOperation defines the logical operations for query nodes
type QueryOperation int

const (
	OpAnd QueryOperation = iota // Logical AND operation
	OpOr                        // Logical OR operation
	OpNot                       // Logical NOT operation
)

// andOnlyNode is implemented by any QueryNode whose semantics reduce to "the
// archetype signature is a superset of this component set" with no nested
// Or/Not alternative to weigh: a plain leaf, or a composite And whose
// children are all themselves such nodes. Cursor.Initialize uses this to route straight through the
// archetype graph's own filter (§4.2), the same sorted-signature superset
// test newFilteredCursor already drives scheduler systems with, instead of
// rebuilding and evaluating a boolean tree per archetype. Or/Not nodes
// can't implement this: the graph only memoizes single add/remove edges
// between archetypes, not the arbitrary unions and complements an Or/Not
// tree can express, so those still fall back to a per-archetype Evaluate
// scan.
type andOnlyNode interface {
	andOnlyTypes(storage Storage) ([]ComponentTypeIdx, bool)
}

// compositeNode implements a compound query with child nodes
type compositeNode struct {
	op         QueryOperation
	children   []QueryNode
	components []Component
}

// leafNode implements a simple query with no child nodes
type leafNode struct {
	components []Component
}

// filterBuilder implements FilterBuilder
type filterBuilder struct {
	root QueryNode
}

// newFilterBuilder creates a new empty filter builder
func newFilterBuilder() FilterBuilder {
	return &filterBuilder{}
}

// newCompositeNode creates a new composite query node with the specified operation
func newCompositeNode(op QueryOperation, components []Component) *compositeNode {
	return &compositeNode{
		op:         op,
		children:   make([]QueryNode, 0),
		components: components,
	}
}

// newLeafNode creates a new leaf query node with the specified components
func newLeafNode(components []Component) *leafNode {
	return &leafNode{components: components}
}

func typeIdxOf(storage Storage, components []Component) []ComponentTypeIdx {
	out := make([]ComponentTypeIdx, len(components))
	for i, c := range components {
		out[i] = ComponentTypeIdx(storage.RowIndexFor(c))
	}
	return out
}

// Evaluate implements the QueryNode interface for composite nodes,
// checking membership against archetype's own signature (ArchetypeImpl.
// Contains) component-by-component rather than assembling a throwaway
// mask.Mask per call the way the flat-storage original did.
func (n *compositeNode) Evaluate(archetype *ArchetypeImpl, storage Storage) bool {
	switch n.op {
	case OpAnd:
		for _, t := range typeIdxOf(storage, n.components) {
			if !archetype.Contains(t) {
				return false
			}
		}
		for _, child := range n.children {
			if !child.Evaluate(archetype, storage) {
				return false
			}
		}
		return true
	case OpOr:
		for _, t := range typeIdxOf(storage, n.components) {
			if archetype.Contains(t) {
				return true
			}
		}
		for _, child := range n.children {
			if child.Evaluate(archetype, storage) {
				return true
			}
		}
		return false
	case OpNot:
		types := typeIdxOf(storage, n.components)
		if len(n.children) == 0 {
			for _, t := range types {
				if archetype.Contains(t) {
					return false
				}
			}
			return true
		}
		if len(types) > 0 {
			for _, t := range types {
				if archetype.Contains(t) {
					return false
				}
			}
		}
		for _, child := range n.children {
			if child.Evaluate(archetype, storage) {
				return false
			}
		}
		return true
	}
	return false
}

// andOnlyTypes implements andOnlyNode: an And composite with no nested
// Or/Not children reduces to a flat required-type set.
func (n *compositeNode) andOnlyTypes(storage Storage) ([]ComponentTypeIdx, bool) {
	if n.op != OpAnd {
		return nil, false
	}
	out := typeIdxOf(storage, n.components)
	for _, child := range n.children {
		sub, ok := child.(andOnlyNode)
		if !ok {
			return nil, false
		}
		childTypes, ok := sub.andOnlyTypes(storage)
		if !ok {
			return nil, false
		}
		out = append(out, childTypes...)
	}
	return out, true
}

// Evaluate implements the QueryNode interface for leaf nodes
func (n *leafNode) Evaluate(archetype *ArchetypeImpl, storage Storage) bool {
	for _, t := range typeIdxOf(storage, n.components) {
		if !archetype.Contains(t) {
			return false
		}
	}
	return true
}

// andOnlyTypes implements andOnlyNode: a bare leaf is always an implicit
// And over its own components.
func (n *leafNode) andOnlyTypes(storage Storage) ([]ComponentTypeIdx, bool) {
	return typeIdxOf(storage, n.components), true
}

// And creates a new AND operation node with the provided items
func (q *filterBuilder) And(items ...interface{}) QueryNode {
	components, children := q.processItems(items...)
	node := newCompositeNode(OpAnd, components)
	node.children = children
	if q.root == nil {
		q.root = node
	}
	return node
}

// Or creates a new OR operation node with the provided items
func (q *filterBuilder) Or(items ...interface{}) QueryNode {
	components, children := q.processItems(items...)
	node := newCompositeNode(OpOr, components)
	node.children = children
	if q.root == nil {
		q.root = node
	}
	return node
}

// Not creates a new NOT operation node with the provided items
func (q *filterBuilder) Not(items ...interface{}) QueryNode {
	components, children := q.processItems(items...)
	node := newCompositeNode(OpNot, components)
	node.children = children
	if q.root == nil {
		q.root = node
	}
	return node
}

// validateQueryItems checks if all items are of valid types for queries
func (q *filterBuilder) validateQueryItems(items ...interface{}) error {
	for _, item := range items {
		switch item.(type) {
		case Component, []Component, QueryNode, FilterBuilder:
			continue
		default:
			return fmt.Errorf("invalid query item type: %T. Only Component, []Component, or QueryNode are allowed", item)
		}
	}
	return nil
}

// processItems converts the input items into components and query nodes
func (q *filterBuilder) processItems(items ...interface{}) ([]Component, []QueryNode) {
	if err := q.validateQueryItems(items...); err != nil {
		panic(bark.AddTrace(err))
	}
	components := make([]Component, 0)
	children := make([]QueryNode, 0)
	for _, item := range items {
		switch v := item.(type) {
		case Component:
			components = append(components, v)
		case []Component:
			components = append(components, v...)
		case QueryNode:
			children = append(children, v)
		}
	}
	return components, children
}

// Evaluate implements the QueryNode interface for the filterBuilder type
func (q *filterBuilder) Evaluate(archetype *ArchetypeImpl, storage Storage) bool {
	if q.root == nil {
		return false
	}
	return q.root.Evaluate(archetype, storage)
}

// andOnlyTypes implements andOnlyNode by delegating to the root node, so a
// filter builder used directly as a QueryNode (instead of one of its And/
// Or/Not return values) still gets the archetype-graph fast path.
func (q *filterBuilder) andOnlyTypes(storage Storage) ([]ComponentTypeIdx, bool) {
	if q.root == nil {
		return nil, false
	}
	sub, ok := q.root.(andOnlyNode)
	if !ok {
		return nil, false
	}
	return sub.andOnlyTypes(storage)
}
