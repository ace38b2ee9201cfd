package model

import (
	"fmt"
)

// ValidationError indicates that a definition does not describe a well-formed
// model.
type ValidationError struct {
	// Node is the ID of the offending node, if the problem relates to a
	// specific node.
	Node string

	// Reason describes the problem.
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Node == "" {
		return "invalid process model: " + e.Reason
	}

	return fmt.Sprintf("invalid process model: node %q: %s", e.Node, e.Reason)
}

func invalid(node, f string, v ...interface{}) error {
	return &ValidationError{
		Node:   node,
		Reason: fmt.Sprintf(f, v...),
	}
}

// build populates the model's nodes from their definitions and validates the
// resulting graph.
func (m *Model) build(defs []NodeDefinition) error {
	for _, d := range defs {
		if err := m.add(d); err != nil {
			return err
		}
	}

	if err := m.link(defs); err != nil {
		return err
	}

	for _, n := range m.nodes {
		if err := n.AcceptVisitor(edgeValidator{}); err != nil {
			return err
		}
	}

	if len(m.starts) == 0 {
		return invalid("", "there must be at least one start node")
	}

	if m.endCount == 0 {
		return invalid("", "there must be at least one end node")
	}

	// Every node other than a start node has at least one predecessor, so any
	// node that is not reachable from a start node is part of, or downstream
	// of, a cycle.
	return m.checkAcyclic()
}

// add creates the node described by d.
func (m *Model) add(d NodeDefinition) error {
	if d.ID == "" {
		return invalid("", "node IDs must not be empty")
	}

	if _, ok := m.byID[d.ID]; ok {
		return invalid(d.ID, "the ID is used by more than one node")
	}

	if d.Kind != JoinKind && (d.Min != 0 || d.Max != 0) {
		return invalid(d.ID, "min and max only apply to join nodes")
	}

	base := node{id: d.ID}
	var n Node

	switch d.Kind {
	case StartKind:
		s := &StartNode{base}
		m.starts = append(m.starts, s)
		n = s
	case ActivityKind:
		n = &ActivityNode{
			node:      base,
			Endpoint:  d.Endpoint,
			Operation: d.Operation,
			AutoStart: d.AutoStart,
		}
	case SplitKind:
		n = &SplitNode{base}
	case JoinKind:
		if d.Min < 0 || d.Max < 0 {
			return invalid(d.ID, "min and max must not be negative")
		}
		n = &JoinNode{node: base, Min: d.Min, Max: d.Max}
	case EndKind:
		m.endCount++
		n = &EndNode{base}
	default:
		return invalid(d.ID, "unknown node kind (%d)", int(d.Kind))
	}

	m.nodes = append(m.nodes, n)
	m.byID[d.ID] = n

	return nil
}

// link resolves the successor IDs of each node and populates the predecessor
// lists.
func (m *Model) link(defs []NodeDefinition) error {
	for _, d := range defs {
		from := base(m.byID[d.ID])
		seen := map[string]struct{}{}

		for _, id := range d.Successors {
			if id == d.ID {
				return invalid(d.ID, "a node must not succeed itself")
			}

			if _, ok := seen[id]; ok {
				return invalid(d.ID, "successor %q is listed more than once", id)
			}
			seen[id] = struct{}{}

			n, ok := m.byID[id]
			if !ok {
				return invalid(d.ID, "successor %q does not exist", id)
			}

			from.successors = append(from.successors, id)

			to := base(n)
			to.predecessors = append(to.predecessors, d.ID)
		}
	}

	return nil
}

// checkAcyclic returns an error if the graph contains a cycle.
//
// Nodes are removed in topological order, any node left over is part of (or
// downstream of) a cycle.
func (m *Model) checkAcyclic() error {
	pending := map[string]int{}
	var queue []string

	for _, n := range m.nodes {
		pending[n.ID()] = len(n.Predecessors())
		if len(n.Predecessors()) == 0 {
			queue = append(queue, n.ID())
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++

		for _, s := range m.byID[id].Successors() {
			pending[s]--
			if pending[s] == 0 {
				queue = append(queue, s)
			}
		}
	}

	if visited == len(m.nodes) {
		return nil
	}

	for _, n := range m.nodes {
		if pending[n.ID()] > 0 {
			return invalid(n.ID(), "the node is part of a cycle")
		}
	}

	return nil
}

// base returns the common fields of n.
func base(n Node) *node {
	switch n := n.(type) {
	case *StartNode:
		return &n.node
	case *ActivityNode:
		return &n.node
	case *SplitNode:
		return &n.node
	case *JoinNode:
		return &n.node
	default:
		return &n.(*EndNode).node
	}
}

// edgeValidator checks the number of incoming and outgoing edges of each node
// variant, and resolves join thresholds.
type edgeValidator struct{}

func (edgeValidator) VisitStartNode(n *StartNode) error {
	if len(n.predecessors) != 0 {
		return invalid(n.id, "start nodes must not have predecessors")
	}

	return expectSuccessors(&n.node, 1, 1)
}

func (edgeValidator) VisitActivityNode(n *ActivityNode) error {
	if err := expectPredecessors(&n.node, 1, 1); err != nil {
		return err
	}

	return expectSuccessors(&n.node, 1, 1)
}

func (edgeValidator) VisitSplitNode(n *SplitNode) error {
	if err := expectPredecessors(&n.node, 1, 1); err != nil {
		return err
	}

	return expectSuccessors(&n.node, 1, -1)
}

func (edgeValidator) VisitJoinNode(n *JoinNode) error {
	if err := expectPredecessors(&n.node, 1, -1); err != nil {
		return err
	}

	if err := expectSuccessors(&n.node, 1, 1); err != nil {
		return err
	}

	count := len(n.predecessors)

	if n.Max == 0 {
		n.Max = count
	}

	if n.Min == 0 {
		n.Min = n.Max
	}

	if n.Min > n.Max {
		return invalid(n.id, "min (%d) must not exceed max (%d)", n.Min, n.Max)
	}

	if n.Max > count {
		return invalid(n.id, "max (%d) must not exceed the number of predecessors (%d)", n.Max, count)
	}

	return nil
}

func (edgeValidator) VisitEndNode(n *EndNode) error {
	if len(n.successors) != 0 {
		return invalid(n.id, "end nodes must not have successors")
	}

	return expectPredecessors(&n.node, 1, 1)
}

// expectPredecessors returns an error if the number of predecessors of n is
// not within [min, max]. A negative max means there is no upper bound.
func expectPredecessors(n *node, min, max int) error {
	return expectEdges(n.id, "predecessor", len(n.predecessors), min, max)
}

// expectSuccessors returns an error if the number of successors of n is not
// within [min, max]. A negative max means there is no upper bound.
func expectSuccessors(n *node, min, max int) error {
	return expectEdges(n.id, "successor", len(n.successors), min, max)
}

func expectEdges(id, noun string, count, min, max int) error {
	switch {
	case min == max && count != min:
		return invalid(id, "expected exactly %d %s(s), got %d", min, noun, count)
	case count < min:
		return invalid(id, "expected at least %d %s(s), got %d", min, noun, count)
	case max >= 0 && count > max:
		return invalid(id, "expected at most %d %s(s), got %d", max, noun, count)
	}

	return nil
}
