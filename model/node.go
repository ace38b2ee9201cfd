package model

import (
	"fmt"
)

// Kind is an enumeration of the node variants.
type Kind int

const (
	// StartKind is the kind of a StartNode.
	StartKind Kind = iota + 1

	// ActivityKind is the kind of an ActivityNode.
	ActivityKind

	// SplitKind is the kind of a SplitNode.
	SplitKind

	// JoinKind is the kind of a JoinNode.
	JoinKind

	// EndKind is the kind of an EndNode.
	EndKind
)

var kindNames = map[Kind]string{
	StartKind:    "start",
	ActivityKind: "activity",
	SplitKind:    "split",
	JoinKind:     "join",
	EndKind:      "end",
}

// String returns the name of the kind as used in model definitions.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}

	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText returns the name of the kind.
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown node kind: %d", int(k))
	}

	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	for v, n := range kindNames {
		if n == string(text) {
			*k = v
			return nil
		}
	}

	return fmt.Errorf("unknown node kind: %q", text)
}

// Node is a node within a process model.
//
// The set of node variants is closed. Use AcceptVisitor() or a type switch to
// access variant-specific behavior.
type Node interface {
	// ID returns the node's identifier, unique within its model.
	ID() string

	// Kind returns the node's variant.
	Kind() Kind

	// Successors returns the IDs of the nodes that follow this one, in
	// definition order.
	Successors() []string

	// Predecessors returns the IDs of the nodes that precede this one, in
	// definition order.
	Predecessors() []string

	// AcceptVisitor calls the method on v that corresponds to the node's
	// variant.
	AcceptVisitor(v NodeVisitor) error

	definition() NodeDefinition
}

// NodeVisitor is an interface for visiting each of the node variants.
type NodeVisitor interface {
	VisitStartNode(*StartNode) error
	VisitActivityNode(*ActivityNode) error
	VisitSplitNode(*SplitNode) error
	VisitJoinNode(*JoinNode) error
	VisitEndNode(*EndNode) error
}

// IsRouting returns true if n has no externally observable execution step.
//
// Routing nodes are completed by the engine as soon as they are provided.
func IsRouting(n Node) bool {
	return n.Kind() != ActivityKind
}

type node struct {
	id           string
	successors   []string
	predecessors []string
}

func (n *node) ID() string             { return n.id }
func (n *node) Successors() []string   { return n.successors }
func (n *node) Predecessors() []string { return n.predecessors }

func (n *node) definition(k Kind) NodeDefinition {
	return NodeDefinition{
		ID:         n.id,
		Kind:       k,
		Successors: append([]string(nil), n.successors...),
	}
}

// StartNode is the entry point of a model. One node instance is created for
// each start node when an instance is initialized.
type StartNode struct{ node }

// Kind returns StartKind.
func (n *StartNode) Kind() Kind { return StartKind }

// AcceptVisitor calls v.VisitStartNode(n).
func (n *StartNode) AcceptVisitor(v NodeVisitor) error { return v.VisitStartNode(n) }

func (n *StartNode) definition() NodeDefinition { return n.node.definition(StartKind) }

// ActivityNode is a unit of work performed by an external activity service.
type ActivityNode struct {
	node

	// Endpoint identifies the service that performs the activity.
	Endpoint string

	// Operation is the name of the operation invoked on the endpoint.
	Operation string

	// AutoStart indicates that the node instance is started as soon as the
	// endpoint takes it, without waiting for a separate start callback.
	AutoStart bool
}

// Kind returns ActivityKind.
func (n *ActivityNode) Kind() Kind { return ActivityKind }

// AcceptVisitor calls v.VisitActivityNode(n).
func (n *ActivityNode) AcceptVisitor(v NodeVisitor) error { return v.VisitActivityNode(n) }

func (n *ActivityNode) definition() NodeDefinition {
	d := n.node.definition(ActivityKind)
	d.Endpoint = n.Endpoint
	d.Operation = n.Operation
	d.AutoStart = n.AutoStart
	return d
}

// SplitNode fans out into several independently active branches.
type SplitNode struct{ node }

// Kind returns SplitKind.
func (n *SplitNode) Kind() Kind { return SplitKind }

// AcceptVisitor calls v.VisitSplitNode(n).
func (n *SplitNode) AcceptVisitor(v NodeVisitor) error { return v.VisitSplitNode(n) }

func (n *SplitNode) definition() NodeDefinition { return n.node.definition(SplitKind) }

// JoinNode merges several branches.
//
// It fires once Min distinct predecessors have completed, and records at most
// Max of them.
type JoinNode struct {
	node

	Min int
	Max int
}

// Kind returns JoinKind.
func (n *JoinNode) Kind() Kind { return JoinKind }

// AcceptVisitor calls v.VisitJoinNode(n).
func (n *JoinNode) AcceptVisitor(v NodeVisitor) error { return v.VisitJoinNode(n) }

func (n *JoinNode) definition() NodeDefinition {
	d := n.node.definition(JoinKind)
	d.Min = n.Min
	d.Max = n.Max
	return d
}

// EndNode terminates a branch. An instance is finished once an instance of
// every end node has completed.
type EndNode struct{ node }

// Kind returns EndKind.
func (n *EndNode) Kind() Kind { return EndKind }

// AcceptVisitor calls v.VisitEndNode(n).
func (n *EndNode) AcceptVisitor(v NodeVisitor) error { return v.VisitEndNode(n) }

func (n *EndNode) definition() NodeDefinition { return n.node.definition(EndKind) }
