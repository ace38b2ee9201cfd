package instance

import (
	"github.com/procman/procman/model"
	"github.com/procman/procman/payload"
	"github.com/procman/procman/persistence"
)

// NodeInstance is the execution of a single node within a process instance.
type NodeInstance struct {
	handle persistence.Handle

	// Node is the ID of the node within the instance's model.
	Node string `json:"node"`

	// Instance is the handle of the owning process instance.
	Instance persistence.Handle `json:"instance"`

	// Predecessors are the handles of the completed node instances that
	// caused this node instance to be created.
	Predecessors persistence.HandleSet `json:"predecessors,omitempty"`

	State        NodeState          `json:"state"`
	FailureCause string             `json:"failure_cause,omitempty"`
	Results      []payload.Fragment `json:"results,omitempty"`

	// Propagated is true once the node instance's successors have been
	// created. It is set in the same unit-of-work that creates them.
	Propagated bool `json:"propagated,omitempty"`
}

// Handle returns the node instance's handle.
func (n *NodeInstance) Handle() persistence.Handle {
	return n.handle
}

// SetHandle sets the node instance's handle.
func (n *NodeInstance) SetHandle(h persistence.Handle) {
	n.handle = h
}

// Clone returns a deep copy of the node instance.
func (n *NodeInstance) Clone() *NodeInstance {
	c := *n
	c.Predecessors = n.Predecessors.Clone()
	c.Results = payload.Clone(n.Results)
	return &c
}

// JoinInstance is a view of the node instance of a join node.
type JoinInstance struct {
	*NodeInstance
	Join *model.JoinNode
}

// AddPredecessor records the arrival of a completed predecessor.
//
// It returns false if h has already arrived, or if Max predecessors have
// already arrived.
func (j JoinInstance) AddPredecessor(h persistence.Handle) bool {
	if j.Predecessors.Has(h) || j.Predecessors.Len() >= j.Join.Max {
		return false
	}

	return j.Predecessors.Add(h)
}

// Ready returns true if enough predecessors have arrived for the join to
// fire.
func (j JoinInstance) Ready() bool {
	return j.Predecessors.Len() >= j.Join.Min
}
