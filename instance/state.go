package instance

import (
	"fmt"
)

// State is the lifecycle state of a process instance.
type State int

const (
	// StateNew is the state of an instance that has not been initialized.
	StateNew State = iota

	// StateInitialized is the state of an instance that has a node instance
	// for each of its model's start nodes, but has not been started.
	StateInitialized

	// StateStarted is the state of an instance that is executing.
	StateStarted

	// StateFinished is the state of an instance in which an instance of every
	// end node has completed.
	StateFinished

	// StateFailed is the state of an instance that can make no further
	// progress because a node instance failed.
	StateFailed

	// StateCancelled is the state of an instance that can make no further
	// progress because a node instance was cancelled.
	StateCancelled
)

var stateNames = []string{
	"new",
	"initialized",
	"started",
	"finished",
	"failed",
	"cancelled",
}

// IsTerminal returns true if no further transitions are possible from s.
func (s State) IsTerminal() bool {
	return s >= StateFinished
}

func (s State) String() string {
	return enumName(stateNames, int(s), "state")
}

// MarshalText returns the name of the state.
func (s State) MarshalText() ([]byte, error) {
	return marshalEnum(stateNames, int(s), "state")
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	return unmarshalEnum(stateNames, text, "state", (*int)(s))
}

// NodeState is the state of a node instance.
//
// Node instances only move forward through the states in the order they are
// declared. NodeFailed and NodeCancelled may be entered from any state that
// is not final.
type NodeState int

const (
	// NodePending is the state of a node instance that has been created but
	// not yet provided. A join remains pending until it fires.
	NodePending NodeState = iota

	// NodeSent is the state of an activity node instance that has been handed
	// to the dispatcher.
	NodeSent

	// NodeAcknowledged is the state of a node instance whose endpoint has
	// confirmed receipt. It triggers no further transitions.
	NodeAcknowledged

	// NodeTaken is the state of a node instance that an endpoint has agreed
	// to perform.
	NodeTaken

	// NodeStarted is the state of a node instance that is being performed.
	NodeStarted

	// NodeComplete is the state of a node instance that has finished
	// successfully.
	NodeComplete

	// NodeFailed is the state of a node instance that could not be performed.
	NodeFailed

	// NodeCancelled is the state of a node instance that was abandoned.
	NodeCancelled
)

var nodeStateNames = []string{
	"pending",
	"sent",
	"acknowledged",
	"taken",
	"started",
	"complete",
	"failed",
	"cancelled",
}

// IsFinal returns true if no further transitions are possible from s.
func (s NodeState) IsFinal() bool {
	return s >= NodeComplete
}

// CanTransitionTo returns true if a node instance in state s may enter state
// next.
func (s NodeState) CanTransitionTo(next NodeState) bool {
	if s.IsFinal() {
		return false
	}

	if next == NodeFailed || next == NodeCancelled {
		return true
	}

	return next > s
}

func (s NodeState) String() string {
	return enumName(nodeStateNames, int(s), "node state")
}

// MarshalText returns the name of the state.
func (s NodeState) MarshalText() ([]byte, error) {
	return marshalEnum(nodeStateNames, int(s), "node state")
}

// UnmarshalText parses a node state name.
func (s *NodeState) UnmarshalText(text []byte) error {
	return unmarshalEnum(nodeStateNames, text, "node state", (*int)(s))
}

// ParseNodeState returns the node state with the given name.
func ParseNodeState(name string) (NodeState, error) {
	var s NodeState
	return s, s.UnmarshalText([]byte(name))
}

func enumName(names []string, v int, noun string) string {
	if v >= 0 && v < len(names) {
		return names[v]
	}

	return fmt.Sprintf("%s(%d)", noun, v)
}

func marshalEnum(names []string, v int, noun string) ([]byte, error) {
	if v < 0 || v >= len(names) {
		return nil, fmt.Errorf("unknown %s: %d", noun, v)
	}

	return []byte(names[v]), nil
}

func unmarshalEnum(names []string, text []byte, noun string, v *int) error {
	for i, n := range names {
		if n == string(text) {
			*v = i
			return nil
		}
	}

	return fmt.Errorf("unknown %s: %q", noun, text)
}
