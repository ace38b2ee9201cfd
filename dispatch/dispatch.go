package dispatch

import (
	"context"
	"fmt"

	"github.com/procman/procman/payload"
	"github.com/procman/procman/persistence"
)

// Task is the invocation of an activity node instance on an external
// endpoint.
type Task struct {
	// Instance is the handle of the process instance that owns the node
	// instance.
	Instance persistence.Handle

	// Node is the handle of the node instance.
	Node persistence.Handle

	// NodeID is the ID of the activity node within its model.
	NodeID string

	// Endpoint and Operation identify the work to perform.
	Endpoint  string
	Operation string

	// Inputs are the process-level input fragments.
	Inputs []payload.Fragment

	// Arguments are the result fragments of the node instance's
	// predecessors.
	Arguments []payload.Fragment
}

// Acceptance is a dispatcher's response to a task.
type Acceptance int

const (
	// Deferred indicates that the dispatcher has not taken the task. The task
	// remains "sent" and is offered again when the instance is tickled.
	Deferred Acceptance = iota

	// Accepted indicates that the endpoint has taken the task.
	Accepted

	// Rejected indicates that the endpoint refused the task. The node
	// instance is failed.
	Rejected
)

func (a Acceptance) String() string {
	switch a {
	case Deferred:
		return "deferred"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("acceptance(%d)", int(a))
	}
}

// Dispatcher hands tasks to the external services that perform them.
//
// Dispatch is called without any process instance locked. A dispatcher
// reports the eventual result of a task by calling the engine's FinishTask(),
// FailTask() or CancelTask() methods.
type Dispatcher interface {
	Dispatch(ctx context.Context, t Task) (Acceptance, error)
}

// Func is an adaptor that allows an ordinary function to be used as a
// Dispatcher.
type Func func(ctx context.Context, t Task) (Acceptance, error)

// Dispatch returns fn(ctx, t).
func (fn Func) Dispatch(ctx context.Context, t Task) (Acceptance, error) {
	return fn(ctx, t)
}

// Defer is a Dispatcher that defers every task.
//
// It is used when tasks are collected by some other means, such as polling
// the engine for node instances in the "sent" state.
var Defer Dispatcher = Func(
	func(context.Context, Task) (Acceptance, error) {
		return Deferred, nil
	},
)
