package procman

import (
	"context"

	"github.com/procman/procman/instance"
	"github.com/procman/procman/persistence"
	"github.com/procman/procman/security"
)

// UpdateTaskState moves the node instance h to the given state, on behalf of
// the endpoint performing its task.
//
// Moving a node instance to the complete state this way records no results.
// Use FinishTask() to supply them.
func (e *Engine) UpdateTaskState(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
	h persistence.Handle,
	to instance.NodeState,
) (*instance.NodeInstance, error) {
	return e.updateTask(ctx, tx, p, h, "update task state", func(s *instance.Scope, n *instance.NodeInstance) error {
		return s.UpdateTaskState(ctx, n, to)
	})
}

// FinishTask completes the node instance h with the results encoded in data.
//
// The completion is committed before the node's successors are created.
// Completing a node instance that is already complete fails with an
// IllegalStateError and has no effect.
func (e *Engine) FinishTask(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
	h persistence.Handle,
	data []byte,
) (*instance.NodeInstance, error) {
	results, err := e.opts.PayloadCodec.Decode(data)
	if err != nil {
		return nil, boundary("finish task", err)
	}

	return e.updateTask(ctx, tx, p, h, "finish task", func(s *instance.Scope, n *instance.NodeInstance) error {
		return s.FinishTask(ctx, n, results)
	})
}

// FailTask records that the task of node instance h could not be performed.
func (e *Engine) FailTask(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
	h persistence.Handle,
	cause string,
) (*instance.NodeInstance, error) {
	return e.updateTask(ctx, tx, p, h, "fail task", func(s *instance.Scope, n *instance.NodeInstance) error {
		return s.FailTask(ctx, n, cause)
	})
}

// CancelTask records that the task of node instance h was abandoned.
func (e *Engine) CancelTask(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
	h persistence.Handle,
) (*instance.NodeInstance, error) {
	return e.updateTask(ctx, tx, p, h, "cancel task", func(s *instance.Scope, n *instance.NodeInstance) error {
		return s.CancelTask(ctx, n)
	})
}

func (e *Engine) updateTask(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
	h persistence.Handle,
	op string,
	fn func(*instance.Scope, *instance.NodeInstance) error,
) (*instance.NodeInstance, error) {
	n, tasks, err := e.stepNode(ctx, tx, p, security.UpdateTask, h, fn)
	if err != nil {
		return nil, boundary(op, err)
	}

	e.dispatch(ctx, tx, tasks)

	return n, nil
}
