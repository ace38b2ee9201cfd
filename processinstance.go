package procman

import (
	"context"

	"github.com/dogmatiq/marshalkit"
	"github.com/google/uuid"
	"github.com/procman/procman/dispatch"
	"github.com/procman/procman/instance"
	"github.com/procman/procman/internal/mlog"
	"github.com/procman/procman/persistence"
	"github.com/procman/procman/security"
	"go.uber.org/multierr"
)

// StartProcess creates an instance of the model m and starts it with the
// given input payload.
//
// id identifies the request. If an instance with the same UUID already exists
// its handle is returned and no new instance is created. If id is uuid.Nil a
// random UUID is used.
//
// If the instance is committed as started but a later step fails, its handle
// is returned along with the error. The instance is kept and the remaining
// work is done when it is tickled.
func (e *Engine) StartProcess(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
	m persistence.Handle,
	name string,
	id uuid.UUID,
	data []byte,
) (persistence.Handle, error) {
	h, tasks, err := e.startProcess(ctx, tx, p, m, name, id, data)
	if err != nil {
		return h, boundary("start process", err)
	}

	e.dispatch(ctx, tx, tasks)

	return h, nil
}

func (e *Engine) startProcess(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
	mh persistence.Handle,
	name string,
	id uuid.UUID,
	data []byte,
) (persistence.Handle, []dispatch.Task, error) {
	if id == uuid.Nil {
		id = uuid.New()
	}

	unlock, err := e.starts.Lock(ctx, id)
	if err != nil {
		return 0, nil, err
	}
	defer unlock()

	m, err := e.loadModel(ctx, tx, mh)
	if err != nil {
		return 0, nil, err
	}

	if err := e.opts.Permissions.EnsurePermission(security.StartInstance, p, m.Owner()); err != nil {
		return 0, nil, err
	}

	// TODO: Index instances by UUID so that starting an instance does not
	// require a scan of every instance.
	existing, err := e.scanInstances(ctx, tx, func(inst *instance.ProcessInstance) bool {
		return inst.UUID == id
	})
	if err != nil {
		return 0, nil, err
	}

	if len(existing) != 0 {
		return existing[0].Handle(), nil, nil
	}

	inst := &instance.ProcessInstance{
		UUID:  id,
		Model: mh,
		Owner: ownerOf(p),
		Name:  name,
	}

	h, err := e.instances.Put(ctx, tx, inst)
	if err != nil {
		_ = tx.Rollback()
		return 0, nil, err
	}

	rec, err := e.records.Acquire(ctx, h)
	if err != nil {
		_ = tx.Rollback()
		return 0, nil, err
	}
	defer rec.Release()

	s := instance.NewScope(
		tx,
		e.store(),
		m,
		inst,
		e.opts.PayloadCodec,
		e.opts.Logger,
		e.opts.Metrics,
	)

	if err := s.Initialize(ctx); err != nil {
		_ = tx.Rollback()
		return 0, nil, err
	}

	if err := s.Start(ctx, data); err != nil {
		s.Rollback()

		if inst.State == instance.StateNew {
			return 0, nil, err
		}

		rec.Instance = inst
		rec.Model = m
		rec.KeepAlive()

		return h, nil, err
	}

	if inst.State == instance.StateFinished && !e.opts.RetainFinished {
		e.evict(ctx, tx, h)
		return h, s.Tasks(), nil
	}

	rec.Instance = inst
	rec.Model = m
	rec.KeepAlive()

	return h, s.Tasks(), nil
}

// GetProcessInstance returns a copy of the instance with the given handle.
func (e *Engine) GetProcessInstance(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
	h persistence.Handle,
) (*instance.ProcessInstance, error) {
	var inst *instance.ProcessInstance

	err := e.view(ctx, tx, p, security.ReadInstance, h, func(i *instance.ProcessInstance) error {
		inst = i.Clone()
		return nil
	})
	if err != nil {
		return nil, boundary("get process instance", err)
	}

	return inst, nil
}

// GetNodeInstance returns the node instance with the given handle.
func (e *Engine) GetNodeInstance(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
	h persistence.Handle,
) (*instance.NodeInstance, error) {
	n, ok, err := e.nodes.Get(ctx, tx, h)
	if err == nil && !ok {
		err = NotFoundError{Kind: "node instance", Handle: h}
	}

	if err == nil {
		err = e.view(ctx, tx, p, security.ReadInstance, n.Instance, func(i *instance.ProcessInstance) error {
			// Reload under the lock, a step may have been in progress.
			n, ok, err = e.nodes.Get(ctx, tx, h)
			if err == nil && (!ok || !i.NodeInstances().Has(h)) {
				err = NotFoundError{Kind: "node instance", Handle: h}
			}

			return err
		})
	}

	if err != nil {
		return nil, boundary("get node instance", err)
	}

	return n, nil
}

// GetVisibleInstances returns the instances that p is permitted to read.
func (e *Engine) GetVisibleInstances(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
) ([]*instance.ProcessInstance, error) {
	instances, err := e.scanInstances(ctx, tx, func(inst *instance.ProcessInstance) bool {
		return e.opts.Permissions.HasPermission(security.ReadInstance, p, inst.Owner)
	})
	if err != nil {
		return nil, boundary("get visible instances", err)
	}

	return instances, nil
}

// CancelInstance removes the instance with the given handle and all of its
// node instances.
//
// Any later operation on the instance or its node instances fails with a
// NotFoundError.
func (e *Engine) CancelInstance(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
	h persistence.Handle,
) error {
	return boundary("cancel instance", e.cancel(ctx, tx, p, security.CancelInstance, h))
}

// CancelAll cancels every instance.
//
// It attempts to cancel every instance even if some cancellations fail, and
// returns the combined errors.
func (e *Engine) CancelAll(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
) error {
	if err := e.opts.Permissions.EnsurePermission(security.CancelAll, p, ""); err != nil {
		return err
	}

	instances, err := e.scanInstances(ctx, tx, func(*instance.ProcessInstance) bool {
		return true
	})
	if err != nil {
		return boundary("cancel all instances", err)
	}

	var result error
	for _, inst := range instances {
		err := e.cancel(ctx, tx, p, "", inst.Handle())
		if isMissing(err) {
			continue
		}

		result = multierr.Append(result, boundary("cancel all instances", err))
	}

	return result
}

func (e *Engine) cancel(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
	perm security.Permission,
	h persistence.Handle,
) error {
	_, err := e.step(ctx, tx, p, perm, h, func(s *instance.Scope) error {
		ok, err := e.instances.Remove(ctx, tx, h)
		if err != nil {
			return err
		}

		if !ok {
			return NotFoundError{Kind: "process instance", Handle: h}
		}

		if err := s.Commit(ctx); err != nil {
			return err
		}

		if !s.Instance.State.IsTerminal() {
			e.opts.Metrics.InstanceEnded(instance.StateCancelled.String())
		}

		mlog.LogInstanceState(
			e.opts.Logger,
			h,
			s.Instance.UUID.String(),
			s.Instance.Name,
			instance.StateCancelled,
		)

		// The next acquirer reloads the instance and finds it missing.
		e.records.Invalidate(h)

		return nil
	})

	return err
}

// TickleInstance re-drives the instance with the given handle.
//
// It is used to recover from missed callbacks, or from failures that occurred
// while creating successor node instances.
func (e *Engine) TickleInstance(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
	h persistence.Handle,
) error {
	tasks, err := e.step(ctx, tx, p, security.TickleInstance, h, func(s *instance.Scope) error {
		return s.Tickle(ctx)
	})
	if err != nil {
		return boundary("tickle instance", err)
	}

	e.dispatch(ctx, tx, tasks)

	return nil
}

// TickleNode re-drives the node instance with the given handle.
func (e *Engine) TickleNode(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
	h persistence.Handle,
) error {
	_, tasks, err := e.stepNode(ctx, tx, p, security.TickleInstance, h, func(s *instance.Scope, n *instance.NodeInstance) error {
		return s.TickleNode(ctx, n)
	})
	if err != nil {
		return boundary("tickle node", err)
	}

	e.dispatch(ctx, tx, tasks)

	return nil
}

// Report returns a status report of the instance with the given handle and
// its node instances, marshaled using the engine's marshaler.
func (e *Engine) Report(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
	h persistence.Handle,
) (marshalkit.Packet, error) {
	var r *instance.Report

	err := e.view(ctx, tx, p, security.ReadInstance, h, func(i *instance.ProcessInstance) (err error) {
		r, err = instance.NewReport(ctx, tx, e.nodes, i)
		return err
	})
	if err != nil {
		return marshalkit.Packet{}, boundary("report instance", err)
	}

	pkt, err := e.opts.Marshaler.Marshal(r)
	if err != nil {
		return marshalkit.Packet{}, boundary("report instance", err)
	}

	return pkt, nil
}

// InvalidateModel discards any cached copy of the model with the given
// handle.
func (e *Engine) InvalidateModel(h persistence.Handle) {
	e.models.InvalidateCache(h)
}

// InvalidateInstance discards any cached copy of the instance with the given
// handle.
func (e *Engine) InvalidateInstance(h persistence.Handle) {
	e.instances.InvalidateCache(h)
	e.records.Invalidate(h)
}

// InvalidateNodeInstance discards any cached copy of the node instance with
// the given handle.
func (e *Engine) InvalidateNodeInstance(h persistence.Handle) {
	e.nodes.InvalidateCache(h)
}

// InvalidateAll discards all cached models, instances and node instances.
func (e *Engine) InvalidateAll() {
	e.models.InvalidateAll()
	e.instances.InvalidateAll()
	e.nodes.InvalidateAll()
	e.records.InvalidateAll()
}
