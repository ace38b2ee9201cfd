package procman

import (
	"context"

	"github.com/procman/procman/instance"
	"github.com/procman/procman/model"
	"github.com/procman/procman/persistence"
	"github.com/procman/procman/security"
)

// AddProcessModel validates the model described by d and stores it.
//
// If d does not name an owner, the model is owned by p.
func (e *Engine) AddProcessModel(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
	d model.Definition,
) (*model.Model, error) {
	if err := e.opts.Permissions.EnsurePermission(security.AddModel, p, ""); err != nil {
		return nil, err
	}

	if d.Owner == "" {
		d.Owner = ownerOf(p)
	}

	m, err := model.New(d)
	if err != nil {
		return nil, err
	}

	if _, err := e.models.Put(ctx, tx, m); err != nil {
		_ = tx.Rollback()
		return nil, boundary("add process model", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, boundary("add process model", err)
	}

	return m, nil
}

// GetProcessModel returns the model with the given handle.
func (e *Engine) GetProcessModel(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
	h persistence.Handle,
) (*model.Model, error) {
	m, err := e.loadModel(ctx, tx, h)
	if err != nil {
		return nil, boundary("get process model", err)
	}

	if err := e.opts.Permissions.EnsurePermission(security.ReadModel, p, m.Owner()); err != nil {
		return nil, err
	}

	return m, nil
}

// GetProcessModels returns the models that p is permitted to read.
func (e *Engine) GetProcessModels(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
) ([]*model.Model, error) {
	iter, err := e.models.Iterate(ctx, tx)
	if err != nil {
		return nil, boundary("get process models", err)
	}
	defer iter.Close()

	var models []*model.Model

	for {
		_, m, ok, err := iter.Next(ctx)
		if err != nil {
			return nil, boundary("get process models", err)
		}

		if !ok {
			return models, nil
		}

		if e.opts.Permissions.HasPermission(security.ReadModel, p, m.Owner()) {
			models = append(models, m)
		}
	}
}

// UpdateProcessModel replaces the model with the given handle with the model
// described by d.
//
// The model keeps its UUID and owner. It can not be updated while it has
// instances that are not in a terminal state.
func (e *Engine) UpdateProcessModel(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
	h persistence.Handle,
	d model.Definition,
) (*model.Model, error) {
	existing, err := e.loadModel(ctx, tx, h)
	if err != nil {
		return nil, boundary("update process model", err)
	}

	if err := e.opts.Permissions.EnsurePermission(security.UpdateModel, p, existing.Owner()); err != nil {
		return nil, err
	}

	if err := e.ensureModelIdle(ctx, tx, h); err != nil {
		return nil, boundary("update process model", err)
	}

	d.UUID = existing.UUID()
	d.Owner = existing.Owner()

	m, err := model.New(d)
	if err != nil {
		return nil, err
	}

	m.SetHandle(h)

	if err := e.models.Set(ctx, tx, h, m); err != nil {
		_ = tx.Rollback()
		return nil, boundary("update process model", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, boundary("update process model", err)
	}

	return m, nil
}

// RemoveProcessModel removes the model with the given handle, along with any
// of its instances that are in a terminal state.
//
// It can not be removed while it has instances that are not in a terminal
// state.
func (e *Engine) RemoveProcessModel(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
	h persistence.Handle,
) error {
	m, err := e.loadModel(ctx, tx, h)
	if err != nil {
		return boundary("remove process model", err)
	}

	if err := e.opts.Permissions.EnsurePermission(security.RemoveModel, p, m.Owner()); err != nil {
		return err
	}

	if err := e.ensureModelIdle(ctx, tx, h); err != nil {
		return boundary("remove process model", err)
	}

	if err := e.removeModel(ctx, tx, h); err != nil {
		_ = tx.Rollback()
		return boundary("remove process model", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return boundary("remove process model", err)
	}

	return nil
}

func (e *Engine) removeModel(ctx context.Context, tx persistence.Transaction, h persistence.Handle) error {
	instances, err := e.scanInstances(ctx, tx, func(inst *instance.ProcessInstance) bool {
		return inst.Model == h
	})
	if err != nil {
		return err
	}

	for _, inst := range instances {
		if _, err := e.instances.Remove(ctx, tx, inst.Handle()); err != nil {
			return err
		}

		e.records.Invalidate(inst.Handle())
	}

	_, err = e.models.Remove(ctx, tx, h)
	return err
}

// ensureModelIdle returns an error if the model h has any instances that are
// not in a terminal state.
func (e *Engine) ensureModelIdle(ctx context.Context, tx persistence.Transaction, h persistence.Handle) error {
	running, err := e.scanInstances(ctx, tx, func(inst *instance.ProcessInstance) bool {
		return inst.Model == h && !inst.State.IsTerminal()
	})
	if err != nil {
		return err
	}

	if len(running) != 0 {
		return IllegalStateError{
			Handle:  h,
			Message: "the process model has running instances",
		}
	}

	return nil
}

func (e *Engine) loadModel(ctx context.Context, tx persistence.Transaction, h persistence.Handle) (*model.Model, error) {
	m, ok, err := e.models.Get(ctx, tx, h)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, NotFoundError{Kind: "process model", Handle: h}
	}

	return m, nil
}
