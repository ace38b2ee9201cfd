package procman

import (
	"context"
	"errors"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger/backoff"
	"github.com/google/uuid"
	"github.com/procman/procman/dispatch"
	"github.com/procman/procman/instance"
	"github.com/procman/procman/internal/x/loggingx"
	"github.com/procman/procman/internal/x/syncx"
	"github.com/procman/procman/model"
	"github.com/procman/procman/persistence"
	"github.com/procman/procman/persistence/cache"
	"github.com/procman/procman/security"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Table names used within the data-store.
const (
	modelTable        = "process_model"
	instanceTable     = "process_instance"
	nodeInstanceTable = "node_instance"
)

// Engine executes process models.
//
// Every mutating method commits its work on the supplied transaction before
// returning. The caller remains responsible for closing the transaction.
//
// All methods are safe for concurrent use. Operations on the same instance are
// serialized, operations on different instances proceed concurrently.
type Engine struct {
	opts      *engineOptions
	dataStore persistence.DataStore

	models    *cache.Map[*model.Model]
	instances *cache.Map[*instance.ProcessInstance]
	nodes     *cache.Map[*instance.NodeInstance]

	records *instance.Cache
	starts  syncx.MutexNamespace[uuid.UUID]
	pool    *dispatch.Pool
}

// New returns a new engine that stores its state in ds.
func New(ds persistence.DataStore, options ...EngineOption) *Engine {
	opts := resolveEngineOptions(options...)

	e := &Engine{
		opts:      opts,
		dataStore: ds,
		records: &instance.Cache{
			Logger:  opts.Logger,
			Metrics: opts.Metrics,
		},
		pool: &dispatch.Pool{
			Dispatcher: opts.Dispatcher,
			Semaphore:  dispatch.NewSemaphore(int(opts.DispatchConcurrency)),
			Logger:     opts.Logger,
			Metrics:    opts.Metrics,
		},
	}

	e.models = cache.New[*model.Model](
		&persistence.Map[*model.Model]{
			Table:     modelTable,
			Marshaler: opts.Marshaler,
		},
		opts.CacheSize,
		nil, // models are immutable
	)

	e.nodes = cache.New[*instance.NodeInstance](
		&persistence.Map[*instance.NodeInstance]{
			Table:     nodeInstanceTable,
			Marshaler: opts.Marshaler,
		},
		opts.CacheSize,
		(*instance.NodeInstance).Clone,
	)

	e.instances = cache.New[*instance.ProcessInstance](
		&persistence.Map[*instance.ProcessInstance]{
			Table:     instanceTable,
			Marshaler: opts.Marshaler,
			PreRemove: e.removeNodeInstances,
		},
		opts.CacheSize,
		(*instance.ProcessInstance).Clone,
	)

	return e
}

// Begin starts a new transaction against the engine's data-store.
func (e *Engine) Begin(ctx context.Context) (persistence.Transaction, error) {
	return e.dataStore.Begin(ctx)
}

// Run manages the engine's background work until ctx is canceled.
//
// When it is first called it re-drives every started instance, so that work
// interrupted by a restart is resumed.
func (e *Engine) Run(ctx context.Context) error {
	parent := ctx
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.records.Run(ctx)
	})

	g.Go(func() error {
		return e.tickleStarted(ctx)
	})

	err := g.Wait()

	if parent.Err() != nil {
		return parent.Err()
	}

	return err
}

// tickleStarted tickles every started instance, retrying until it succeeds
// for all of them.
func (e *Engine) tickleStarted(ctx context.Context) error {
	logger := loggingx.WithPrefix(e.opts.Logger, "startup tickle: ")
	counter := backoff.Counter{
		Strategy: e.opts.TickleBackoff,
	}

	for {
		err := e.tickleAll(ctx)
		if err == nil {
			logging.Debug(logger, "all started instances have been re-driven")
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		logging.LogString(logger, err.Error())

		if err := counter.Sleep(ctx, err); err != nil {
			return err
		}
	}
}

func (e *Engine) tickleAll(ctx context.Context) error {
	tx, err := e.dataStore.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Close()

	started, err := e.scanInstances(ctx, tx, func(inst *instance.ProcessInstance) bool {
		return inst.State == instance.StateStarted
	})
	if err != nil {
		return err
	}

	var result error
	for _, inst := range started {
		tasks, err := e.step(ctx, tx, nil, "", inst.Handle(), func(s *instance.Scope) error {
			if s.Instance.State != instance.StateStarted {
				return nil // finished or cancelled since the scan
			}

			return s.Tickle(ctx)
		})

		if isMissing(err) {
			continue
		}

		result = multierr.Append(result, err)
		e.dispatch(ctx, tx, tasks)
	}

	return result
}

// step performs a single step of the state machine of the instance h while
// holding its lock.
//
// If perm is non-empty, p must hold it. It returns the tasks to be dispatched
// once the lock has been released.
func (e *Engine) step(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
	perm security.Permission,
	h persistence.Handle,
	fn func(*instance.Scope) error,
) ([]dispatch.Task, error) {
	rec, err := e.acquire(ctx, tx, h)
	if err != nil {
		return nil, err
	}
	defer rec.Release()

	if perm != "" {
		if err := e.opts.Permissions.EnsurePermission(perm, p, rec.Instance.Owner); err != nil {
			rec.KeepAlive()
			return nil, err
		}
	}

	s := instance.NewScope(
		tx,
		e.store(),
		rec.Model,
		rec.Instance,
		e.opts.PayloadCodec,
		e.opts.Logger,
		e.opts.Metrics,
	)

	if err := fn(s); err != nil {
		s.Rollback()
		return nil, err
	}

	if err := s.Commit(ctx); err != nil {
		return nil, err
	}

	if rec.Instance.State == instance.StateFinished && !e.opts.RetainFinished {
		e.evict(ctx, tx, h)
		return s.Tasks(), nil
	}

	rec.KeepAlive()

	return s.Tasks(), nil
}

// view reads the instance h while holding its lock.
//
// Unlike step() it never commits tx, so any work pending on tx is left as it
// is.
func (e *Engine) view(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
	perm security.Permission,
	h persistence.Handle,
	fn func(*instance.ProcessInstance) error,
) error {
	rec, err := e.acquire(ctx, tx, h)
	if err != nil {
		return err
	}
	defer rec.Release()

	rec.KeepAlive()

	if err := e.opts.Permissions.EnsurePermission(perm, p, rec.Instance.Owner); err != nil {
		return err
	}

	return fn(rec.Instance)
}

// stepNode performs a step of the state machine on the node instance h. It
// returns the node instance as of the end of the step.
func (e *Engine) stepNode(
	ctx context.Context,
	tx persistence.Transaction,
	p *security.Principal,
	perm security.Permission,
	h persistence.Handle,
	fn func(*instance.Scope, *instance.NodeInstance) error,
) (*instance.NodeInstance, []dispatch.Task, error) {
	n, ok, err := e.nodes.Get(ctx, tx, h)
	if err != nil {
		return nil, nil, err
	}

	if !ok {
		return nil, nil, NotFoundError{Kind: "node instance", Handle: h}
	}

	var result *instance.NodeInstance

	tasks, err := e.step(ctx, tx, p, perm, n.Instance, func(s *instance.Scope) error {
		n, err := s.NodeInstance(ctx, h)
		if err != nil {
			return err
		}

		if err := fn(s, n); err != nil {
			return err
		}

		result, err = s.NodeInstance(ctx, h)
		return err
	})

	return result, tasks, err
}

// acquire locks the cache record for the instance h, loading the instance and
// its model if necessary.
func (e *Engine) acquire(
	ctx context.Context,
	tx persistence.Transaction,
	h persistence.Handle,
) (*instance.Record, error) {
	rec, err := e.records.Acquire(ctx, h)
	if err != nil {
		return nil, err
	}

	if rec.Instance != nil {
		return rec, nil
	}

	inst, ok, err := e.instances.Get(ctx, tx, h)
	if err == nil && !ok {
		err = NotFoundError{Kind: "process instance", Handle: h}
	}

	if err != nil {
		rec.Release()
		return nil, err
	}

	m, ok, err := e.models.Get(ctx, tx, inst.Model)
	if err == nil && !ok {
		err = NotFoundError{Kind: "process model", Handle: inst.Model}
	}

	if err != nil {
		rec.Release()
		return nil, err
	}

	rec.Instance = inst
	rec.Model = m

	return rec, nil
}

// evict removes the finished instance h and its node instances from the
// data-store.
//
// A failure is logged but not returned, the instance is still finished.
func (e *Engine) evict(ctx context.Context, tx persistence.Transaction, h persistence.Handle) {
	_, err := e.instances.Remove(ctx, tx, h)
	if err == nil {
		err = tx.Commit(ctx)
	}

	if err != nil {
		_ = tx.Rollback()

		logging.Log(
			e.opts.Logger,
			"unable to evict finished instance %s: %s",
			h,
			err,
		)
	}
}

// dispatch hands tasks to the dispatcher and applies their outcomes.
//
// It must be called without holding any instance lock. Tasks that are
// deferred, including those whose dispatcher fails, remain "sent" and are
// dispatched again when the instance is tickled.
func (e *Engine) dispatch(ctx context.Context, tx persistence.Transaction, tasks []dispatch.Task) {
	if len(tasks) == 0 {
		return
	}

	outcomes, err := e.pool.Dispatch(ctx, tasks)
	if err != nil {
		logging.Log(e.opts.Logger, "unable to dispatch tasks: %s", err)
		return
	}

	for _, o := range outcomes {
		var fn func(*instance.Scope, *instance.NodeInstance) error

		switch o.Acceptance {
		case dispatch.Accepted:
			fn = func(s *instance.Scope, n *instance.NodeInstance) error {
				return s.TakeTask(ctx, n)
			}
		case dispatch.Rejected:
			cause := "rejected by " + o.Task.Endpoint

			fn = func(s *instance.Scope, n *instance.NodeInstance) error {
				return s.FailTask(ctx, n, cause)
			}
		default:
			continue
		}

		_, more, err := e.stepNode(ctx, tx, nil, "", o.Task.Node, fn)

		var illegal IllegalStateError
		if errors.As(err, &illegal) || isMissing(err) {
			// The endpoint has already reported progress, or the instance
			// has gone away.
			logging.Debug(
				e.opts.Logger,
				"ignored %s outcome for node instance %s: %s",
				o.Acceptance,
				o.Task.Node,
				err,
			)
			continue
		}

		if err != nil {
			logging.Log(
				e.opts.Logger,
				"unable to apply %s outcome for node instance %s: %s",
				o.Acceptance,
				o.Task.Node,
				err,
			)
			continue
		}

		e.dispatch(ctx, tx, more)
	}
}

// removeNodeInstances removes the node instances of the instance h. It is
// called within the transaction that removes the instance itself.
func (e *Engine) removeNodeInstances(
	ctx context.Context,
	tx persistence.Transaction,
	h persistence.Handle,
) error {
	inst, ok, err := e.instances.Get(ctx, tx, h)
	if !ok || err != nil {
		return err
	}

	for _, nh := range inst.NodeInstances() {
		ok, err := e.nodes.Remove(ctx, tx, nh)
		if err != nil {
			return err
		}

		if !ok {
			return NotFoundError{Kind: "node instance", Handle: nh}
		}
	}

	return nil
}

// scanInstances returns the instances for which fn returns true.
func (e *Engine) scanInstances(
	ctx context.Context,
	tx persistence.Transaction,
	fn func(*instance.ProcessInstance) bool,
) (_ []*instance.ProcessInstance, err error) {
	iter, err := e.instances.Iterate(ctx, tx)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, iter.Close())
	}()

	var matches []*instance.ProcessInstance

	for {
		_, inst, ok, err := iter.Next(ctx)
		if err != nil {
			return nil, err
		}

		if !ok {
			return matches, nil
		}

		if fn(inst) {
			matches = append(matches, inst)
		}
	}
}

func (e *Engine) store() instance.Store {
	return instance.Store{
		Instances: e.instances,
		Nodes:     e.nodes,
	}
}

// isMissing returns true if err indicates that an instance or node instance
// no longer exists.
func isMissing(err error) bool {
	var notFound NotFoundError
	return errors.As(err, &notFound)
}

// ownerOf returns the name to record as the owner of resources created by p.
func ownerOf(p *security.Principal) string {
	if p == nil {
		return ""
	}

	return p.Name
}
