package instance

import (
	"context"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/procman/procman/dispatch"
	"github.com/procman/procman/internal/metrics"
	"github.com/procman/procman/internal/mlog"
	"github.com/procman/procman/model"
	"github.com/procman/procman/payload"
	"github.com/procman/procman/persistence"
)

// Store is the set of handle maps used by the state machine.
type Store struct {
	Instances persistence.HandleMap[*ProcessInstance]
	Nodes     persistence.HandleMap[*NodeInstance]
}

// Scope performs the steps of the state machine of a single process
// instance.
//
// The caller must hold the instance's lock for the lifetime of the scope. A
// scope must not be used concurrently.
type Scope struct {
	Tx       persistence.Transaction
	Store    Store
	Model    *model.Model
	Instance *ProcessInstance
	Codec    payload.Codec

	// Logger is the target for log messages about the instance.
	// If it is nil, logging.DefaultLogger is used.
	Logger logging.Logger

	// Metrics records state machine activity. It may be nil.
	Metrics *metrics.Metrics

	committed *ProcessInstance
	tasks     []dispatch.Task
}

// NewScope returns a scope for inst, which must reflect the state of the
// instance as of the last commit of tx.
func NewScope(
	tx persistence.Transaction,
	s Store,
	m *model.Model,
	inst *ProcessInstance,
	c payload.Codec,
	l logging.Logger,
	mt *metrics.Metrics,
) *Scope {
	if l == nil {
		l = logging.DefaultLogger
	}

	return &Scope{
		Tx:        tx,
		Store:     s,
		Model:     m,
		Instance:  inst,
		Codec:     c,
		Logger:    l,
		Metrics:   mt,
		committed: inst.Clone(),
	}
}

// Tasks returns the tasks that have been committed and are ready to be
// dispatched.
func (s *Scope) Tasks() []dispatch.Task {
	return s.tasks
}

// Commit commits the transaction.
//
// If the commit fails, the in-memory instance is restored to the state it
// had at the last successful commit.
func (s *Scope) Commit(ctx context.Context) error {
	if err := s.Tx.Commit(ctx); err != nil {
		s.restore()
		return err
	}

	s.committed = s.Instance.Clone()

	return nil
}

// Rollback discards uncommitted changes, including those made to the
// in-memory instance.
func (s *Scope) Rollback() {
	_ = s.Tx.Rollback()
	s.restore()
}

func (s *Scope) restore() {
	*s.Instance = *s.committed.Clone()
}

// NodeInstance loads one of the instance's node instances.
func (s *Scope) NodeInstance(ctx context.Context, h persistence.Handle) (*NodeInstance, error) {
	n, ok, err := s.Store.Nodes.Get(ctx, s.Tx, h)
	if err != nil {
		return nil, err
	}

	if !ok || n.Instance != s.Instance.Handle() {
		return nil, NotFoundError{"node instance", h}
	}

	return n, nil
}

// Initialize creates a node instance for each of the model's start nodes.
func (s *Scope) Initialize(ctx context.Context) error {
	if s.Instance.State != StateNew || s.Instance.Active.Len() != 0 {
		return illegalState(s.Instance.Handle(), "the instance has already been initialized")
	}

	for _, start := range s.Model.StartNodes() {
		n := &NodeInstance{
			Node:     start.ID(),
			Instance: s.Instance.Handle(),
			State:    NodePending,
		}

		if _, err := s.Store.Nodes.Put(ctx, s.Tx, n); err != nil {
			return err
		}

		s.Instance.Active.Add(n.Handle())
	}

	return s.setState(ctx, StateInitialized)
}

// Start decodes the instance's inputs from data and provides each active node
// instance.
//
// The inputs and the STARTED state are committed before any node instance is
// provided.
func (s *Scope) Start(ctx context.Context, data []byte) error {
	if s.Instance.State != StateInitialized {
		return illegalState(s.Instance.Handle(), "can not start an instance that is %s", s.Instance.State)
	}

	if s.Instance.Active.Len() == 0 {
		return illegalState(s.Instance.Handle(), "the instance has no active node instances")
	}

	inputs, err := s.Codec.Decode(data)
	if err != nil {
		return err
	}

	s.Instance.Inputs = inputs

	if err := s.setState(ctx, StateStarted); err != nil {
		return err
	}

	if err := s.Commit(ctx); err != nil {
		return err
	}

	s.Metrics.InstanceStarted()

	for _, h := range s.Instance.Active.Clone() {
		n, err := s.NodeInstance(ctx, h)
		if err != nil {
			return err
		}

		s.isolate(ctx, n, "provide", func() error {
			return s.provide(ctx, n)
		})
	}

	return s.finish(ctx)
}

// AcknowledgeTask records that the endpoint has received n.
func (s *Scope) AcknowledgeTask(ctx context.Context, n *NodeInstance) error {
	if _, err := s.activity(n); err != nil {
		return err
	}

	if err := s.transition(n, NodeAcknowledged, mlog.CallbackIcon); err != nil {
		return err
	}

	return s.saveNode(ctx, n)
}

// TakeTask records that the endpoint has agreed to perform n.
//
// If the activity starts automatically, n is started immediately.
func (s *Scope) TakeTask(ctx context.Context, n *NodeInstance) error {
	a, err := s.activity(n)
	if err != nil {
		return err
	}

	if err := s.transition(n, NodeTaken, mlog.CallbackIcon); err != nil {
		return err
	}

	if a.AutoStart {
		return s.StartTask(ctx, n)
	}

	return s.saveNode(ctx, n)
}

// StartTask records that the endpoint has begun performing n.
func (s *Scope) StartTask(ctx context.Context, n *NodeInstance) error {
	if _, err := s.activity(n); err != nil {
		return err
	}

	if err := s.transition(n, NodeStarted, mlog.CallbackIcon); err != nil {
		return err
	}

	return s.saveNode(ctx, n)
}

// FinishTask records that n has completed with the given results.
//
// The completion is committed before n's successors are created. A failure
// to create the successors is logged and rolled back, leaving the completion
// in place. It is retried when the instance is tickled.
func (s *Scope) FinishTask(ctx context.Context, n *NodeInstance, results []payload.Fragment) error {
	if _, err := s.activity(n); err != nil {
		return err
	}

	return s.complete(ctx, n, results)
}

// FailTask records that n could not be performed.
//
// Its successors are never created. If no other branch can make progress, the
// instance fails.
func (s *Scope) FailTask(ctx context.Context, n *NodeInstance, cause string) error {
	if _, err := s.activity(n); err != nil {
		return err
	}

	n.FailureCause = cause

	return s.stop(ctx, n, NodeFailed)
}

// CancelTask records that n was abandoned.
//
// Its successors are never created. If no other branch can make progress, the
// instance is cancelled.
func (s *Scope) CancelTask(ctx context.Context, n *NodeInstance) error {
	if _, err := s.activity(n); err != nil {
		return err
	}

	return s.stop(ctx, n, NodeCancelled)
}

// UpdateTaskState moves n to the given state using the corresponding task
// operation.
func (s *Scope) UpdateTaskState(ctx context.Context, n *NodeInstance, to NodeState) error {
	switch to {
	case NodeAcknowledged:
		return s.AcknowledgeTask(ctx, n)
	case NodeTaken:
		return s.TakeTask(ctx, n)
	case NodeStarted:
		return s.StartTask(ctx, n)
	case NodeComplete:
		return s.FinishTask(ctx, n, nil)
	case NodeFailed:
		return s.FailTask(ctx, n, "")
	case NodeCancelled:
		return s.CancelTask(ctx, n)
	default:
		return illegalState(n.Handle(), "the %s state can not be set directly", to)
	}
}

// Tickle re-drives the instance.
//
// Completed node instances whose successors were never created are
// propagated, pending node instances are provided, and tasks that were sent
// but not taken are dispatched again. Finally the instance is finished if
// possible.
func (s *Scope) Tickle(ctx context.Context) error {
	if s.Instance.State != StateStarted {
		return illegalState(s.Instance.Handle(), "can not tickle an instance that is %s", s.Instance.State)
	}

	mlog.LogTickle(s.Logger, s.Instance.Handle(), s.Instance.Active.Len())

	// Only the node instances that were active before propagation are
	// re-driven, anything created by propagation has just been provided.
	active := s.Instance.Active.Clone()

	stopped := append(s.Instance.Finished.Clone(), s.Instance.Results...)
	for _, h := range stopped {
		n, err := s.NodeInstance(ctx, h)
		if err != nil {
			return err
		}

		if n.State == NodeComplete && !n.Propagated {
			s.propagate(ctx, n)
		}
	}

	for _, h := range active {
		n, err := s.NodeInstance(ctx, h)
		if err != nil {
			return err
		}

		s.redrive(ctx, n)
	}

	return s.finish(ctx)
}

// TickleNode re-drives a single node instance.
func (s *Scope) TickleNode(ctx context.Context, n *NodeInstance) error {
	if s.Instance.State != StateStarted {
		return illegalState(s.Instance.Handle(), "can not tickle an instance that is %s", s.Instance.State)
	}

	if n.State == NodeComplete && !n.Propagated {
		s.propagate(ctx, n)
	} else if s.Instance.Active.Has(n.Handle()) {
		s.redrive(ctx, n)
	}

	return s.finish(ctx)
}

// redrive provides a pending node instance or re-sends a task that has not
// been taken.
func (s *Scope) redrive(ctx context.Context, n *NodeInstance) {
	switch n.State {
	case NodePending:
		if _, ok := s.Instance.Joins[n.Node]; ok {
			return // still waiting for predecessors
		}

		s.isolate(ctx, n, "provide", func() error {
			return s.provide(ctx, n)
		})

	case NodeSent:
		s.isolate(ctx, n, "dispatch", func() error {
			a, err := s.activity(n)
			if err != nil {
				return err
			}

			return s.queue(ctx, n, a)
		})
	}
}

// provide offers n to whatever performs it.
//
// Activities are queued for dispatch once the transaction commits. Routing
// nodes are taken, started and completed immediately, carrying the results
// of their predecessors forward.
func (s *Scope) provide(ctx context.Context, n *NodeInstance) error {
	node, err := s.node(n)
	if err != nil {
		return err
	}

	if a, ok := node.(*model.ActivityNode); ok {
		if err := s.transition(n, NodeSent, mlog.DispatchIcon); err != nil {
			return err
		}

		if err := s.saveNode(ctx, n); err != nil {
			return err
		}

		return s.queue(ctx, n, a)
	}

	for _, st := range []NodeState{NodeTaken, NodeStarted} {
		if err := s.transition(n, st, mlog.SystemIcon); err != nil {
			return err
		}
	}

	results, err := s.arguments(ctx, n)
	if err != nil {
		return err
	}

	return s.complete(ctx, n, results)
}

// queue arranges for a task for n to be dispatched once the transaction
// commits.
func (s *Scope) queue(ctx context.Context, n *NodeInstance, a *model.ActivityNode) error {
	args, err := s.arguments(ctx, n)
	if err != nil {
		return err
	}

	t := dispatch.Task{
		Instance:  s.Instance.Handle(),
		Node:      n.Handle(),
		NodeID:    n.Node,
		Endpoint:  a.Endpoint,
		Operation: a.Operation,
		Inputs:    payload.Clone(s.Instance.Inputs),
		Arguments: args,
	}

	s.Tx.OnCommit(func() {
		s.tasks = append(s.tasks, t)
	})

	return nil
}

// arguments returns the results of n's predecessors.
func (s *Scope) arguments(ctx context.Context, n *NodeInstance) ([]payload.Fragment, error) {
	var args []payload.Fragment

	for _, h := range n.Predecessors {
		p, err := s.NodeInstance(ctx, h)
		if err != nil {
			return nil, err
		}

		args = append(args, p.Results...)
	}

	return args, nil
}

// complete records n as complete, commits, then creates and provides its
// successors.
func (s *Scope) complete(ctx context.Context, n *NodeInstance, results []payload.Fragment) error {
	if n.State.IsFinal() {
		return illegalState(n.Handle(), "node instance %s is already %s", n.Node, n.State)
	}

	node, err := s.node(n)
	if err != nil {
		return err
	}

	if err := s.transition(n, NodeComplete, mlog.CallbackIcon); err != nil {
		return err
	}

	n.Results = results
	n.Propagated = len(node.Successors()) == 0

	s.Instance.Active.Remove(n.Handle())
	if node.Kind() == model.EndKind {
		s.Instance.Results.Add(n.Handle())
	} else {
		s.Instance.Finished.Add(n.Handle())
	}

	if err := s.saveNode(ctx, n); err != nil {
		return err
	}

	if err := s.saveInstance(ctx); err != nil {
		return err
	}

	if err := s.Commit(ctx); err != nil {
		return err
	}

	if !n.Propagated {
		s.propagate(ctx, n)
	}

	return s.finish(ctx)
}

// propagate creates the successors of the completed node instance n and then
// provides those that are ready.
//
// Creating the successors is a separate unit-of-work from providing each of
// them. Failures are logged and rolled back.
func (s *Scope) propagate(ctx context.Context, n *NodeInstance) {
	var ready []*NodeInstance

	ok := s.isolate(ctx, n, "successor propagation", func() (err error) {
		ready, err = s.successors(ctx, n)
		return err
	})

	if !ok {
		return
	}

	for _, r := range ready {
		r := r
		s.isolate(ctx, r, "provide", func() error {
			return s.provide(ctx, r)
		})
	}
}

// successors creates or updates the node instances that follow n and returns
// those that are ready to be provided.
func (s *Scope) successors(ctx context.Context, n *NodeInstance) ([]*NodeInstance, error) {
	node, err := s.node(n)
	if err != nil {
		return nil, err
	}

	var ready []*NodeInstance

	// A finished instance never grows. Late arrivals are only recorded
	// against joins that have already fired.
	started := s.Instance.State == StateStarted

	for _, id := range node.Successors() {
		next, _ := s.Model.Node(id)

		if j, ok := next.(*model.JoinNode); ok {
			if _, fired := s.Instance.FiredJoins[id]; !started && !fired {
				continue
			}

			ji, fired, err := s.arrive(ctx, j, n.Handle())
			if err != nil {
				return nil, err
			}

			if fired {
				ready = append(ready, ji)
			}

			continue
		}

		if !started {
			continue
		}

		ni := &NodeInstance{
			Node:         id,
			Instance:     s.Instance.Handle(),
			Predecessors: persistence.NewHandleSet(n.Handle()),
			State:        NodePending,
		}

		if _, err := s.Store.Nodes.Put(ctx, s.Tx, ni); err != nil {
			return nil, err
		}

		s.Instance.Active.Add(ni.Handle())
		ready = append(ready, ni)
	}

	n.Propagated = true

	if err := s.saveNode(ctx, n); err != nil {
		return nil, err
	}

	return ready, s.saveInstance(ctx)
}

// arrive records the arrival of the completed predecessor h at join j.
//
// It returns the join's node instance, and true if this arrival caused the
// join to fire. Arrivals at a join that has already fired are recorded, up to
// the join's maximum, but never fire it again.
func (s *Scope) arrive(
	ctx context.Context,
	j *model.JoinNode,
	h persistence.Handle,
) (*NodeInstance, bool, error) {
	if fh, ok := s.Instance.FiredJoins[j.ID()]; ok {
		ni, err := s.NodeInstance(ctx, fh)
		if err != nil {
			return nil, false, err
		}

		ji := JoinInstance{ni, j}
		if ji.AddPredecessor(h) {
			if err := s.saveNode(ctx, ni); err != nil {
				return nil, false, err
			}
		}

		mlog.LogJoinArrival(s.Logger, s.Instance.Handle(), fh, j.ID(), ni.Predecessors.Len(), j.Min, false)

		return ni, false, nil
	}

	var ni *NodeInstance

	if jh, ok := s.Instance.Joins[j.ID()]; ok {
		var err error
		ni, err = s.NodeInstance(ctx, jh)
		if err != nil {
			return nil, false, err
		}
	} else {
		ni = &NodeInstance{
			Node:     j.ID(),
			Instance: s.Instance.Handle(),
			State:    NodePending,
		}

		if _, err := s.Store.Nodes.Put(ctx, s.Tx, ni); err != nil {
			return nil, false, err
		}

		if s.Instance.Joins == nil {
			s.Instance.Joins = map[string]persistence.Handle{}
		}

		s.Instance.Joins[j.ID()] = ni.Handle()
		s.Instance.Active.Add(ni.Handle())
	}

	ji := JoinInstance{ni, j}
	ji.AddPredecessor(h)
	fired := ji.Ready()

	if fired {
		delete(s.Instance.Joins, j.ID())

		if s.Instance.FiredJoins == nil {
			s.Instance.FiredJoins = map[string]persistence.Handle{}
		}

		s.Instance.FiredJoins[j.ID()] = ni.Handle()
		s.Metrics.JoinFired()
	}

	if err := s.saveNode(ctx, ni); err != nil {
		return nil, false, err
	}

	mlog.LogJoinArrival(s.Logger, s.Instance.Handle(), ni.Handle(), j.ID(), ni.Predecessors.Len(), j.Min, fired)

	return ni, fired, nil
}

// stop moves n to a final state other than complete, then finishes the
// instance if possible.
func (s *Scope) stop(ctx context.Context, n *NodeInstance, st NodeState) error {
	if err := s.transition(n, st, mlog.CallbackIcon); err != nil {
		return err
	}

	s.Instance.Active.Remove(n.Handle())
	s.Instance.Finished.Add(n.Handle())

	if err := s.saveNode(ctx, n); err != nil {
		return err
	}

	if err := s.saveInstance(ctx); err != nil {
		return err
	}

	if err := s.Commit(ctx); err != nil {
		return err
	}

	return s.finish(ctx)
}

// finish moves the instance to a terminal state if it can make no further
// progress.
//
// The instance is FINISHED once an instance of every end node has completed.
// Otherwise, if every active node instance is a join still waiting for
// predecessors and every completed node instance has been propagated, no
// branch can progress. The instance is then FAILED if any node instance
// failed, and CANCELLED otherwise.
func (s *Scope) finish(ctx context.Context) error {
	if s.Instance.State != StateStarted {
		return nil
	}

	if s.Instance.Results.Len() >= s.Model.EndNodeCount() {
		for _, h := range s.Instance.Results {
			n, err := s.NodeInstance(ctx, h)
			if err != nil {
				return err
			}

			s.Instance.Outputs = append(s.Instance.Outputs, n.Results...)
		}

		if err := s.setState(ctx, StateFinished); err != nil {
			return err
		}

		return s.Commit(ctx)
	}

	var waiting []*NodeInstance
	for _, h := range s.Instance.Active {
		if !s.isWaiting(h) {
			return nil
		}

		n, err := s.NodeInstance(ctx, h)
		if err != nil {
			return err
		}

		waiting = append(waiting, n)
	}

	st := StateCancelled
	for _, h := range s.Instance.Finished {
		n, err := s.NodeInstance(ctx, h)
		if err != nil {
			return err
		}

		switch {
		case n.State == NodeComplete && !n.Propagated:
			return nil // successors are created by the next tickle
		case n.State == NodeFailed:
			st = StateFailed
		}
	}

	for _, n := range waiting {
		if err := s.transition(n, NodeCancelled, mlog.SystemIcon); err != nil {
			return err
		}

		delete(s.Instance.Joins, n.Node)
		s.Instance.Active.Remove(n.Handle())
		s.Instance.Finished.Add(n.Handle())

		if err := s.saveNode(ctx, n); err != nil {
			return err
		}
	}

	if err := s.setState(ctx, st); err != nil {
		return err
	}

	return s.Commit(ctx)
}

// isWaiting returns true if h is the node instance of a join that has not
// yet fired.
func (s *Scope) isWaiting(h persistence.Handle) bool {
	for _, jh := range s.Instance.Joins {
		if jh == h {
			return true
		}
	}

	return false
}

// isolate runs fn as its own unit-of-work and commits it.
//
// If fn or the commit fails, the unit-of-work is rolled back and the failure
// is logged. It returns true on success.
func (s *Scope) isolate(ctx context.Context, n *NodeInstance, what string, fn func() error) bool {
	err := fn()
	if err == nil {
		err = s.Commit(ctx)
	} else {
		s.Rollback()
	}

	if err == nil {
		return true
	}

	s.Metrics.PropagationFailed()
	mlog.LogFailure(
		s.Logger,
		s.Instance.Handle(),
		n.Handle(),
		n.Node,
		err,
		"%s rolled back, it will be retried when the instance is tickled",
		what,
	)

	return false
}

// transition moves n to the state "to".
func (s *Scope) transition(n *NodeInstance, to NodeState, icon mlog.Icon) error {
	if !n.State.CanTransitionTo(to) {
		return illegalState(
			n.Handle(),
			"node instance %s can not move from %s to %s",
			n.Node,
			n.State,
			to,
		)
	}

	n.State = to

	s.Metrics.NodeTransition(to.String())
	mlog.LogNodeState(s.Logger, s.Instance.Handle(), n.Handle(), n.Node, icon, to)

	return nil
}

// setState moves the instance to st and saves it.
func (s *Scope) setState(ctx context.Context, st State) error {
	s.Instance.State = st

	if err := s.saveInstance(ctx); err != nil {
		return err
	}

	if st.IsTerminal() {
		s.Metrics.InstanceEnded(st.String())
	}

	mlog.LogInstanceState(
		s.Logger,
		s.Instance.Handle(),
		s.Instance.UUID.String(),
		s.Instance.Name,
		st,
	)

	return nil
}

// node returns the model node that n executes.
func (s *Scope) node(n *NodeInstance) (model.Node, error) {
	node, ok := s.Model.Node(n.Node)
	if !ok {
		return nil, illegalState(n.Handle(), "model has no node with ID %q", n.Node)
	}

	return node, nil
}

// activity returns the activity node that n executes, or an error if n
// executes a routing node.
//
// Tasks may be updated while the instance is STARTED. They may also be updated
// once the instance is FINISHED, so that branches still in flight can report
// their completion.
func (s *Scope) activity(n *NodeInstance) (*model.ActivityNode, error) {
	if s.Instance.State != StateStarted && s.Instance.State != StateFinished {
		return nil, illegalState(s.Instance.Handle(), "the instance is %s", s.Instance.State)
	}

	node, err := s.node(n)
	if err != nil {
		return nil, err
	}

	a, ok := node.(*model.ActivityNode)
	if !ok {
		return nil, illegalState(n.Handle(), "%s nodes are driven by the engine", node.Kind())
	}

	return a, nil
}

func (s *Scope) saveNode(ctx context.Context, n *NodeInstance) error {
	return s.Store.Nodes.Set(ctx, s.Tx, n.Handle(), n)
}

func (s *Scope) saveInstance(ctx context.Context) error {
	return s.Store.Instances.Set(ctx, s.Tx, s.Instance.Handle(), s.Instance)
}
