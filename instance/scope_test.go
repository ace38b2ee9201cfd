package instance_test

import (
	"context"
	"errors"
	"reflect"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/marshalkit/codec"
	"github.com/dogmatiq/marshalkit/codec/json"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/procman/procman/dispatch"
	"github.com/procman/procman/instance"
	"github.com/procman/procman/model"
	"github.com/procman/procman/payload"
	"github.com/procman/procman/persistence"
	"github.com/procman/procman/persistence/memorypersistence"
)

// flakyTx is a transaction that can be told to fail one of its upcoming
// commits.
type flakyTx struct {
	persistence.Transaction
	failAfter int
}

// failNthCommit causes the nth commit from now to fail.
func (tx *flakyTx) failNthCommit(n int) {
	tx.failAfter = n
}

func (tx *flakyTx) Commit(ctx context.Context) error {
	if tx.failAfter > 0 {
		tx.failAfter--

		if tx.failAfter == 0 {
			tx.Transaction.Rollback()
			return errors.New("<commit failed>")
		}
	}

	return tx.Transaction.Commit(ctx)
}

func linear() model.Definition {
	return model.Definition{
		Name: "<linear>",
		Nodes: []model.NodeDefinition{
			{ID: "start", Kind: model.StartKind, Successors: []string{"act"}},
			{ID: "act", Kind: model.ActivityKind, Successors: []string{"end"}, Endpoint: "<endpoint>", Operation: "<op>"},
			{ID: "end", Kind: model.EndKind},
		},
	}
}

func andJoin() model.Definition {
	return model.Definition{
		Name: "<and-join>",
		Nodes: []model.NodeDefinition{
			{ID: "start", Kind: model.StartKind, Successors: []string{"split"}},
			{ID: "split", Kind: model.SplitKind, Successors: []string{"a", "b"}},
			{ID: "a", Kind: model.ActivityKind, Successors: []string{"join"}, Endpoint: "<endpoint>"},
			{ID: "b", Kind: model.ActivityKind, Successors: []string{"join"}, Endpoint: "<endpoint>", AutoStart: true},
			{ID: "join", Kind: model.JoinKind, Successors: []string{"end"}},
			{ID: "end", Kind: model.EndKind},
		},
	}
}

func partialJoin() model.Definition {
	return model.Definition{
		Name: "<partial-join>",
		Nodes: []model.NodeDefinition{
			{ID: "start", Kind: model.StartKind, Successors: []string{"split"}},
			{ID: "split", Kind: model.SplitKind, Successors: []string{"a", "b", "c"}},
			{ID: "a", Kind: model.ActivityKind, Successors: []string{"join"}, Endpoint: "<endpoint>"},
			{ID: "b", Kind: model.ActivityKind, Successors: []string{"join"}, Endpoint: "<endpoint>"},
			{ID: "c", Kind: model.ActivityKind, Successors: []string{"join"}, Endpoint: "<endpoint>"},
			{ID: "join", Kind: model.JoinKind, Successors: []string{"end"}, Min: 2, Max: 3},
			{ID: "end", Kind: model.EndKind},
		},
	}
}

var _ = Describe("type Scope", func() {
	var (
		ctx    context.Context
		tx     *flakyTx
		store  instance.Store
		logger *logging.BufferedLogger
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger = &logging.BufferedLogger{CaptureDebug: true}

		m, err := codec.NewMarshaler(
			[]reflect.Type{
				reflect.TypeOf(&instance.ProcessInstance{}),
				reflect.TypeOf(&instance.NodeInstance{}),
			},
			[]codec.Codec{
				&json.Codec{},
			},
		)
		Expect(err).ShouldNot(HaveOccurred())

		store = instance.Store{
			Instances: &persistence.Map[*instance.ProcessInstance]{Table: "instance", Marshaler: m},
			Nodes:     &persistence.Map[*instance.NodeInstance]{Table: "node", Marshaler: m},
		}

		provider := &memorypersistence.Provider{}
		ds, err := provider.Open(ctx, "<store>")
		Expect(err).ShouldNot(HaveOccurred())
		DeferCleanup(func() { ds.Close() })

		t, err := ds.Begin(ctx)
		Expect(err).ShouldNot(HaveOccurred())
		DeferCleanup(func() { t.Close() })

		tx = &flakyTx{Transaction: t}
	})

	// newScope returns a scope for a new, initialized instance of the model
	// described by d.
	newScope := func(d model.Definition) *instance.Scope {
		inst := &instance.ProcessInstance{
			UUID: uuid.New(),
			Name: "<instance>",
		}

		_, err := store.Instances.Put(ctx, tx, inst)
		Expect(err).ShouldNot(HaveOccurred())

		s := instance.NewScope(tx, store, model.MustNew(d), inst, payload.YAMLCodec{}, logger, nil)

		err = s.Initialize(ctx)
		Expect(err).ShouldNot(HaveOccurred())

		err = s.Commit(ctx)
		Expect(err).ShouldNot(HaveOccurred())

		return s
	}

	// nodeOf returns the most recent node instance of the node with the given
	// ID.
	nodeOf := func(s *instance.Scope, id string) *instance.NodeInstance {
		var match *instance.NodeInstance

		for _, h := range s.Instance.NodeInstances() {
			n, err := s.NodeInstance(ctx, h)
			Expect(err).ShouldNot(HaveOccurred())

			if n.Node == id {
				match = n
			}
		}

		Expect(match).NotTo(BeNil(), "no instance of node %q", id)

		return match
	}

	// complete drives the activity node with the given ID to completion.
	complete := func(s *instance.Scope, id string, results ...payload.Fragment) {
		n := nodeOf(s, id)

		if n.State < instance.NodeTaken {
			err := s.TakeTask(ctx, n)
			Expect(err).ShouldNot(HaveOccurred())
		}

		if n.State < instance.NodeStarted {
			err := s.StartTask(ctx, n)
			Expect(err).ShouldNot(HaveOccurred())
		}

		err := s.FinishTask(ctx, n, results)
		Expect(err).ShouldNot(HaveOccurred())
	}

	Describe("func Initialize()", func() {
		It("creates a pending node instance for each start node", func() {
			s := newScope(linear())

			Expect(s.Instance.State).To(Equal(instance.StateInitialized))
			Expect(s.Instance.Active.Len()).To(Equal(1))

			n := nodeOf(s, "start")
			Expect(n.State).To(Equal(instance.NodePending))
			Expect(n.Instance).To(Equal(s.Instance.Handle()))
		})

		It("returns an error if the instance is already initialized", func() {
			s := newScope(linear())

			err := s.Initialize(ctx)
			Expect(err).To(BeAssignableToTypeOf(instance.IllegalStateError{}))
		})
	})

	Describe("func Start()", func() {
		It("decodes the inputs and sends the first activity", func() {
			s := newScope(linear())

			err := s.Start(ctx, []byte("customer: alice"))
			Expect(err).ShouldNot(HaveOccurred())

			Expect(s.Instance.State).To(Equal(instance.StateStarted))
			Expect(s.Instance.Inputs).To(Equal([]payload.Fragment{
				{Name: "customer", Value: "alice"},
			}))

			Expect(nodeOf(s, "start").State).To(Equal(instance.NodeComplete))

			act := nodeOf(s, "act")
			Expect(act.State).To(Equal(instance.NodeSent))
			Expect(s.Instance.Active).To(Equal(persistence.NewHandleSet(act.Handle())))
		})

		It("queues a task for each sent activity once it is committed", func() {
			s := newScope(linear())

			err := s.Start(ctx, []byte("customer: alice"))
			Expect(err).ShouldNot(HaveOccurred())

			act := nodeOf(s, "act")
			Expect(s.Tasks()).To(Equal([]dispatch.Task{
				{
					Instance:  s.Instance.Handle(),
					Node:      act.Handle(),
					NodeID:    "act",
					Endpoint:  "<endpoint>",
					Operation: "<op>",
					Inputs: []payload.Fragment{
						{Name: "customer", Value: "alice"},
					},
				},
			}))
		})

		It("returns an error if the payload can not be decoded", func() {
			s := newScope(linear())

			err := s.Start(ctx, []byte("- <item>"))
			Expect(err).To(MatchError(ContainSubstring("unable to decode payload")))
			Expect(s.Instance.State).To(Equal(instance.StateInitialized))
		})

		It("returns an error if the instance is already started", func() {
			s := newScope(linear())

			err := s.Start(ctx, nil)
			Expect(err).ShouldNot(HaveOccurred())

			err = s.Start(ctx, nil)
			Expect(err).To(BeAssignableToTypeOf(instance.IllegalStateError{}))
		})
	})

	Describe("func TakeTask()", func() {
		It("starts the task immediately if the activity starts automatically", func() {
			s := newScope(andJoin())

			err := s.Start(ctx, nil)
			Expect(err).ShouldNot(HaveOccurred())

			a := nodeOf(s, "a")
			err = s.TakeTask(ctx, a)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(a.State).To(Equal(instance.NodeTaken))

			b := nodeOf(s, "b")
			err = s.TakeTask(ctx, b)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(b.State).To(Equal(instance.NodeStarted))
		})

		It("returns an error if the node is a routing node", func() {
			s := newScope(linear())

			err := s.Start(ctx, nil)
			Expect(err).ShouldNot(HaveOccurred())

			err = s.TakeTask(ctx, nodeOf(s, "start"))
			Expect(err).To(MatchError(ContainSubstring("start nodes are driven by the engine")))
		})

		It("returns an error if the transition goes backwards", func() {
			s := newScope(linear())

			err := s.Start(ctx, nil)
			Expect(err).ShouldNot(HaveOccurred())

			act := nodeOf(s, "act")
			err = s.StartTask(ctx, act)
			Expect(err).ShouldNot(HaveOccurred())

			err = s.TakeTask(ctx, act)
			Expect(err).To(MatchError(ContainSubstring("can not move from started to taken")))
		})
	})

	Describe("func FinishTask()", func() {
		It("finishes an instance with a single end node", func() {
			s := newScope(linear())

			err := s.Start(ctx, nil)
			Expect(err).ShouldNot(HaveOccurred())

			complete(s, "act", payload.Fragment{Name: "total", Value: "42"})

			Expect(s.Instance.State).To(Equal(instance.StateFinished))
			Expect(s.Instance.Active.Len()).To(BeZero())
			Expect(s.Instance.Results.Len()).To(Equal(1))

			end := nodeOf(s, "end")
			Expect(s.Instance.Results.Has(end.Handle())).To(BeTrue())
			Expect(end.State).To(Equal(instance.NodeComplete))
			Expect(s.Instance.Outputs).To(Equal([]payload.Fragment{
				{Name: "total", Value: "42"},
			}))
		})

		It("returns an error if the node instance is already complete", func() {
			s := newScope(linear())

			err := s.Start(ctx, nil)
			Expect(err).ShouldNot(HaveOccurred())

			complete(s, "act")
			before := s.Instance.Clone()

			err = s.FinishTask(ctx, nodeOf(s, "act"), nil)
			Expect(err).To(BeAssignableToTypeOf(instance.IllegalStateError{}))
			Expect(s.Instance.Clone()).To(Equal(before))
		})

		It("keeps the completion if creating the successors fails", func() {
			s := newScope(linear())

			err := s.Start(ctx, nil)
			Expect(err).ShouldNot(HaveOccurred())

			// The first commit records the completion, the second creates the
			// successors.
			tx.failNthCommit(2)
			complete(s, "act")

			act := nodeOf(s, "act")
			Expect(act.State).To(Equal(instance.NodeComplete))
			Expect(act.Propagated).To(BeFalse())
			Expect(s.Instance.State).To(Equal(instance.StateStarted))
			Expect(s.Instance.Finished.Has(act.Handle())).To(BeTrue())

			Expect(logger.Messages()).To(ContainElement(
				WithTransform(
					func(m logging.BufferedLogMessage) string { return m.Message },
					ContainSubstring("successor propagation rolled back"),
				),
			))

			err = s.Tickle(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(s.Instance.State).To(Equal(instance.StateFinished))
		})

		It("returns an error and restores the instance if the completion can not be committed", func() {
			s := newScope(linear())

			err := s.Start(ctx, nil)
			Expect(err).ShouldNot(HaveOccurred())

			act := nodeOf(s, "act")
			before := s.Instance.Clone()

			tx.failNthCommit(1)
			err = s.FinishTask(ctx, act, nil)
			Expect(err).To(MatchError("<commit failed>"))
			Expect(s.Instance.Clone()).To(Equal(before))
			Expect(nodeOf(s, "act").State).To(Equal(instance.NodeSent))
		})
	})

	When("the model contains an AND-join", func() {
		var s *instance.Scope

		BeforeEach(func() {
			s = newScope(andJoin())

			err := s.Start(ctx, nil)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(s.Tasks()).To(HaveLen(2))
		})

		It("does not fire the join until both branches complete", func() {
			complete(s, "a")

			join := nodeOf(s, "join")
			Expect(join.State).To(Equal(instance.NodePending))
			Expect(s.Instance.Joins).To(HaveKeyWithValue("join", join.Handle()))
			Expect(s.Instance.State).To(Equal(instance.StateStarted))

			complete(s, "b")

			join = nodeOf(s, "join")
			Expect(join.State).To(Equal(instance.NodeComplete))
			Expect(join.Predecessors).To(Equal(persistence.NewHandleSet(
				nodeOf(s, "a").Handle(),
				nodeOf(s, "b").Handle(),
			)))
			Expect(s.Instance.Joins).To(BeEmpty())
			Expect(s.Instance.FiredJoins).To(HaveKeyWithValue("join", join.Handle()))
			Expect(s.Instance.State).To(Equal(instance.StateFinished))
		})

		It("fires the join regardless of the order the branches complete", func() {
			complete(s, "b")
			Expect(nodeOf(s, "join").State).To(Equal(instance.NodePending))

			complete(s, "a")
			Expect(s.Instance.State).To(Equal(instance.StateFinished))
		})

		It("carries the results of both branches to the join's successors", func() {
			complete(s, "a", payload.Fragment{Name: "a", Value: "1"})
			complete(s, "b", payload.Fragment{Name: "b", Value: "2"})

			Expect(s.Instance.Outputs).To(ConsistOf(
				payload.Fragment{Name: "a", Value: "1"},
				payload.Fragment{Name: "b", Value: "2"},
			))
		})

		It("fails the instance if a branch fails", func() {
			complete(s, "a")

			err := s.FailTask(ctx, nodeOf(s, "b"), "<cause>")
			Expect(err).ShouldNot(HaveOccurred())

			b := nodeOf(s, "b")
			Expect(b.State).To(Equal(instance.NodeFailed))
			Expect(b.FailureCause).To(Equal("<cause>"))

			Expect(s.Instance.State).To(Equal(instance.StateFailed))
			Expect(nodeOf(s, "join").State).To(Equal(instance.NodeCancelled))
			Expect(s.Instance.Active.Len()).To(BeZero())
			Expect(s.Instance.Joins).To(BeEmpty())
		})

		It("does not terminate the instance while another branch can progress", func() {
			err := s.CancelTask(ctx, nodeOf(s, "a"))
			Expect(err).ShouldNot(HaveOccurred())

			Expect(s.Instance.State).To(Equal(instance.StateStarted))

			complete(s, "b")
			Expect(s.Instance.State).To(Equal(instance.StateCancelled))
		})
	})

	When("the model contains a join with a maximum above its minimum", func() {
		var s *instance.Scope

		BeforeEach(func() {
			s = newScope(partialJoin())

			err := s.Start(ctx, nil)
			Expect(err).ShouldNot(HaveOccurred())
		})

		It("fires exactly once, on the second arrival", func() {
			complete(s, "c")
			Expect(nodeOf(s, "join").State).To(Equal(instance.NodePending))

			complete(s, "a")
			join := nodeOf(s, "join")
			Expect(join.State).To(Equal(instance.NodeComplete))
			Expect(s.Instance.State).To(Equal(instance.StateFinished))

			complete(s, "b")
			Expect(nodeOf(s, "join").Handle()).To(Equal(join.Handle()))
			Expect(nodeOf(s, "join").Predecessors.Len()).To(Equal(3))
			Expect(s.Instance.NodeInstances().Len()).To(Equal(7))
			Expect(s.Instance.State).To(Equal(instance.StateFinished))
		})
	})

	Describe("func UpdateTaskState()", func() {
		It("moves the node instance to the given state", func() {
			s := newScope(linear())

			err := s.Start(ctx, nil)
			Expect(err).ShouldNot(HaveOccurred())

			act := nodeOf(s, "act")
			err = s.UpdateTaskState(ctx, act, instance.NodeAcknowledged)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(act.State).To(Equal(instance.NodeAcknowledged))

			err = s.UpdateTaskState(ctx, act, instance.NodeComplete)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(s.Instance.State).To(Equal(instance.StateFinished))
		})

		It("returns an error if the state can not be set directly", func() {
			s := newScope(linear())

			err := s.Start(ctx, nil)
			Expect(err).ShouldNot(HaveOccurred())

			err = s.UpdateTaskState(ctx, nodeOf(s, "act"), instance.NodeSent)
			Expect(err).To(MatchError(ContainSubstring("the sent state can not be set directly")))
		})
	})

	Describe("func Tickle()", func() {
		It("sends tasks that were not taken again", func() {
			s := newScope(linear())

			err := s.Start(ctx, nil)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(s.Tasks()).To(HaveLen(1))

			err = s.Tickle(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(s.Tasks()).To(HaveLen(2))
			Expect(s.Tasks()[1]).To(Equal(s.Tasks()[0]))
		})

		It("provides node instances that could not be provided", func() {
			s := newScope(linear())

			// The first commit starts the instance, the second completes the
			// start node, the third creates its successors.
			tx.failNthCommit(3)

			err := s.Start(ctx, nil)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(s.Tasks()).To(BeEmpty())
			Expect(nodeOf(s, "start").Propagated).To(BeFalse())

			err = s.Tickle(ctx)
			Expect(err).ShouldNot(HaveOccurred())
			Expect(nodeOf(s, "act").State).To(Equal(instance.NodeSent))
			Expect(s.Tasks()).To(HaveLen(1))
		})

		It("returns an error if the instance is not started", func() {
			s := newScope(linear())

			err := s.Tickle(ctx)
			Expect(err).To(BeAssignableToTypeOf(instance.IllegalStateError{}))
		})
	})

	Describe("func NodeInstance()", func() {
		It("returns an error if the node instance belongs to another instance", func() {
			s1 := newScope(linear())
			s2 := newScope(linear())

			_, err := s2.NodeInstance(ctx, s1.Instance.Active[0])
			Expect(err).To(Equal(instance.NotFoundError{Kind: "node instance", Handle: s1.Instance.Active[0]}))
		})
	})
})
