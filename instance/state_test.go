package instance_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/procman/procman/instance"
)

var _ = Describe("type State", func() {
	Describe("func IsTerminal()", func() {
		DescribeTable(
			"it reports whether the state is terminal",
			func(s instance.State, expect bool) {
				Expect(s.IsTerminal()).To(Equal(expect))
			},
			Entry("new", instance.StateNew, false),
			Entry("initialized", instance.StateInitialized, false),
			Entry("started", instance.StateStarted, false),
			Entry("finished", instance.StateFinished, true),
			Entry("failed", instance.StateFailed, true),
			Entry("cancelled", instance.StateCancelled, true),
		)
	})

	Describe("func MarshalText()", func() {
		It("returns the lower-case name of the state", func() {
			text, err := instance.StateStarted.MarshalText()
			Expect(err).ShouldNot(HaveOccurred())
			Expect(string(text)).To(Equal("started"))
		})

		It("returns an error if the state is unknown", func() {
			_, err := instance.State(100).MarshalText()
			Expect(err).To(MatchError("unknown state: 100"))
		})
	})

	Describe("func UnmarshalText()", func() {
		It("parses the state name", func() {
			var s instance.State
			err := s.UnmarshalText([]byte("cancelled"))
			Expect(err).ShouldNot(HaveOccurred())
			Expect(s).To(Equal(instance.StateCancelled))
		})

		It("returns an error if the name is unknown", func() {
			var s instance.State
			err := s.UnmarshalText([]byte("<unknown>"))
			Expect(err).To(MatchError(`unknown state: "<unknown>"`))
		})
	})

	Describe("func String()", func() {
		It("includes the numeric value of unknown states", func() {
			Expect(instance.State(100).String()).To(Equal("state(100)"))
		})
	})
})

var _ = Describe("type NodeState", func() {
	Describe("func CanTransitionTo()", func() {
		DescribeTable(
			"it enforces forward-only transitions",
			func(from, to instance.NodeState, expect bool) {
				Expect(from.CanTransitionTo(to)).To(Equal(expect))
			},
			Entry("pending to sent", instance.NodePending, instance.NodeSent, true),
			Entry("sent to taken, skipping acknowledged", instance.NodeSent, instance.NodeTaken, true),
			Entry("started to complete", instance.NodeStarted, instance.NodeComplete, true),
			Entry("taken to sent", instance.NodeTaken, instance.NodeSent, false),
			Entry("sent to sent", instance.NodeSent, instance.NodeSent, false),
			Entry("pending to failed", instance.NodePending, instance.NodeFailed, true),
			Entry("started to cancelled", instance.NodeStarted, instance.NodeCancelled, true),
			Entry("complete to complete", instance.NodeComplete, instance.NodeComplete, false),
			Entry("complete to failed", instance.NodeComplete, instance.NodeFailed, false),
			Entry("failed to cancelled", instance.NodeFailed, instance.NodeCancelled, false),
		)
	})

	Describe("func ParseNodeState()", func() {
		It("returns the state with the given name", func() {
			s, err := instance.ParseNodeState("acknowledged")
			Expect(err).ShouldNot(HaveOccurred())
			Expect(s).To(Equal(instance.NodeAcknowledged))
		})

		It("returns an error if the name is unknown", func() {
			_, err := instance.ParseNodeState("done")
			Expect(err).To(MatchError(`unknown node state: "done"`))
		})
	})
})
