package metrics_test

import (
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/procman/procman/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ = Describe("type Metrics", func() {
	var (
		reg     *prometheus.Registry
		metrics *Metrics
	)

	BeforeEach(func() {
		reg = prometheus.NewRegistry()
		metrics = New(reg)
	})

	It("counts instance lifecycle events", func() {
		metrics.InstanceStarted()
		metrics.InstanceStarted()
		metrics.InstanceEnded("finished")

		err := testutil.GatherAndCompare(
			reg,
			strings.NewReader(`
# HELP procman_instances_started_total Total number of process instances started.
# TYPE procman_instances_started_total counter
procman_instances_started_total 2
# HELP procman_instances_ended_total Total number of process instances that reached a terminal state.
# TYPE procman_instances_ended_total counter
procman_instances_ended_total{state="finished"} 1
`),
			"procman_instances_started_total",
			"procman_instances_ended_total",
		)
		Expect(err).ShouldNot(HaveOccurred())
	})

	It("counts node transitions by state", func() {
		metrics.NodeTransition("complete")
		metrics.NodeTransition("complete")
		metrics.NodeTransition("taken")

		Expect(testutil.GatherAndCount(reg, "procman_node_transitions_total")).To(Equal(2))
	})

	It("tracks the number of locked instances", func() {
		metrics.Locked(1)
		metrics.Locked(1)
		metrics.Locked(-1)

		err := testutil.GatherAndCompare(
			reg,
			strings.NewReader(`
# HELP procman_instances_locked Number of process instances currently held by a state machine step.
# TYPE procman_instances_locked gauge
procman_instances_locked 1
`),
			"procman_instances_locked",
		)
		Expect(err).ShouldNot(HaveOccurred())
	})

	It("observes dispatch latency", func() {
		metrics.Dispatched("accepted", 10*time.Millisecond)

		Expect(testutil.GatherAndCount(reg, "procman_dispatch_latency_seconds")).To(Equal(1))
	})

	It("does nothing when nil", func() {
		var m *Metrics

		Expect(func() {
			m.InstanceStarted()
			m.InstanceEnded("finished")
			m.NodeTransition("complete")
			m.JoinFired()
			m.PropagationFailed()
			m.Dispatched("accepted", time.Second)
			m.Locked(1)
		}).NotTo(Panic())
	})
})
