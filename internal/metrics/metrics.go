package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the prefix used for all metric names.
const Namespace = "procman"

// Metrics is a collection of Prometheus metrics describing engine activity.
//
// All methods are safe to call on a nil *Metrics, in which case they do
// nothing.
type Metrics struct {
	instancesStarted  prometheus.Counter
	instancesEnded    *prometheus.CounterVec
	nodeTransitions   *prometheus.CounterVec
	joinsFired        prometheus.Counter
	propagationErrors prometheus.Counter
	dispatchLatency   *prometheus.HistogramVec
	instancesLocked   prometheus.Gauge
}

// New returns a new set of metrics registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		instancesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "instances_started_total",
			Help:      "Total number of process instances started.",
		}),
		instancesEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "instances_ended_total",
			Help:      "Total number of process instances that reached a terminal state.",
		}, []string{"state"}),
		nodeTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "node_transitions_total",
			Help:      "Total number of node instance state transitions.",
		}, []string{"state"}),
		joinsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "joins_fired_total",
			Help:      "Total number of joins that reached their minimum predecessor count.",
		}),
		propagationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "propagation_errors_total",
			Help:      "Total number of state machine steps that were rolled back.",
		}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "dispatch_latency_seconds",
			Help:      "Time taken by the dispatcher to respond to a task.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		instancesLocked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "instances_locked",
			Help:      "Number of process instances currently held by a state machine step.",
		}),
	}

	reg.MustRegister(
		m.instancesStarted,
		m.instancesEnded,
		m.nodeTransitions,
		m.joinsFired,
		m.propagationErrors,
		m.dispatchLatency,
		m.instancesLocked,
	)

	return m
}

// InstanceStarted records that a process instance was started.
func (m *Metrics) InstanceStarted() {
	if m != nil {
		m.instancesStarted.Inc()
	}
}

// InstanceEnded records that a process instance reached a terminal state.
func (m *Metrics) InstanceEnded(state string) {
	if m != nil {
		m.instancesEnded.WithLabelValues(state).Inc()
	}
}

// NodeTransition records that a node instance entered a new state.
func (m *Metrics) NodeTransition(state string) {
	if m != nil {
		m.nodeTransitions.WithLabelValues(state).Inc()
	}
}

// JoinFired records that a join fired.
func (m *Metrics) JoinFired() {
	if m != nil {
		m.joinsFired.Inc()
	}
}

// PropagationFailed records that a state machine step was rolled back.
func (m *Metrics) PropagationFailed() {
	if m != nil {
		m.propagationErrors.Inc()
	}
}

// Dispatched records the time taken to dispatch a task.
func (m *Metrics) Dispatched(outcome string, d time.Duration) {
	if m != nil {
		m.dispatchLatency.WithLabelValues(outcome).Observe(d.Seconds())
	}
}

// Locked records that a process instance has been locked (delta = 1) or
// unlocked (delta = -1).
func (m *Metrics) Locked(delta float64) {
	if m != nil {
		m.instancesLocked.Add(delta)
	}
}
