// Package metrics exports PlanPipe's Prometheus collectors.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "planpipe"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	inbound         *prometheus.CounterVec
	intents         *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	committedSteps  *prometheus.CounterVec
	backgroundTasks *prometheus.CounterVec
	oracleLatency   *prometheus.HistogramVec
}

// New registers the collectors on reg (the default registerer when nil).
// Collectors already registered by an earlier call are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound chat messages by kind.",
		}, []string{"kind"}),
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_total",
			Help:      "Classified intents by action.",
		}, []string{"action"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Conversation state transitions.",
		}, []string{"from", "to"}),
		committedSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_steps_committed_total",
			Help:      "Plan steps committed to the calendar by outcome.",
		}, []string{"outcome"}),
		backgroundTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_tasks_total",
			Help:      "Detached image tasks by outcome.",
		}, []string{"outcome"}),
		oracleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_duration_seconds",
			Help:      "Latency of language-model calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"operation"}),
	}

	for _, c := range []**prometheus.CounterVec{&m.inbound, &m.intents, &m.transitions, &m.committedSteps, &m.backgroundTasks} {
		existing, err := register(reg, *c)
		if err != nil {
			return nil, err
		}
		*c = existing.(*prometheus.CounterVec)
	}
	existing, err := register(reg, m.oracleLatency)
	if err != nil {
		return nil, err
	}
	m.oracleLatency = existing.(*prometheus.HistogramVec)
	return m, nil
}

// MustNew is like New but panics on registration errors.
func MustNew(reg prometheus.Registerer) *Metrics {
	m, err := New(reg)
	if err != nil {
		panic(err)
	}
	return m
}

func register(reg prometheus.Registerer, c prometheus.Collector) (prometheus.Collector, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector, nil
		}
		return nil, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

// Inbound counts an inbound message of kind.
func (m *Metrics) Inbound(kind string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(kind).Inc()
}

// Intent counts a classified action.
func (m *Metrics) Intent(action string) {
	if m == nil {
		return
	}
	m.intents.WithLabelValues(action).Inc()
}

// Transition counts a state change. Unchanged states are not recorded.
func (m *Metrics) Transition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// CommittedSteps records the outcome of a plan commit.
func (m *Metrics) CommittedSteps(created, failed int) {
	if m == nil {
		return
	}
	m.committedSteps.WithLabelValues("created").Add(float64(created))
	m.committedSteps.WithLabelValues("failed").Add(float64(failed))
}

// BackgroundTask counts a finished detached task.
func (m *Metrics) BackgroundTask(outcome string) {
	if m == nil {
		return
	}
	m.backgroundTasks.WithLabelValues(outcome).Inc()
}

// ObserveOracle records the latency of one language-model call.
func (m *Metrics) ObserveOracle(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.oracleLatency.WithLabelValues(operation).Observe(d.Seconds())
}
