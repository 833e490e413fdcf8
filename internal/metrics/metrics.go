// Package metrics exposes Prometheus collectors for orchestration activity.
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "relay"

// Metrics holds relay's collectors.
type Metrics struct {
	tasksCreated    *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	spawns          *prometheus.CounterVec
	timeouts        *prometheus.CounterVec
	cleanupItems    *prometheus.CounterVec
	cleanupDuration *prometheus.HistogramVec
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the instance registered with the global Prometheus
// registry. It is created once, so repeated service construction in one
// process never double-registers.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew constructs Metrics registered with reg. Collectors that are
// already registered are reused; any other registration error panics.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		tasksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_created_total",
			Help:      "Main tasks created, by priority.",
		}, []string{"priority"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subtask_transitions_total",
			Help:      "Sub-task status transitions, by new status and what caused them.",
		}, []string{"status", "source"}),
		spawns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spawns_total",
			Help:      "Spawn outcomes: spawned, failed, or manual when the capability is unavailable.",
		}, []string{"result"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timeouts",
			Name:      "subtasks_total",
			Help:      "Timed-out sub-tasks, by outcome: detected, aborted, abort_failed, settled.",
		}, []string{"outcome"}),
		cleanupItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleanup",
			Name:      "items_total",
			Help:      "Items handled by real cleanup runs, by kind.",
		}, []string{"kind"}),
		cleanupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cleanup",
			Name:      "run_duration_seconds",
			Help:      "Duration of cleanup runs, by trigger.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"trigger"}),
	}

	m.tasksCreated = register(reg, m.tasksCreated)
	m.transitions = register(reg, m.transitions)
	m.spawns = register(reg, m.spawns)
	m.timeouts = register(reg, m.timeouts)
	m.cleanupItems = register(reg, m.cleanupItems)
	m.cleanupDuration = register(reg, m.cleanupDuration)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// TaskCreated counts a new main task.
func (m *Metrics) TaskCreated(priority string) {
	if m == nil {
		return
	}
	m.tasksCreated.WithLabelValues(priority).Inc()
}

// Transition counts a sub-task status change.
func (m *Metrics) Transition(status, source string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status, source).Inc()
}

// Spawn counts a spawn outcome.
func (m *Metrics) Spawn(result string) {
	if m == nil {
		return
	}
	m.spawns.WithLabelValues(result).Inc()
}

// Timeout counts a timed-out sub-task outcome.
func (m *Metrics) Timeout(outcome string) {
	if m == nil {
		return
	}
	m.timeouts.WithLabelValues(outcome).Inc()
}

// CleanupItems adds n items of kind handled by a cleanup run.
func (m *Metrics) CleanupItems(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cleanupItems.WithLabelValues(kind).Add(float64(n))
}

// ObserveCleanup records how long a cleanup run took.
func (m *Metrics) ObserveCleanup(trigger string, d time.Duration) {
	if m == nil {
		return
	}
	m.cleanupDuration.WithLabelValues(trigger).Observe(d.Seconds())
}
