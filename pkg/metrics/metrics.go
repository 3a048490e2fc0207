// Copyright © 2018 One Concern

// Package metrics exposes prometheus collectors for the update engine.
//
// All methods are safe on a nil *Metrics, so components may run without instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultNamespace = "refdb"

	// Attempt results
	ResultSuccess   = "success"
	ResultConflict  = "conflict"
	ResultFatal     = "fatal"
	ResultExhausted = "exhausted"

	// Batch outcomes
	OutcomeCommitted = "committed"
	OutcomeUnchanged = "unchanged"
)

// Metrics of the update engine
type Metrics struct {
	batches          *prometheus.CounterVec
	batchCommands    prometheus.Histogram
	batchDuration    prometheus.Histogram
	attempts         *prometheus.CounterVec
	uniqueness       *prometheus.CounterVec
	notifications    prometheus.Counter
	listenerFailures *prometheus.CounterVec
}

// New builds and registers the collectors
func New(opts ...Option) (*Metrics, error) {
	s := defaultSettings()
	for _, apply := range opts {
		apply(s)
	}

	m := &Metrics{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: s.namespace,
			Subsystem: "txn",
			Name:      "batches_total",
			Help:      "Logical updates, by outcome.",
		}, []string{"outcome"}),
		batchCommands: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: s.namespace,
			Subsystem: "txn",
			Name:      "batch_commands",
			Help:      "Refs moved by a committed batch.",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50, 100},
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: s.namespace,
			Subsystem: "txn",
			Name:      "duration_seconds",
			Help:      "Duration of logical updates, retries included.",
			Buckets:   prometheus.DefBuckets,
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: s.namespace,
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Transaction attempts, by result.",
		}, []string{"result"}),
		uniqueness: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: s.namespace,
			Subsystem: "index",
			Name:      "conflicts_total",
			Help:      "Updates rejected by a secondary index uniqueness constraint.",
		}, []string{"index"}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: s.namespace,
			Subsystem: "notify",
			Name:      "events_total",
			Help:      "Change events dispatched.",
		}),
		listenerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: s.namespace,
			Subsystem: "notify",
			Name:      "listener_failures_total",
			Help:      "Change listeners which failed, by listener.",
		}, []string{"listener"}),
	}

	if s.registerer != nil {
		for _, c := range m.collectors() {
			if err := s.registerer.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// MustNew builds and registers the collectors, and panics on registration failure
func MustNew(opts ...Option) *Metrics {
	m, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.batches,
		m.batchCommands,
		m.batchDuration,
		m.attempts,
		m.uniqueness,
		m.notifications,
		m.listenerFailures,
	}
}

// Committed records a batch which moved some refs
func (m *Metrics) Committed(commands int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(OutcomeCommitted).Inc()
	m.batchCommands.Observe(float64(commands))
	m.batchDuration.Observe(elapsed.Seconds())
}

// Unchanged records a batch which moved no ref
func (m *Metrics) Unchanged(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(OutcomeUnchanged).Inc()
	m.batchDuration.Observe(elapsed.Seconds())
}

// Attempt records the result of a transaction attempt
func (m *Metrics) Attempt(result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
}

// UniquenessConflict records an update rejected by an index
func (m *Metrics) UniquenessConflict(index string) {
	if m == nil {
		return
	}
	m.uniqueness.WithLabelValues(index).Inc()
}

// Notified records a dispatched change event
func (m *Metrics) Notified() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}

// ListenerFailed records a failed change listener
func (m *Metrics) ListenerFailed(listener string) {
	if m == nil {
		return
	}
	m.listenerFailures.WithLabelValues(listener).Inc()
}
