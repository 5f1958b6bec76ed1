// Package metrics holds the Prometheus instruments of the memory subsystem.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mnemo"

// Metrics is a set of instruments registered on one registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	MessagesAppended *prometheus.CounterVec
	ContextLoads     prometheus.Counter
	ContextMessages  prometheus.Histogram
	ContextTokens    prometheus.Histogram
	ContextTruncated prometheus.Counter
	Mutations        *prometheus.CounterVec
	MutationLatency  prometheus.Histogram
	LockAttempts     prometheus.Histogram
	FactTokens       *prometheus.GaugeVec
	EventFailures    prometheus.Counter
	MalformedRecords prometheus.Counter
}

// New creates the instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		MessagesAppended: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Messages appended to the period log, by role",
		}, []string{"role"}),

		ContextLoads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_loads_total",
			Help:      "Context windows assembled",
		}),

		ContextMessages: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_messages",
			Help:      "Messages per assembled context window",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),

		ContextTokens: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_tokens",
			Help:      "Estimated tokens per assembled context window",
			Buckets:   prometheus.ExponentialBuckets(256, 2, 12),
		}),

		ContextTruncated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_truncated_total",
			Help:      "Context windows that stopped before the start of history",
		}),

		Mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fact_mutations_total",
			Help:      "Fact mutations by action and outcome kind",
		}, []string{"action", "outcome"}),

		MutationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fact_mutation_duration_seconds",
			Help:      "Fact mutation latency including lock wait",
			Buckets:   prometheus.DefBuckets,
		}),

		LockAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_attempts",
			Help:      "Lock attempts needed per committed mutation",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		}),

		FactTokens: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fact_tokens",
			Help:      "Estimated tokens in the fact document by section",
		}, []string{"section"}),

		EventFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Events that could not be published",
		}),

		MalformedRecords: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_records_total",
			Help:      "Period log lines skipped because they did not decode",
		}),
	}
}

// Registry returns the registry the instruments live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveAppend records one appended message.
func (m *Metrics) ObserveAppend(role string) {
	if m == nil {
		return
	}
	m.MessagesAppended.WithLabelValues(role).Inc()
}

// ObserveContext records one assembled window.
func (m *Metrics) ObserveContext(messages, tokens int, truncated bool) {
	if m == nil {
		return
	}
	m.ContextLoads.Inc()
	m.ContextMessages.Observe(float64(messages))
	m.ContextTokens.Observe(float64(tokens))
	if truncated {
		m.ContextTruncated.Inc()
	}
}

// ObserveMutation records the outcome of one fact mutation. outcome is "ok"
// or an error kind.
func (m *Metrics) ObserveMutation(action, outcome string, took time.Duration, lockAttempts int) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(action, outcome).Inc()
	m.MutationLatency.Observe(took.Seconds())
	if lockAttempts > 0 {
		m.LockAttempts.Observe(float64(lockAttempts))
	}
}

// SetFactTokens records the current document size.
func (m *Metrics) SetFactTokens(core, diff int) {
	if m == nil {
		return
	}
	m.FactTokens.WithLabelValues("core").Set(float64(core))
	m.FactTokens.WithLabelValues("diff").Set(float64(diff))
	m.FactTokens.WithLabelValues("total").Set(float64(core + diff))
}

// ObserveEventFailure records an event that was dropped.
func (m *Metrics) ObserveEventFailure() {
	if m == nil {
		return
	}
	m.EventFailures.Inc()
}

// ObserveMalformed records a skipped period log line.
func (m *Metrics) ObserveMalformed() {
	if m == nil {
		return
	}
	m.MalformedRecords.Inc()
}
