// Package metrics exposes engine and sync counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/zkfold/internal/engine"
	"github.com/roach88/zkfold/internal/message"
	"github.com/roach88/zkfold/internal/pubsub"
)

const namespace = "zkfold"

// Metrics is an engine.Observer that counts outcomes, plus sync run
// counters. Each Metrics owns its registry so several can coexist.
type Metrics struct {
	registry *prometheus.Registry

	messages  *prometheus.CounterVec
	reverts   *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	syncRuns  *prometheus.CounterVec
	envelopes *prometheus.CounterVec
	lastSync  *prometheus.GaugeVec
}

var _ engine.Observer = (*Metrics)(nil)

// New returns Metrics registered with a fresh registry that also carries
// the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages handed to the engine, by outcome and type.",
		}, []string{"outcome", "type"}),
		reverts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reverts_total",
			Help:      "Messages removed by a revert, by target type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Messages dropped before storage, by reason.",
		}, []string{"reason"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "History sync runs, by result.",
		}, []string{"result"}),
		envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_envelopes_total",
			Help:      "Envelopes handled by sync runs, by disposition.",
		}, []string{"disposition"}),
		lastSync: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sync_timestamp_seconds",
			Help:      "Newest envelope timestamp synced, by topic.",
		}, []string{"topic"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messages, m.reverts, m.dropped, m.syncRuns, m.envelopes, m.lastSync,
	)
	return m
}

// Registry returns the registry the counters live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) OnInserted(msg message.Message, _ message.Proof) {
	m.messages.WithLabelValues(engine.Inserted.String(), string(msg.MessageType())).Inc()
}

func (m *Metrics) OnAlreadyExisted(msg message.Message) {
	m.messages.WithLabelValues(engine.AlreadyExisted.String(), string(msg.MessageType())).Inc()
}

func (m *Metrics) OnReverted(_ *message.Revert, target message.Message) {
	m.reverts.WithLabelValues(string(target.MessageType())).Inc()
}

func (m *Metrics) OnDropped(_ message.Message, reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

// ObserveSync records one sync run. err is the error the run returned.
func (m *Metrics) ObserveSync(res pubsub.SyncResult, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.syncRuns.WithLabelValues(result).Inc()

	for disposition, n := range map[string]int{
		"inserted":  res.Inserted,
		"existing":  res.Existing,
		"dropped":   res.Dropped,
		"rejected":  res.Rejected,
		"malformed": res.Malformed,
	} {
		if n > 0 {
			m.envelopes.WithLabelValues(disposition).Add(float64(n))
		}
	}
	if err == nil && res.Topic != "" && !res.Newest.IsZero() {
		m.lastSync.WithLabelValues(res.Topic).Set(float64(res.Newest.Unix()))
	}
}
