// Package metrics exposes Prometheus collectors for mood cycling.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the application collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	cycles    *prometheus.CounterVec
	syncs     *prometheus.CounterVec
	fallbacks prometheus.Counter
	moods     *prometheus.GaugeVec
	actions   *prometheus.CounterVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moodcycler_cycles_total",
			Help: "Mood cycle attempts by device and result.",
		}, []string{"device", "result"}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moodcycler_syncs_total",
			Help: "Mood sync attempts by device and result.",
		}, []string{"device", "result"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moodcycler_activation_fallbacks_total",
			Help: "Mood activations that fell back to the flow card action.",
		}),
		moods: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "moodcycler_moods",
			Help: "Number of moods currently synced per device.",
		}, []string{"device"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moodcycler_actions_total",
			Help: "Invoked actions by name, source and result.",
		}, []string{"action", "source", "result"}),
	}

	m.registry.MustRegister(
		m.cycles,
		m.syncs,
		m.fallbacks,
		m.moods,
		m.actions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycle records a cycle attempt
func (m *Metrics) ObserveCycle(device string, err error) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(device, result(err)).Inc()
}

// ObserveSync records a sync attempt and, on success, the resulting mood count
func (m *Metrics) ObserveSync(device string, count int, err error) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(device, result(err)).Inc()
	if err == nil {
		m.moods.WithLabelValues(device).Set(float64(count))
	}
}

// ObserveFallback records an activation that used the flow card path
func (m *Metrics) ObserveFallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

// ObserveAction records an invoked action
func (m *Metrics) ObserveAction(action, source string, err error) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(action, source, result(err)).Inc()
}

// ForgetDevice drops per-device series after a device is removed
func (m *Metrics) ForgetDevice(device string) {
	if m == nil {
		return
	}
	m.moods.DeleteLabelValues(device)
	m.cycles.DeleteLabelValues(device, ResultOK)
	m.cycles.DeleteLabelValues(device, ResultError)
	m.syncs.DeleteLabelValues(device, ResultOK)
	m.syncs.DeleteLabelValues(device, ResultError)
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
