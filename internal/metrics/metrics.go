// Package metrics provides Prometheus metrics for zentabd.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the daemon.
type Metrics struct {
	SweepsTotal       *prometheus.CounterVec
	SweepDuration     *prometheus.HistogramVec
	TabsArchivedTotal prometheus.Counter
	RelocationsTotal  *prometheus.CounterVec
	EventsTotal       *prometheus.CounterVec
	CommandsTotal     *prometheus.CounterVec
	HostCallDuration  *prometheus.HistogramVec
	LedgerEntries     prometheus.Gauge
	HostConnected     prometheus.Gauge
	ErrorsTotal       *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		SweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zentab_archive_sweeps_total",
				Help: "Archive sweeps by trigger reason and result.",
			},
			[]string{"reason", "result"},
		),
		SweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zentab_archive_sweep_duration_seconds",
				Help:    "Archive sweep duration by trigger reason.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"reason"},
		),
		TabsArchivedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "zentab_tabs_archived_total",
				Help: "Tabs closed for being idle past the archive threshold.",
			},
		),
		RelocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zentab_relocations_total",
				Help: "Tab relocations into containers by result.",
			},
			[]string{"result"},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zentab_events_total",
				Help: "Tab lifecycle events handled by kind.",
			},
			[]string{"kind"},
		),
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zentab_commands_total",
				Help: "Command API requests by action and status.",
			},
			[]string{"action", "status"},
		),
		HostCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zentab_host_call_duration_seconds",
				Help:    "Round-trip time of calls to the browser extension.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		LedgerEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "zentab_ledger_entries",
				Help: "Tabs tracked by the access ledger.",
			},
		),
		HostConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "zentab_host_connected",
				Help: "1 while the browser extension is connected.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zentab_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.SweepsTotal)
	reg.MustRegister(m.SweepDuration)
	reg.MustRegister(m.TabsArchivedTotal)
	reg.MustRegister(m.RelocationsTotal)
	reg.MustRegister(m.EventsTotal)
	reg.MustRegister(m.CommandsTotal)
	reg.MustRegister(m.HostCallDuration)
	reg.MustRegister(m.LedgerEntries)
	reg.MustRegister(m.HostConnected)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSweep counts a sweep and the tabs it closed.
func (m *Metrics) RecordSweep(reason, result string, closed int, seconds float64) {
	if m == nil {
		return
	}
	m.SweepsTotal.WithLabelValues(reason, result).Inc()
	m.SweepDuration.WithLabelValues(reason).Observe(seconds)
	m.TabsArchivedTotal.Add(float64(closed))
}

// RecordRelocation counts a relocation attempt.
func (m *Metrics) RecordRelocation(result string) {
	if m == nil {
		return
	}
	m.RelocationsTotal.WithLabelValues(result).Inc()
}

// RecordEvent counts a lifecycle event.
func (m *Metrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(kind).Inc()
}

// RecordCommand counts a command API request.
func (m *Metrics) RecordCommand(action, status string) {
	if m == nil {
		return
	}
	m.CommandsTotal.WithLabelValues(action, status).Inc()
}

// ObserveHostCall records a host RPC round trip.
func (m *Metrics) ObserveHostCall(method string, seconds float64) {
	if m == nil {
		return
	}
	m.HostCallDuration.WithLabelValues(method).Observe(seconds)
}

// SetLedgerEntries sets the ledger size.
func (m *Metrics) SetLedgerEntries(n int) {
	if m == nil {
		return
	}
	m.LedgerEntries.Set(float64(n))
}

// SetHostConnected records whether the extension is connected.
func (m *Metrics) SetHostConnected(connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	m.HostConnected.Set(v)
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}
