package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all coordination metrics.
type Metrics struct {
	// Registry metrics
	InstancesRegistered prometheus.Gauge
	ActiveInstance      prometheus.Gauge
	RegistrationsTotal  prometheus.Counter
	EvictionsTotal      prometheus.Counter
	HeartbeatsTotal     prometheus.Counter

	// Connection metrics
	ConnectionsOpen prometheus.Gauge

	// Import forwarding metrics
	ImportsForwarded prometheus.Counter
	ImportsBuffered  prometheus.Gauge
	ImportsDropped   prometheus.Counter

	// Protocol metrics
	MessagesReceived *prometheus.CounterVec
	ProtocolErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all coordination metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		InstancesRegistered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "assetportal",
				Subsystem: "registry",
				Name:      "instances",
				Help:      "Number of currently registered host instances",
			},
		),

		ActiveInstance: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "assetportal",
				Subsystem: "registry",
				Name:      "active",
				Help:      "Whether an instance currently holds active status (0 or 1)",
			},
		),

		RegistrationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "assetportal",
				Subsystem: "registry",
				Name:      "registrations_total",
				Help:      "Total number of instance registrations",
			},
		),

		EvictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "assetportal",
				Subsystem: "registry",
				Name:      "evictions_total",
				Help:      "Total number of instances evicted by the timeout sweep",
			},
		),

		HeartbeatsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "assetportal",
				Subsystem: "registry",
				Name:      "heartbeats_total",
				Help:      "Total number of heartbeats processed",
			},
		),

		ConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "assetportal",
				Subsystem: "arbiter",
				Name:      "connections_open",
				Help:      "Number of open coordination connections",
			},
		),

		ImportsForwarded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "assetportal",
				Subsystem: "imports",
				Name:      "forwarded_total",
				Help:      "Total number of import batches forwarded to the active instance",
			},
		),

		ImportsBuffered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "assetportal",
				Subsystem: "imports",
				Name:      "buffered",
				Help:      "Import batches waiting for an active instance",
			},
		),

		ImportsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "assetportal",
				Subsystem: "imports",
				Name:      "dropped_total",
				Help:      "Total number of import batches dropped on buffer overflow",
			},
		),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "assetportal",
				Subsystem: "protocol",
				Name:      "messages_received_total",
				Help:      "Total number of coordination messages received",
			},
			[]string{"kind"},
		),

		ProtocolErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "assetportal",
				Subsystem: "protocol",
				Name:      "errors_total",
				Help:      "Total number of protocol errors replied",
			},
			[]string{"reason"},
		),
	}
}

// Register registers all coordination metrics with the given registry.
func (m *Metrics) Register(reg *prometheus.Registry) {
	reg.MustRegister(
		m.InstancesRegistered,
		m.ActiveInstance,
		m.RegistrationsTotal,
		m.EvictionsTotal,
		m.HeartbeatsTotal,
		m.ConnectionsOpen,
		m.ImportsForwarded,
		m.ImportsBuffered,
		m.ImportsDropped,
		m.MessagesReceived,
		m.ProtocolErrors,
	)
}

// RecordInstanceCount updates the registered-instances gauge.
func (m *Metrics) RecordInstanceCount(count int) {
	m.InstancesRegistered.Set(float64(count))
}

// RecordActive updates the active designation gauge.
func (m *Metrics) RecordActive(held bool) {
	value := 0.0
	if held {
		value = 1.0
	}
	m.ActiveInstance.Set(value)
}

// RecordMessage increments the received counter for a message kind.
func (m *Metrics) RecordMessage(kind string) {
	m.MessagesReceived.WithLabelValues(kind).Inc()
}

// RecordProtocolError increments the error counter for a failure reason.
func (m *Metrics) RecordProtocolError(reason string) {
	m.ProtocolErrors.WithLabelValues(reason).Inc()
}
