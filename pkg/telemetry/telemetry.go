// Package telemetry registers prometheus collectors for the
// synchronization layer. All recording helpers are nil-receiver safe so
// components can run without telemetry wired.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for one synchronization session family.
type Metrics struct {
	UpdatesApplied      prometheus.Counter
	SnapshotNoops       prometheus.Counter
	StaleIgnored        prometheus.Counter
	MalformedDropped    prometheus.Counter
	ReconnectAttempts   prometheus.Counter
	FallbackTransitions prometheus.Counter
	PublishRejections   prometheus.Counter
	Connected           prometheus.Gauge
}

// New registers all collectors with reg and returns the recording handle.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		UpdatesApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "analytics_updates_applied_total",
			Help: "Total metric updates accepted into the store",
		}),
		SnapshotNoops: factory.NewCounter(prometheus.CounterOpts{
			Name: "analytics_snapshot_noops_total",
			Help: "Updates accepted into the logs without mutating any snapshot field",
		}),
		StaleIgnored: factory.NewCounter(prometheus.CounterOpts{
			Name: "analytics_stale_updates_total",
			Help: "Updates skipped by the reducer because a newer commit sequence was already applied",
		}),
		MalformedDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "analytics_malformed_records_total",
			Help: "Raw feed records dropped at the normalization boundary",
		}),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "analytics_reconnect_attempts_total",
			Help: "Connection attempts made after the push channel dropped or failed to establish",
		}),
		FallbackTransitions: factory.NewCounter(prometheus.CounterOpts{
			Name: "analytics_fallback_transitions_total",
			Help: "Times the connector entered fallback polling mode",
		}),
		PublishRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "analytics_publish_rejections_total",
			Help: "Outbound updates rejected by the backing store",
		}),
		Connected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "analytics_connected",
			Help: "1 while the push channel is established, 0 otherwise",
		}),
	}
}

func (m *Metrics) IncUpdatesApplied() {
	if m != nil {
		m.UpdatesApplied.Inc()
	}
}

func (m *Metrics) IncSnapshotNoops() {
	if m != nil {
		m.SnapshotNoops.Inc()
	}
}

func (m *Metrics) IncStaleIgnored() {
	if m != nil {
		m.StaleIgnored.Inc()
	}
}

func (m *Metrics) IncMalformedDropped() {
	if m != nil {
		m.MalformedDropped.Inc()
	}
}

func (m *Metrics) IncReconnectAttempts() {
	if m != nil {
		m.ReconnectAttempts.Inc()
	}
}

func (m *Metrics) IncFallbackTransitions() {
	if m != nil {
		m.FallbackTransitions.Inc()
	}
}

func (m *Metrics) IncPublishRejections() {
	if m != nil {
		m.PublishRejections.Inc()
	}
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}
