package dcc

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metricsCollector is a prometheus.Collector exposing transfer counts,
// bytes transferred, the active gauge, and timeout/failure counters
// (SPEC_FULL §2's domain-stack addition). Registered on the same mux as
// internal/statusapi.
//
// Grounded on runZeroInc-conniver/pkg/exporter/exporter.go's
// TCPInfoCollector (Describe/Collect shape, sync.Mutex-guarded map) and
// m-lab-tcp-info's long-running use of prometheus/client_golang for
// measurement counters — both pull the dependency in for exactly this
// "accumulate per-connection counters, expose as a Collector" pattern.
type metricsCollector struct {
	started   prometheus.Counter
	completed *prometheus.CounterVec // label: status (done|failed|aborted)
	active    prometheus.Gauge
	bytes     prometheus.Counter
	timeouts  prometheus.Counter
}

// NewMetrics constructs the collector and wires it into e, so every
// subsequent state transition feeds it. It is safe to register the
// returned value with a prometheus.Registerer.
func (e *Engine) NewMetrics() prometheus.Collector {
	m := &metricsCollector{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dcc_transfers_started_total",
			Help: "Number of DCC transfers (file or chat) that entered Active state.",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dcc_transfers_completed_total",
			Help: "Number of DCC transfers that reached a terminal state, by status.",
		}, []string{"status"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dcc_transfers_active",
			Help: "Number of DCC transfers currently in Active state.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dcc_bytes_transferred_total",
			Help: "Cumulative bytes moved across all file transfers.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dcc_transfer_timeouts_total",
			Help: "Number of file transfers that failed due to inactivity timeout.",
		}),
	}
	e.metrics = m
	return m
}

func (m *metricsCollector) Describe(descs chan<- *prometheus.Desc) {
	m.started.Describe(descs)
	m.completed.Describe(descs)
	m.active.Describe(descs)
	m.bytes.Describe(descs)
	m.timeouts.Describe(descs)
}

func (m *metricsCollector) Collect(metrics chan<- prometheus.Metric) {
	m.started.Collect(metrics)
	m.completed.Collect(metrics)
	m.active.Collect(metrics)
	m.bytes.Collect(metrics)
	m.timeouts.Collect(metrics)
}

func (m *metricsCollector) onActive(t *Transfer) {
	m.started.Inc()
	m.active.Inc()
}

func (m *metricsCollector) onEnded(t *Transfer) {
	// Only decrement if onActive actually ran for this Transfer (via
	// noteActive): a Transfer that failed before reaching Active (e.g. a
	// send that never bound a port) never incremented the gauge, and
	// decrementing unconditionally would drive it negative.
	if t.activeCountedInMetrics {
		m.active.Dec()
		t.activeCountedInMetrics = false
	}
	m.completed.WithLabelValues(t.Status.String()).Inc()
	if t.Pos > t.StartResume {
		m.bytes.Add(float64(t.Pos - t.StartResume))
	}
}

func (m *metricsCollector) onTimeout() {
	m.timeouts.Inc()
}
