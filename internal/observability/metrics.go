package observability

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flowstatus"

// Metrics counts pass events on a private registry. It implements
// pass.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	runsSeen      *prometheus.CounterVec
	runsSkipped   *prometheus.CounterVec
	leaves        *prometheus.CounterVec
	notifications *prometheus.CounterVec
	ambiguous     prometheus.Counter
	passes        *prometheus.CounterVec
	passDuration  prometheus.Gauge
	lastSuccess   prometheus.Gauge
}

// NewMetrics registers the pass collectors on a new registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runsSeen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_seen_total",
			Help:      "Run directories considered by passes.",
		}, []string{"brand"}),
		runsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_skipped_total",
			Help:      "Run directories skipped by passes, by reason.",
		}, []string{"brand", "reason"}),
		leaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leaves_total",
			Help:      "Sample-run leaves reconciled, by action.",
		}, []string{"action"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Operator alerts raised, by flag and outcome.",
		}, []string{"flag", "outcome"}),
		ambiguous: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flowcells_ambiguous_total",
			Help:      "Flowcells found mixing failed and non-failed samples.",
		}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Completed passes, by final state.",
		}, []string{"state"}),
		passDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of the last pass.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pass_last_success_timestamp_seconds",
			Help:      "Unix time the last successful pass ended.",
		}),
	}
	m.registry.MustRegister(
		m.runsSeen, m.runsSkipped, m.leaves, m.notifications,
		m.ambiguous, m.passes, m.passDuration, m.lastSuccess,
	)
	return m
}

func (m *Metrics) RunSeen(brand string) {
	m.runsSeen.WithLabelValues(brand).Inc()
}

func (m *Metrics) RunSkipped(brand, reason string) {
	m.runsSkipped.WithLabelValues(brand, reason).Inc()
}

func (m *Metrics) Leaf(action string) {
	m.leaves.WithLabelValues(action).Inc()
}

func (m *Metrics) Notification(flag string, sent bool) {
	outcome := "suppressed"
	if sent {
		outcome = "sent"
	}
	m.notifications.WithLabelValues(flag, outcome).Inc()
}

func (m *Metrics) FlowcellAmbiguous() {
	m.ambiguous.Inc()
}

// ObservePass records the end of a pass.
func (m *Metrics) ObservePass(state string, d time.Duration, ended time.Time) {
	m.passes.WithLabelValues(state).Inc()
	m.passDuration.Set(d.Seconds())
	if state == "success" {
		m.lastSuccess.Set(float64(ended.Unix()))
	}
}

// Gatherer exposes the registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry for the node exporter textfile
// collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
