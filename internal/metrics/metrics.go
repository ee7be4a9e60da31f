// Package metrics exposes bridge and host measurements for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smartbox/internal/action"
)

const namespace = "smartbox"

// Metrics owns its registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	outcomes      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	asyncInFlight prometheus.Gauge
	configSaves   *prometheus.CounterVec
	cleanupFiles  prometheus.Counter
	wsConnections prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "outcomes_total",
			Help:      "Envelopes handled, by canonical action, status and reason.",
		}, []string{"action", "status", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "handle_seconds",
			Help:      "Time from envelope admission to outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"action"}),
		asyncInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "async_in_flight",
			Help:      "Async handlers currently running.",
		}),
		configSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "saves_total",
			Help:      "Configuration writes by result.",
		}, []string{"result"}),
		cleanupFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "removed_files_total",
			Help:      "Captured files removed by retention cleanup.",
		}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open UI websocket connections.",
		}),
	}

	m.registry.MustRegister(
		m.outcomes,
		m.duration,
		m.asyncInFlight,
		m.configSaves,
		m.cleanupFiles,
		m.wsConnections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveOutcome implements bridge.Recorder.
func (m *Metrics) ObserveOutcome(action string, o action.Outcome, elapsed time.Duration) {
	m.outcomes.WithLabelValues(action, string(o.Status), string(o.Reason)).Inc()
	m.duration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// AsyncInFlight implements bridge.Recorder.
func (m *Metrics) AsyncInFlight(delta int) {
	m.asyncInFlight.Add(float64(delta))
}

func (m *Metrics) ConfigSaved(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.configSaves.WithLabelValues(result).Inc()
}

func (m *Metrics) FilesRemoved(n int) {
	m.cleanupFiles.Add(float64(n))
}

func (m *Metrics) ConnectionOpened() { m.wsConnections.Inc() }
func (m *Metrics) ConnectionClosed() { m.wsConnections.Dec() }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
