package host

import (
	"time"

	"github.com/getyourguide/extproc-remap/remap"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts plugin calls and their dispositions.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered, which tests use to read them directly.
func NewMetrics(reg prometheus.Registerer, log logr.Logger) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remap_plugin_calls_total",
				Help: "Number of remap plugin calls by returned status.",
			},
			[]string{"plugin", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "remap_plugin_duration_seconds",
				Help:    "Duration of remap plugin calls.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
			[]string{"plugin"},
		),
	}
	if reg == nil {
		return m
	}
	if err := reg.Register(m.calls); err != nil {
		log.Info("can't register remap_plugin_calls_total", "err", err.Error())
	}
	if err := reg.Register(m.duration); err != nil {
		log.Info("can't register remap_plugin_duration_seconds", "err", err.Error())
	}
	return m
}

func (m *Metrics) observe(plugin string, status remap.Status, elapsed time.Duration) {
	m.calls.WithLabelValues(plugin, status.String()).Inc()
	m.duration.WithLabelValues(plugin).Observe(elapsed.Seconds())
}

// Calls returns the call counter of plugin for status.
func (m *Metrics) Calls(plugin string, status remap.Status) prometheus.Counter {
	return m.calls.WithLabelValues(plugin, status.String())
}
