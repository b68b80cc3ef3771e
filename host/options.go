package host

import (
	"github.com/getyourguide/extproc-remap/remap"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/trace"
)

type Option func(*Remapper)

// WithLogger configures the logger used for operational messages.
func WithLogger(log logr.Logger) Option {
	return func(r *Remapper) {
		r.log = log
	}
}

// WithTracer configures the tracer starting one span per plugin call.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Remapper) {
		r.tracer = tracer
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Remapper) {
		r.metrics = m
	}
}

// WithPlugin makes name resolve to factory instead of the registered plugin.
func WithPlugin(name string, factory remap.Factory) Option {
	return func(r *Remapper) {
		r.factories[name] = factory
	}
}
