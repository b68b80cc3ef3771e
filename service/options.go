package service

import (
	"github.com/getyourguide/extproc-remap/filter"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/trace"
)

type Option interface {
	apply(c *ExtProcessor)
}

type optionFunc func(*ExtProcessor)

func (o optionFunc) apply(f *ExtProcessor) {
	o(f)
}

// WithLogger configures the service with a logger. Filters get it from the context with logr.FromContext.
func WithLogger(log logr.Logger) Option {
	return optionFunc(func(svc *ExtProcessor) {
		svc.log = log
	})
}

// WithFilters appends filters. Filters implementing filter.Stream are notified when a stream ends.
func WithFilters(filters ...filter.Filter) Option {
	return optionFunc(func(svc *ExtProcessor) {
		svc.filters = append(svc.filters, filters...)
	})
}

// WithOnStreamEndFn runs fn after the stream callbacks of the filters.
func WithOnStreamEndFn(fn func(req *filter.RequestContext)) Option {
	return optionFunc(func(svc *ExtProcessor) {
		svc.onStreamEndFn = fn
	})
}

func WithTracer(tracer trace.Tracer) Option {
	return optionFunc(func(svc *ExtProcessor) {
		svc.tracer = tracer
	})
}
