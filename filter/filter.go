package filter

import (
	"context"

	extproc "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
)

// Filter is run by the processing service for every header message Envoy sends.
// Request headers visit filters in registration order, response headers in reverse order.
// Returning a non-nil immediate response stops the chain and answers the client directly.
type Filter interface {
	RequestHeaders(ctx context.Context, crw *CommonResponseWriter, req *RequestContext) (*extproc.ProcessingResponse_ImmediateResponse, error)
	ResponseHeaders(ctx context.Context, crw *CommonResponseWriter, req *RequestContext) (*extproc.ProcessingResponse_ImmediateResponse, error)
}

// NoOpFilter lets every message through. Embed it to implement only one phase.
type NoOpFilter struct{}

var _ Filter = &NoOpFilter{}

func (f *NoOpFilter) RequestHeaders(ctx context.Context, crw *CommonResponseWriter, req *RequestContext) (*extproc.ProcessingResponse_ImmediateResponse, error) {
	return nil, nil
}

func (f *NoOpFilter) ResponseHeaders(ctx context.Context, crw *CommonResponseWriter, req *RequestContext) (*extproc.ProcessingResponse_ImmediateResponse, error) {
	return nil, nil
}
