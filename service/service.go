package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	extproc "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"github.com/getyourguide/extproc-remap/filter"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	grpcodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	TraceMessageOperationName = "grpc.message"
)

var (
	ProcessResourceName          = "Process"
	RequestHeadersResourceName   = "RequestHeaders"
	RequestBodyResourceName      = "RequestBody"
	RequestTrailersResourceName  = "RequestTrailers"
	ResponseHeadersResourceName  = "ResponseHeaders"
	ResponseBodyResourceName     = "ResponseBody"
	ResponseTrailersResourceName = "ResponseTrailers"
)

type ExtProcessor struct {
	filters         []filter.Filter
	reversed        []filter.Filter
	streamCallbacks []filter.Stream
	onStreamEndFn   func(req *filter.RequestContext)
	log             logr.Logger
	tracer          trace.Tracer
}

var _ extproc.ExternalProcessorServer = &ExtProcessor{}

func New(options ...Option) *ExtProcessor {
	svc := &ExtProcessor{
		log: logr.Discard(),
	}
	for _, opt := range options {
		opt.apply(svc)
	}
	if svc.tracer == nil {
		svc.tracer = noop.NewTracerProvider().Tracer(TraceMessageOperationName)
	}
	svc.reversed = slices.Clone(svc.filters)
	slices.Reverse(svc.reversed)
	for _, f := range svc.filters {
		if s, ok := f.(filter.Stream); ok {
			svc.streamCallbacks = append(svc.streamCallbacks, s)
		}
	}
	return svc
}

// Process is the main entry point for the ExternalProcessor service.
// The protocol itself is based on a bidirectional gRPC stream. Envoy will send the server ProcessingRequest messages, and the server must reply with ProcessingResponse.
// https://www.envoyproxy.io/docs/envoy/latest/api-v3/extensions/filters/http/ext_proc/v3/ext_proc.proto#envoy-v3-api-msg-extensions-filters-http-ext-proc-v3-externalfilter
func (svc *ExtProcessor) Process(procsrv extproc.ExternalProcessor_ProcessServer) error {
	req := filter.NewRequestContext()
	ctx := logr.NewContext(procsrv.Context(), svc.log)
	ctx, span := svc.tracer.Start(ctx, ProcessResourceName)
	defer span.End()
	defer svc.streamComplete(req)

	for {
		procreq, err := procsrv.Recv()
		if err != nil {
			return IgnoreCanceled(err)
		}
		req.Process(procreq.GetRequest())

		resp, err := svc.message(ctx, req, procreq)
		if err != nil {
			return IgnoreCanceled(err)
		}
		if resp == nil {
			continue
		}
		if err := procsrv.Send(resp); err != nil {
			return IgnoreCanceled(fmt.Errorf("failed sending response: %w", err))
		}
	}
}

func (svc *ExtProcessor) streamComplete(req *filter.RequestContext) {
	for _, s := range svc.streamCallbacks {
		s.OnStreamComplete(req)
	}
	if svc.onStreamEndFn != nil {
		svc.onStreamEndFn(req)
	}
}

func (svc *ExtProcessor) message(ctx context.Context, req *filter.RequestContext, procreq *extproc.ProcessingRequest) (*extproc.ProcessingResponse, error) {
	switch procreq.GetRequest().(type) {
	// Step 1. Request headers: Contains the headers from the original HTTP request.
	case *extproc.ProcessingRequest_RequestHeaders:
		ctx, span := svc.tracer.Start(ctx, RequestHeadersResourceName)
		defer span.End()
		crw := filter.NewCommonResponseWriter(req.RequestHeaders)
		ir, err := svc.runFilters(ctx, RequestHeadersResourceName, svc.filters, func(ctx context.Context, f filter.Filter) (*extproc.ProcessingResponse_ImmediateResponse, error) {
			return f.RequestHeaders(ctx, crw, req)
		}, crw)
		if err != nil || ir != nil {
			return immediate(ir), err
		}
		return validate(RequestHeadersResourceName, &extproc.ProcessingResponse{
			Response: &extproc.ProcessingResponse_RequestHeaders{
				RequestHeaders: &extproc.HeadersResponse{Response: crw.CommonResponse()},
			},
		})

	// Step 2. Request body: only answered, filters do not see bodies.
	case *extproc.ProcessingRequest_RequestBody:
		_, span := svc.tracer.Start(ctx, RequestBodyResourceName)
		defer span.End()
		return &extproc.ProcessingResponse{
			Response: &extproc.ProcessingResponse_RequestBody{RequestBody: &extproc.BodyResponse{}},
		}, nil

	// Step 3. Request trailers: delivered if the trailer mode is set to SEND.
	case *extproc.ProcessingRequest_RequestTrailers:
		_, span := svc.tracer.Start(ctx, RequestTrailersResourceName)
		defer span.End()
		return &extproc.ProcessingResponse{
			Response: &extproc.ProcessingResponse_RequestTrailers{RequestTrailers: &extproc.TrailersResponse{}},
		}, nil

	// Step 4. Response headers: filters run in reverse order.
	case *extproc.ProcessingRequest_ResponseHeaders:
		ctx, span := svc.tracer.Start(ctx, ResponseHeadersResourceName)
		defer span.End()
		crw := filter.NewCommonResponseWriter(req.ResponseHeaders)
		ir, err := svc.runFilters(ctx, ResponseHeadersResourceName, svc.reversed, func(ctx context.Context, f filter.Filter) (*extproc.ProcessingResponse_ImmediateResponse, error) {
			return f.ResponseHeaders(ctx, crw, req)
		}, crw)
		if err != nil || ir != nil {
			return immediate(ir), err
		}
		return validate(ResponseHeadersResourceName, &extproc.ProcessingResponse{
			Response: &extproc.ProcessingResponse_ResponseHeaders{
				ResponseHeaders: &extproc.HeadersResponse{Response: crw.CommonResponse()},
			},
		})

	// Step 5. Response body: sent according to the processing mode like the request body.
	case *extproc.ProcessingRequest_ResponseBody:
		_, span := svc.tracer.Start(ctx, ResponseBodyResourceName)
		defer span.End()
		return &extproc.ProcessingResponse{
			Response: &extproc.ProcessingResponse_ResponseBody{ResponseBody: &extproc.BodyResponse{}},
		}, nil

	// Step 6. Response trailers: delivered according to the processing mode like the request trailers.
	case *extproc.ProcessingRequest_ResponseTrailers:
		_, span := svc.tracer.Start(ctx, ResponseTrailersResourceName)
		defer span.End()
		return &extproc.ProcessingResponse{
			Response: &extproc.ProcessingResponse_ResponseTrailers{ResponseTrailers: &extproc.TrailersResponse{}},
		}, nil
	}
	return nil, fmt.Errorf("unknown request type: %T", procreq.GetRequest())
}

type filterFn func(ctx context.Context, f filter.Filter) (*extproc.ProcessingResponse_ImmediateResponse, error)

// runFilters calls fn for every filter until one returns an immediate response or an error.
func (svc *ExtProcessor) runFilters(ctx context.Context, phase string, filters []filter.Filter, fn filterFn, crw *filter.CommonResponseWriter) (*extproc.ProcessingResponse_ImmediateResponse, error) {
	for _, f := range filters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ctx, span := svc.tracer.Start(ctx, fmt.Sprintf("%T/%s", f, phase))
		immediateResponse, err := fn(ctx, f)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return nil, fmt.Errorf("%s: failed running filter %T: %w", phase, f, err)
		}
		if immediateResponse != nil {
			span.End()
			return immediateResponse, nil
		}
		if err := crw.CommonResponse().Validate(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return nil, fmt.Errorf("%s: failed validating response in filter %T: %w", phase, f, err)
		}
		span.End()
	}
	return nil, nil
}

func immediate(ir *extproc.ProcessingResponse_ImmediateResponse) *extproc.ProcessingResponse {
	if ir == nil {
		return nil
	}
	return &extproc.ProcessingResponse{Response: ir}
}

func validate(phase string, r *extproc.ProcessingResponse) (*extproc.ProcessingResponse, error) {
	if err := r.ValidateAll(); err != nil {
		return nil, fmt.Errorf("%s: failed validating response: %w", phase, err)
	}
	return r, nil
}

// IgnoreCanceled returns nil if the error is a context.Canceled error or an io.EOF error.
func IgnoreCanceled(err error) error {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, context.Canceled),
		errors.Is(err, status.Error(grpcodes.Canceled, context.Canceled.Error())):
		return nil
	}
	return err
}
