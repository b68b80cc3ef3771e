package filter

import (
	"net/http"
	"slices"
	"strings"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	extproc "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	typev3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"github.com/golang/protobuf/ptypes/wrappers"
)

// routerHeaders are the headers Envoy computes the route from. Changing one
// of them requires the route cache to be cleared.
var routerHeaders = map[string]struct{}{
	"host":       {},
	":authority": {},
	":path":      {},
	":method":    {},
}

func isRouterHeader(key string) bool {
	_, ok := routerHeaders[strings.ToLower(key)]
	return ok
}

// headerValueOption builds the mutation sent to Envoy. Values go in raw_value,
// which Envoy reads when envoy_reloadable_features_send_header_raw_value is on.
func headerValueOption(key string, value string, appendAction corev3.HeaderValueOption_HeaderAppendAction) *corev3.HeaderValueOption {
	opt := &corev3.HeaderValueOption{
		Header: &corev3.HeaderValue{
			Key:      key,
			RawValue: []byte(value),
		},
		AppendAction: appendAction,
	}
	if appendAction == corev3.HeaderValueOption_APPEND_IF_EXISTS_OR_ADD {
		// Envoy only appends when the deprecated append flag is set as well.
		opt.Append = &wrappers.BoolValue{Value: true}
	}
	return opt
}

// CommonResponseWriter builds the extproc.CommonResponse answering a headers
// message and mirrors every mutation into the header map it was created with,
// so later filters observe earlier mutations.
type CommonResponseWriter struct {
	commonResponse *extproc.CommonResponse
	headers        http.Header
	mutations      int
}

func NewCommonResponseWriter(headers http.Header) *CommonResponseWriter {
	if headers == nil {
		headers = make(http.Header)
	}
	return &CommonResponseWriter{
		commonResponse: &extproc.CommonResponse{
			HeaderMutation: &extproc.HeaderMutation{},
		},
		headers: headers,
	}
}

func (crw *CommonResponseWriter) headerAction(key string, value string, appendAction corev3.HeaderValueOption_HeaderAppendAction) *CommonResponseWriter {
	switch appendAction {
	case corev3.HeaderValueOption_APPEND_IF_EXISTS_OR_ADD:
		crw.headers.Add(key, value)
	default:
		crw.headers.Set(key, value)
	}
	crw.commonResponse.HeaderMutation.SetHeaders = append(crw.commonResponse.HeaderMutation.SetHeaders, headerValueOption(key, value, appendAction))
	crw.mutations++
	if isRouterHeader(key) {
		crw.ClearRouteCache(true)
	}
	return crw
}

// SetHeader replaces all values of the header, adding it if missing (OVERWRITE_IF_EXISTS_OR_ADD).
func (crw *CommonResponseWriter) SetHeader(key string, value string) *CommonResponseWriter {
	return crw.headerAction(key, value, corev3.HeaderValueOption_OVERWRITE_IF_EXISTS_OR_ADD)
}

// AppendHeader adds a value to the header, creating it if missing (APPEND_IF_EXISTS_OR_ADD).
func (crw *CommonResponseWriter) AppendHeader(key string, value string) *CommonResponseWriter {
	return crw.headerAction(key, value, corev3.HeaderValueOption_APPEND_IF_EXISTS_OR_ADD)
}

// RemoveHeaders removes headers. Envoy ignores removals of pseudo headers and host.
func (crw *CommonResponseWriter) RemoveHeaders(headers ...string) *CommonResponseWriter {
	for _, h := range headers {
		if slices.Contains(crw.commonResponse.HeaderMutation.RemoveHeaders, h) {
			continue
		}
		crw.commonResponse.HeaderMutation.RemoveHeaders = append(crw.commonResponse.HeaderMutation.RemoveHeaders, h)
		crw.headers.Del(h)
		crw.mutations++
	}
	return crw
}

// SetStatus tells Envoy how to continue the filter chain.
func (crw *CommonResponseWriter) SetStatus(status extproc.CommonResponse_ResponseStatus) *CommonResponseWriter {
	crw.commonResponse.Status = status
	return crw
}

// ClearRouteCache makes Envoy recompute the route of the request. Ignored in the response direction.
func (crw *CommonResponseWriter) ClearRouteCache(clear bool) *CommonResponseWriter {
	crw.commonResponse.ClearRouteCache = clear
	return crw
}

// BodyMutation replaces the body and switches the response to CONTINUE_AND_REPLACE.
func (crw *CommonResponseWriter) BodyMutation(m *extproc.BodyMutation) *CommonResponseWriter {
	crw.commonResponse.BodyMutation = m
	crw.SetStatus(extproc.CommonResponse_CONTINUE_AND_REPLACE)
	return crw
}

// Mutated reports whether any header was set, appended or removed.
func (crw *CommonResponseWriter) Mutated() bool {
	return crw.mutations > 0
}

// CommonResponse returns the underlying extproc.CommonResponse
func (crw *CommonResponseWriter) CommonResponse() *extproc.CommonResponse {
	return crw.commonResponse
}

// ImmediateResponseWriter builds a response sent to the client in place of
// forwarding the request.
type ImmediateResponseWriter struct {
	immediateResponse *extproc.ProcessingResponse_ImmediateResponse
}

func NewImmediateResponseBuilder() *ImmediateResponseWriter {
	return &ImmediateResponseWriter{
		immediateResponse: &extproc.ProcessingResponse_ImmediateResponse{
			ImmediateResponse: &extproc.ImmediateResponse{
				Status:  &typev3.HttpStatus{Code: typev3.StatusCode_OK},
				Headers: &extproc.HeaderMutation{},
			},
		},
	}
}

func (irw *ImmediateResponseWriter) headers() *extproc.HeaderMutation {
	return irw.immediateResponse.ImmediateResponse.Headers
}

// SetHeader sets a header on the immediate response, replacing existing values.
func (irw *ImmediateResponseWriter) SetHeader(key string, value string) *ImmediateResponseWriter {
	irw.headers().SetHeaders = append(irw.headers().SetHeaders, headerValueOption(key, value, corev3.HeaderValueOption_OVERWRITE_IF_EXISTS_OR_ADD))
	return irw
}

// AppendHeader adds a header value to the immediate response.
func (irw *ImmediateResponseWriter) AppendHeader(key string, value string) *ImmediateResponseWriter {
	irw.headers().SetHeaders = append(irw.headers().SetHeaders, headerValueOption(key, value, corev3.HeaderValueOption_APPEND_IF_EXISTS_OR_ADD))
	return irw
}

// RemoveHeaders removes headers from the immediate response.
func (irw *ImmediateResponseWriter) RemoveHeaders(headers ...string) *ImmediateResponseWriter {
	for _, h := range headers {
		if slices.Contains(irw.headers().RemoveHeaders, h) {
			continue
		}
		irw.headers().RemoveHeaders = append(irw.headers().RemoveHeaders, h)
	}
	return irw
}

// HTTPStatus sets the HTTP status of the immediate response
func (irw *ImmediateResponseWriter) HTTPStatus(status int) *ImmediateResponseWriter {
	irw.immediateResponse.ImmediateResponse.Status = &typev3.HttpStatus{
		Code: typev3.StatusCode(status),
	}
	return irw
}

// Body sets the body of the immediate response
func (irw *ImmediateResponseWriter) Body(body []byte) *ImmediateResponseWriter {
	irw.immediateResponse.ImmediateResponse.Body = body
	return irw
}

// Details sets the details Envoy logs in %RESPONSE_CODE_DETAILS%.
func (irw *ImmediateResponseWriter) Details(details string) *ImmediateResponseWriter {
	irw.immediateResponse.ImmediateResponse.Details = details
	return irw
}

// ImmediateResponse returns the underlying extproc.ProcessingResponse_ImmediateResponse
func (irw *ImmediateResponseWriter) ImmediateResponse() *extproc.ProcessingResponse_ImmediateResponse {
	return irw.immediateResponse
}
