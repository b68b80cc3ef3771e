package filter

import (
	"cmp"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	extproc "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
)

// Envoy pseudo headers and the regular headers derived values fall back to.
const (
	headerScheme    = ":scheme"
	headerAuthority = ":authority"
	headerMethod    = ":method"
	headerPath      = ":path"
	headerStatus    = ":status"
	headerHost      = "host"
	headerRequestID = "x-request-id"

	defaultScheme = "http"
)

// RequestPhase represents the ext_proc message currently being processed.
type RequestPhase string

const (
	RequestPhaseUnknown          RequestPhase = "RequestPhaseUnknown"
	RequestPhaseRequestHeaders   RequestPhase = "RequestPhaseRequestHeaders"
	RequestPhaseRequestBody      RequestPhase = "RequestPhaseRequestBody"
	RequestPhaseRequestTrailers  RequestPhase = "RequestPhaseRequestTrailers"
	RequestPhaseResponseHeaders  RequestPhase = "RequestPhaseResponseHeaders"
	RequestPhaseResponseBody     RequestPhase = "RequestPhaseResponseBody"
	RequestPhaseResponseTrailers RequestPhase = "RequestPhaseResponseTrailers"
)

// RequestContext holds the state of one HTTP exchange across the messages of
// an ext_proc stream. Derived values (scheme, authority, URL...) are read from
// the header maps on every call so header mutations made by filters are visible
// to the filters running after them.
// A RequestContext belongs to a single stream and must not be shared between goroutines.
type RequestContext struct {
	RequestHeaders  http.Header
	ResponseHeaders http.Header

	metadata  *Metadata
	phase     RequestPhase
	startTime time.Time
}

// NewRequestContext returns an empty context for a new stream.
func NewRequestContext() *RequestContext {
	return &RequestContext{
		RequestHeaders:  make(http.Header),
		ResponseHeaders: make(http.Header),
		metadata:        &Metadata{},
		phase:           RequestPhaseUnknown,
		startTime:       time.Now(),
	}
}

// Process records a message received from Envoy. Header values are taken from
// raw_value when set and from value otherwise.
func (r *RequestContext) Process(message any) {
	if r.startTime.IsZero() {
		r.startTime = time.Now()
	}
	switch msg := message.(type) {
	case *extproc.ProcessingRequest_RequestHeaders:
		r.phase = RequestPhaseRequestHeaders
		if r.RequestHeaders == nil {
			r.RequestHeaders = make(http.Header)
		}
		addHeaders(r.RequestHeaders, msg.RequestHeaders.GetHeaders())
	case *extproc.ProcessingRequest_RequestBody:
		r.phase = RequestPhaseRequestBody
	case *extproc.ProcessingRequest_RequestTrailers:
		r.phase = RequestPhaseRequestTrailers
	case *extproc.ProcessingRequest_ResponseHeaders:
		r.phase = RequestPhaseResponseHeaders
		if r.ResponseHeaders == nil {
			r.ResponseHeaders = make(http.Header)
		}
		addHeaders(r.ResponseHeaders, msg.ResponseHeaders.GetHeaders())
	case *extproc.ProcessingRequest_ResponseBody:
		r.phase = RequestPhaseResponseBody
	case *extproc.ProcessingRequest_ResponseTrailers:
		r.phase = RequestPhaseResponseTrailers
	}
}

func addHeaders(dst http.Header, hm *corev3.HeaderMap) {
	for _, header := range hm.GetHeaders() {
		dst.Add(header.GetKey(), cmp.Or(string(header.GetRawValue()), header.GetValue()))
	}
}

// RequestHeader gets the first value associated with the given request header key.
// It is case insensitive; [textproto.CanonicalMIMEHeaderKey] is used to canonicalize the provided key.
func (r *RequestContext) RequestHeader(key string) string {
	return r.RequestHeaders.Get(key)
}

// RequestHeaderValues returns all values associated with the given request header key.
// The returned slice is not a copy.
func (r *RequestContext) RequestHeaderValues(key string) []string {
	return r.RequestHeaders.Values(key)
}

// ResponseHeader gets the first value associated with the given response header key.
func (r *RequestContext) ResponseHeader(key string) string {
	return r.ResponseHeaders.Get(key)
}

// Scheme returns the scheme of the request (http or https)
func (r *RequestContext) Scheme() string {
	return r.RequestHeader(headerScheme)
}

// Authority returns the authority of the request. HTTP/1 requests carry it in
// the Host header when Envoy did not translate it to :authority.
func (r *RequestContext) Authority() string {
	return cmp.Or(r.RequestHeader(headerAuthority), r.RequestHeader(headerHost))
}

// Method returns the method of the request (GET, POST, PUT, etc)
func (r *RequestContext) Method() string {
	return r.RequestHeader(headerMethod)
}

// URL returns the parsed :path of the request. It never returns nil.
func (r *RequestContext) URL() *url.URL {
	path := r.RequestHeader(headerPath)
	if path == "" {
		return &url.URL{}
	}
	u, err := url.ParseRequestURI(path)
	if err != nil {
		return &url.URL{
			Path:    strings.Split(path, "?")[0],
			RawPath: path,
		}
	}
	return u
}

// EffectiveURL returns the absolute URL of the request as the client asked
// for it: scheme, authority and :path. It reports false when the request has
// no authority.
func (r *RequestContext) EffectiveURL() (string, bool) {
	authority := r.Authority()
	if authority == "" {
		return "", false
	}
	path := cmp.Or(r.RequestHeader(headerPath), "/")
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path, true
	}
	if !strings.HasPrefix(path, "/") && path != "*" {
		path = "/" + path
	}
	return cmp.Or(r.Scheme(), defaultScheme) + "://" + authority + path, true
}

// RequestID returns the x-request-id of the request
func (r *RequestContext) RequestID() string {
	return r.RequestHeader(headerRequestID)
}

// Status returns the status of the response, or 0 before response headers arrived.
func (r *RequestContext) Status() int {
	status, _ := strconv.Atoi(r.ResponseHeader(headerStatus))
	return status
}

// StatusClass returns the class of the status of the response (2xx, 3xx, 4xx, 5xx)
func (r *RequestContext) StatusClass() string {
	return fmt.Sprintf("%dxx", r.Status()/100)
}

// Metadata returns storage shared by all filters of the stream.
func (r *RequestContext) Metadata() *Metadata {
	if r.metadata == nil {
		r.metadata = &Metadata{}
	}
	return r.metadata
}

// RequestPhase returns the current phase of the request
func (r *RequestContext) RequestPhase() RequestPhase {
	if r.phase == "" {
		return RequestPhaseUnknown
	}
	return r.phase
}

// RequestDuration returns the time since the stream started
func (r *RequestContext) RequestDuration() time.Duration {
	if r.startTime.IsZero() {
		return 0
	}
	return time.Since(r.startTime)
}

// Metadata is a key/value store used to pass information between filters.
type Metadata struct {
	m map[any]any
}

// Set sets the value associated with key in the metadata.
func (m *Metadata) Set(key any, value any) {
	if m.m == nil {
		m.m = make(map[any]any)
	}
	m.m[key] = value
}

// Get returns the value associated with key in the metadata.
func (m *Metadata) Get(key any) any {
	return m.m[key]
}
