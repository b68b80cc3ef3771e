package filter

import (
	"fmt"
	"net/textproto"
	"strings"
	"sync"

	"github.com/getyourguide/extproc-remap/remap"
)

// Exchange exposes the request of a RequestContext to remap plugins. Field
// lookups and effective URLs are handed out as handles the plugin releases;
// Outstanding reports what was not given back. Writes go through the
// CommonResponseWriter so they reach Envoy.
type Exchange struct {
	req *RequestContext
	crw *CommonResponseWriter

	mu          sync.Mutex
	fields      map[remap.Field]string
	nextField   remap.Field
	outstanding int
}

var (
	_ remap.Txn         = &Exchange{}
	_ remap.HeaderBlock = &Exchange{}
)

// NewExchange returns a transaction handle over req. crw may be nil for a read-only exchange.
func NewExchange(req *RequestContext, crw *CommonResponseWriter) *Exchange {
	return &Exchange{
		req:    req,
		crw:    crw,
		fields: make(map[remap.Field]string),
	}
}

// RequestHeaders returns the client request header block.
func (e *Exchange) RequestHeaders() remap.HeaderBlock {
	return e
}

// EffectiveURL returns the absolute request URL. The returned string must be released.
func (e *Exchange) EffectiveURL() (*remap.OwnedString, bool) {
	u, ok := e.req.EffectiveURL()
	if !ok {
		return nil, false
	}
	e.acquire()
	return remap.NewOwnedString(u, e.release), true
}

// fieldKey maps a field name to the header carrying it. Envoy moves the Host
// header to :authority, so a Host lookup reads :authority when no Host header is present.
func (e *Exchange) fieldKey(name string) (string, bool) {
	key := textproto.CanonicalMIMEHeaderKey(name)
	if _, ok := e.req.RequestHeaders[key]; ok {
		return key, true
	}
	if strings.EqualFold(name, headerHost) {
		if _, ok := e.req.RequestHeaders[headerAuthority]; ok {
			return headerAuthority, true
		}
	}
	return "", false
}

// FieldFind looks up a request header field.
func (e *Exchange) FieldFind(name string) (remap.Field, bool) {
	key, ok := e.fieldKey(name)
	if !ok {
		return remap.NullField, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextField++
	e.fields[e.nextField] = key
	e.outstanding++
	return e.nextField, true
}

// FieldValue returns the idx-th value of a field found with FieldFind.
func (e *Exchange) FieldValue(f remap.Field, idx int) (string, bool) {
	e.mu.Lock()
	key, ok := e.fields[f]
	e.mu.Unlock()
	if !ok {
		return "", false
	}
	values := e.req.RequestHeaderValues(key)
	if idx < 0 || idx >= len(values) {
		return "", false
	}
	return values[idx], true
}

// FieldRelease releases a field handle. Releasing an unknown or already released handle fails.
func (e *Exchange) FieldRelease(f remap.Field) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.fields[f]; !ok {
		return fmt.Errorf("%w: field %d", remap.ErrInvalidHandle, f)
	}
	delete(e.fields, f)
	e.outstanding--
	return nil
}

// FieldSet replaces the values of a request header and forwards the change to Envoy.
func (e *Exchange) FieldSet(name string, value string) error {
	if e.crw == nil {
		return fmt.Errorf("cannot set %s: exchange is read-only", name)
	}
	key := strings.ToLower(name)
	if key == headerHost {
		key = headerAuthority
	}
	e.crw.SetHeader(key, value)
	return nil
}

// Outstanding returns the number of handles acquired and not released yet.
func (e *Exchange) Outstanding() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outstanding
}

func (e *Exchange) acquire() {
	e.mu.Lock()
	e.outstanding++
	e.mu.Unlock()
}

func (e *Exchange) release() {
	e.mu.Lock()
	e.outstanding--
	e.mu.Unlock()
}
