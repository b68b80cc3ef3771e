// Package remaptest provides in-memory implementations of the host side of
// the remap boundary for plugin tests.
package remaptest

import (
	"errors"
	"fmt"
	"net/textproto"
	"sync"

	"github.com/getyourguide/extproc-remap/remap"
)

// Line is one recorded debug line.
type Line struct {
	Tag     string
	Message string
}

// Host records everything plugins send to it.
type Host struct {
	// HostVersion is returned by Version.
	HostVersion string
	// CreateErr, if set, makes CreateTextLog fail.
	CreateErr error

	mu       sync.Mutex
	debug    []Line
	errors   []string
	logs     map[string]*TextLog
	creates  int
	disabled map[string]bool
}

var _ remap.Host = &Host{}

// NewHost returns a host reporting version.
func NewHost(version string) *Host {
	return &Host{HostVersion: version}
}

func (h *Host) Version() string {
	return h.HostVersion
}

// Disable turns debug output off for tag.
func (h *Host) Disable(tag string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disabled == nil {
		h.disabled = make(map[string]bool)
	}
	h.disabled[tag] = true
}

func (h *Host) DebugEnabled(tag string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.disabled[tag]
}

func (h *Host) Debug(tag string, format string, args ...any) {
	if !h.DebugEnabled(tag) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.debug = append(h.debug, Line{Tag: tag, Message: fmt.Sprintf(format, args...)})
}

func (h *Host) Error(format string, args ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, fmt.Sprintf(format, args...))
}

func (h *Host) CreateTextLog(name string, mode remap.LogMode) (remap.TextLog, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.creates++
	if h.CreateErr != nil {
		return nil, h.CreateErr
	}
	if h.logs == nil {
		h.logs = make(map[string]*TextLog)
	}
	l := &TextLog{Mode: mode}
	h.logs[name] = l
	return l, nil
}

// DebugLines returns the debug messages recorded for tag.
func (h *Host) DebugLines(tag string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var lines []string
	for _, l := range h.debug {
		if l.Tag == tag {
			lines = append(lines, l.Message)
		}
	}
	return lines
}

// Errors returns the recorded error lines.
func (h *Host) Errors() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.errors...)
}

// TextLog returns the text log created under name.
func (h *Host) TextLog(name string) (*TextLog, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.logs[name]
	return l, ok
}

// TextLogCreates returns how many times CreateTextLog was called.
func (h *Host) TextLogCreates() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.creates
}

// Reset forgets recorded lines.
func (h *Host) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.debug = nil
	h.errors = nil
}

// TextLog keeps written lines in memory.
type TextLog struct {
	Mode remap.LogMode

	mu    sync.Mutex
	lines []string
}

func (l *TextLog) Write(format string, args ...any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
	return nil
}

// Lines returns the written lines.
func (l *TextLog) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// Txn is an in-memory transaction. It tracks outstanding handles so tests can
// assert that a plugin released everything it acquired.
type Txn struct {
	// Headers holds the request header fields keyed by canonical name.
	Headers map[string][]string
	// URL is the effective URL. An empty URL is reported as unavailable.
	URL string

	fields      map[remap.Field]string
	next        remap.Field
	outstanding int
	releases    int
	badReleases int
	writes      int
	urls        []*remap.OwnedString
}

var (
	_ remap.Txn         = &Txn{}
	_ remap.HeaderBlock = &Txn{}
)

// NewTxn returns a transaction with the given headers and effective URL.
func NewTxn(headers map[string][]string, url string) *Txn {
	canonical := make(map[string][]string, len(headers))
	for k, v := range headers {
		key := textproto.CanonicalMIMEHeaderKey(k)
		canonical[key] = append(canonical[key], v...)
	}
	return &Txn{Headers: canonical, URL: url}
}

func (t *Txn) RequestHeaders() remap.HeaderBlock {
	return t
}

func (t *Txn) EffectiveURL() (*remap.OwnedString, bool) {
	if t.URL == "" {
		return nil, false
	}
	t.outstanding++
	s := remap.NewOwnedString(t.URL, func() { t.outstanding-- })
	t.urls = append(t.urls, s)
	return s, true
}

func (t *Txn) FieldFind(name string) (remap.Field, bool) {
	key := textproto.CanonicalMIMEHeaderKey(name)
	if _, ok := t.Headers[key]; !ok {
		return remap.NullField, false
	}
	if t.fields == nil {
		t.fields = make(map[remap.Field]string)
	}
	t.next++
	t.fields[t.next] = key
	t.outstanding++
	return t.next, true
}

func (t *Txn) FieldValue(f remap.Field, idx int) (string, bool) {
	key, ok := t.fields[f]
	if !ok {
		return "", false
	}
	values := t.Headers[key]
	if idx < 0 || idx >= len(values) {
		return "", false
	}
	return values[idx], true
}

func (t *Txn) FieldRelease(f remap.Field) error {
	if _, ok := t.fields[f]; !ok {
		t.badReleases++
		return errors.Join(remap.ErrInvalidHandle, fmt.Errorf("field %d", f))
	}
	delete(t.fields, f)
	t.outstanding--
	t.releases++
	return nil
}

func (t *Txn) FieldSet(name string, value string) error {
	t.writes++
	if t.Headers == nil {
		t.Headers = make(map[string][]string)
	}
	t.Headers[textproto.CanonicalMIMEHeaderKey(name)] = []string{value}
	return nil
}

// Outstanding returns the number of acquired and not yet released handles.
func (t *Txn) Outstanding() int {
	return t.outstanding
}

// BadReleases returns how many releases targeted invalid handles.
func (t *Txn) BadReleases() int {
	return t.badReleases
}

// Writes returns how many times the header block was modified.
func (t *Txn) Writes() int {
	return t.writes
}
