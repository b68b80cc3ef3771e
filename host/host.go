// Package host runs remap plugins on the requests Envoy sends to the
// external processing service.
package host

import (
	"fmt"
	"sync"

	"github.com/getyourguide/extproc-remap/diags"
	"github.com/getyourguide/extproc-remap/remap"
)

// DefaultVersion is the host version reported to plugins unless configured otherwise.
const DefaultVersion = "3.2.0"

// Host implements remap.Host on top of a diags.Diags and text logs rotated
// in a single directory.
type Host struct {
	version  string
	diags    *diags.Diags
	rotation diags.Rotation

	mu       sync.Mutex
	textLogs []*diags.TextLog
}

var _ remap.Host = &Host{}

// NewHost returns the services handed to plugins.
func NewHost(version string, d *diags.Diags, rotation diags.Rotation) *Host {
	if version == "" {
		version = DefaultVersion
	}
	return &Host{
		version:  version,
		diags:    d,
		rotation: rotation,
	}
}

func (h *Host) Version() string {
	return h.version
}

func (h *Host) DebugEnabled(tag string) bool {
	return h.diags.DebugEnabled(tag)
}

func (h *Host) Debug(tag string, format string, args ...any) {
	h.diags.Debug(tag, format, args...)
}

func (h *Host) Error(format string, args ...any) {
	h.diags.Error(format, args...)
}

// CreateTextLog opens <dir>/<name>.log. Text logs stay open until Close.
func (h *Host) CreateTextLog(name string, mode remap.LogMode) (remap.TextLog, error) {
	l, err := diags.OpenTextLog(h.rotation, name, mode)
	if err != nil {
		return nil, fmt.Errorf("could not create text log %s: %w", name, err)
	}
	h.mu.Lock()
	h.textLogs = append(h.textLogs, l)
	h.mu.Unlock()
	return l, nil
}

// Close closes all text logs. It is called when the process shuts down.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var firstErr error
	for _, l := range h.textLogs {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	h.textLogs = nil
	return firstErr
}
