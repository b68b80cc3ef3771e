// Package filters holds filters that run next to the remap filter.
package filters

import (
	"github.com/getyourguide/extproc-remap/filter"
	"github.com/getyourguide/extproc-remap/host"
	"github.com/go-logr/logr"
)

// AccessLog logs one line per HTTP exchange when its ext_proc stream ends.
// Header mutations of earlier filters are applied to the request context, so
// the authority and path are the ones sent upstream.
type AccessLog struct {
	filter.NoOpFilter
	log logr.Logger
}

var (
	_ filter.Filter = &AccessLog{}
	_ filter.Stream = &AccessLog{}
)

func NewAccessLog(log logr.Logger) *AccessLog {
	return &AccessLog{log: log}
}

func (f *AccessLog) OnStreamComplete(req *filter.RequestContext) {
	if req.RequestPhase() == filter.RequestPhaseUnknown {
		return
	}
	kv := []any{
		"request_id", req.RequestID(),
		"method", req.Method(),
		"authority", req.Authority(),
		"path", req.URL().RequestURI(),
		"status", req.Status(),
		"phase", string(req.RequestPhase()),
		"duration", req.RequestDuration().String(),
	}
	if req.Status() != 0 {
		kv = append(kv, "status_class", req.StatusClass())
	}
	if m, ok := host.MatchOf(req); ok {
		kv = append(kv, "remap_from", m.From, "remap_to", m.To, "remap_plugin", m.Plugin, "remap_status", m.Status.String())
	}
	f.log.V(1).Info("request completed", kv...)
}
