package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	extproc "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"github.com/getyourguide/extproc-remap/config"
	"github.com/getyourguide/extproc-remap/filter"
	"github.com/getyourguide/extproc-remap/remap"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// TracerName names the tracer used when none is configured.
	TracerName = "extproc-remap"
	// ErrorDetails is reported by Envoy in %RESPONSE_CODE_DETAILS% when a plugin fails.
	ErrorDetails = "remap_plugin_error"
)

// ErrUnknownPlugin is returned by Load for plugin names nothing was registered under.
var ErrUnknownPlugin = errors.New("unknown remap plugin")

// Match describes what the remapper did with a request. It is stored in the
// metadata of the request for the filters running after the remapper.
type Match struct {
	From string
	To   string
	// Plugin is the last plugin called.
	Plugin string
	Status remap.Status
}

type matchKey struct{}

// MatchOf returns the Match recorded for req, false when no rule matched.
func MatchOf(req *filter.RequestContext) (Match, bool) {
	m, ok := req.Metadata().Get(matchKey{}).(Match)
	return m, ok
}

// Remapper runs the plugin chain of the rule matching each request. It
// processes request headers only.
type Remapper struct {
	filter.NoOpFilter

	host      remap.Host
	log       logr.Logger
	tracer    trace.Tracer
	metrics   *Metrics
	factories map[string]remap.Factory

	plugins   map[string]remap.Plugin
	rules     []*rule
	closeOnce sync.Once
}

var _ filter.Filter = &Remapper{}

// Load initializes every plugin named in cfg once, then creates one instance
// per rule and plugin. When a step fails the instances created so far are deleted.
func Load(cfg *config.Config, h remap.Host, opts ...Option) (*Remapper, error) {
	r := &Remapper{
		host:      h,
		log:       logr.Discard(),
		factories: make(map[string]remap.Factory),
		plugins:   make(map[string]remap.Plugin),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tracer == nil {
		r.tracer = noop.NewTracerProvider().Tracer(TracerName)
	}
	if r.metrics == nil {
		r.metrics = NewMetrics(nil, r.log)
	}

	for _, name := range cfg.PluginNames() {
		p, err := r.initPlugin(name)
		if err != nil {
			return nil, err
		}
		r.plugins[name] = p
	}
	for i, rc := range cfg.Rules {
		rl, err := newRule(rc)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		r.rules = append(r.rules, rl)
		for _, pc := range rc.Plugins {
			p := r.plugins[pc.Name]
			ih, err := p.NewInstance(rc.Args(pc))
			if err != nil {
				r.Close()
				return nil, fmt.Errorf("rules[%d]: plugin %s: could not create instance: %w", i, pc.Name, err)
			}
			rl.instances = append(rl.instances, &instance{name: pc.Name, plugin: p, ih: ih})
		}
		r.log.Info("loaded remap rule", "from", rc.From, "to", rc.To, "plugins", len(rl.instances))
	}
	return r, nil
}

func (r *Remapper) initPlugin(name string) (remap.Plugin, error) {
	factory, ok := r.factories[name]
	if !ok {
		factory, ok = remap.Lookup(name)
	}
	if !ok {
		r.Close()
		return nil, fmt.Errorf("%w: %s, registered: %s", ErrUnknownPlugin, name, strings.Join(remap.Registered(), ", "))
	}
	p := factory(r.host)
	if err := p.Init(remap.NewInterface()); err != nil {
		r.Close()
		return nil, fmt.Errorf("plugin %s: init failed: %w", name, err)
	}
	return p, nil
}

// Close deletes every plugin instance. Calls after the first do nothing.
func (r *Remapper) Close() {
	r.closeOnce.Do(func() {
		for _, rl := range r.rules {
			for _, inst := range rl.instances {
				inst.plugin.DeleteInstance(inst.ih)
			}
			rl.instances = nil
		}
	})
}

func (r *Remapper) RequestHeaders(ctx context.Context, crw *filter.CommonResponseWriter, req *filter.RequestContext) (*extproc.ProcessingResponse_ImmediateResponse, error) {
	rl := matchRule(r.rules, req)
	if rl == nil {
		r.log.V(1).Info("no remap rule matched", "authority", req.Authority(), "path", req.URL().Path)
		return nil, nil
	}

	exchange := filter.NewExchange(req, crw)
	match := Match{From: rl.raw.From, To: rl.raw.To}
	defer func() {
		req.Metadata().Set(matchKey{}, match)
	}()
	remapped := false
	for _, inst := range rl.instances {
		status := r.doRemap(ctx, inst, exchange)
		match.Plugin, match.Status = inst.name, status
		if status == remap.StatusError {
			r.log.Info("remap plugin failed", "plugin", inst.name, "from", rl.raw.From)
			return errorResponse(inst.name), nil
		}
		remapped = remapped || status.Remapped()
		if status.Stop() {
			break
		}
	}
	if !remapped {
		rl.apply(crw, req)
	}
	return nil, nil
}

// doRemap calls one plugin. A panicking plugin counts as returning StatusError.
func (r *Remapper) doRemap(ctx context.Context, inst *instance, exchange *filter.Exchange) (status remap.Status) {
	_, span := r.tracer.Start(ctx, "remap/"+inst.name)
	start := time.Now()
	outstanding := exchange.Outstanding()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error(fmt.Errorf("%v", rec), "remap plugin panicked", "plugin", inst.name)
			status = remap.StatusError
		}
		if leaked := exchange.Outstanding() - outstanding; leaked > 0 {
			r.log.Info("remap plugin did not release its handles", "plugin", inst.name, "count", leaked)
		}
		span.SetAttributes(attribute.String("remap.plugin", inst.name), attribute.String("remap.status", status.String()))
		if status == remap.StatusError {
			span.SetStatus(codes.Error, "remap plugin failed")
		}
		span.End()
		r.metrics.observe(inst.name, status, time.Since(start))
	}()
	return inst.plugin.DoRemap(inst.ih, exchange)
}

// apply rewrites the request to the target of the rule: the authority is
// replaced and the matched path prefix is swapped for the target path.
// Envoy picks the upstream scheme from the cluster, so it is left alone.
func (rl *rule) apply(crw *filter.CommonResponseWriter, req *filter.RequestContext) {
	u := req.URL()
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	target := rl.to.EscapedPath()
	if target == "" {
		target = "/"
	}
	prefix := rl.pathPrefix()
	rest := strings.TrimPrefix(path, prefix)
	rewritten := target
	switch {
	case rest == "":
	case strings.HasSuffix(prefix, "/"):
		// the prefix consumed the separator of rest
		rewritten = strings.TrimSuffix(target, "/") + "/" + rest
	case strings.HasSuffix(target, "/") && strings.HasPrefix(rest, "/"):
		rewritten = target + rest[1:]
	default:
		rewritten = target + rest
	}
	if u.RawQuery != "" {
		rewritten += "?" + u.RawQuery
	}

	if req.Authority() != rl.to.Host {
		crw.SetHeader(":authority", rl.to.Host)
	}
	if req.RequestHeader(":path") != rewritten {
		crw.SetHeader(":path", rewritten)
	}
}

func errorResponse(plugin string) *extproc.ProcessingResponse_ImmediateResponse {
	return filter.NewImmediateResponseBuilder().
		HTTPStatus(http.StatusInternalServerError).
		SetHeader("content-type", "text/plain").
		SetHeader("x-remap-plugin", plugin).
		Body([]byte(http.StatusText(http.StatusInternalServerError))).
		Details(ErrorDetails).
		ImmediateResponse()
}
