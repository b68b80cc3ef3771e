// Package observer is a remap plugin that logs the Host header and the
// effective URL of every request it sees and never alters the request.
package observer

import (
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/getyourguide/extproc-remap/remap"
)

const (
	// Name is the plugin name, also used as its debug tag and text log name.
	Name = "remap_observer"
	// Version is the plugin version announced at initialization.
	Version = "0.1"

	hostField       = "Host"
	minHostMajor    = 3
	minHostVersion  = "3.0.0"
	instanceArgFrom = 0
	instanceArgTo   = 1
)

func init() {
	remap.Register(Name, func(host remap.Host) remap.Plugin {
		return New(host)
	})
}

// config is the per-rule state. The observer does not act on it; it only
// remembers which rule the instance was created for.
type config struct {
	from string
	to   string
}

// The text log is shared by every Observer of the process. The first
// successful Init creates it; the plugin never closes it.
var (
	textLogMu sync.Mutex
	textLog   remap.TextLog
)

// Observer implements remap.Plugin.
type Observer struct {
	host remap.Host
}

var _ remap.Plugin = &Observer{}

// New returns an observer using the services of host.
func New(host remap.Host) *Observer {
	return &Observer{host: host}
}

// Init validates the interface descriptor, opens the text log and checks the
// host version. A host older than 3.0.0 only produces an error line.
func (o *Observer) Init(api *remap.Interface) error {
	if err := remap.CheckInterface(api); err != nil {
		return err
	}

	tl := o.openTextLog()

	if !hostVersionSupported(o.host.Version()) {
		o.host.Error("[%s] Plugin requires host %s or later", Name, minHostVersion)
	}

	o.host.Debug(Name, "%s plugin is initialized, version: %s", Name, Version)
	if tl != nil {
		if err := tl.Write("%s plugin is initialized, version: %s", Name, Version); err != nil {
			o.host.Error("[%s] Error writing log file: %v", Name, err)
		}
	}
	return nil
}

func (o *Observer) openTextLog() remap.TextLog {
	textLogMu.Lock()
	defer textLogMu.Unlock()
	if textLog != nil {
		return textLog
	}
	l, err := o.host.CreateTextLog(Name, remap.LogModeAddTimestamp)
	if err != nil || l == nil {
		o.host.Error("[%s] Error creating log file: %v", Name, err)
		return nil
	}
	textLog = l
	return l
}

// TextLog returns the text log of the process, or nil before it was created.
func TextLog() remap.TextLog {
	textLogMu.Lock()
	defer textLogMu.Unlock()
	return textLog
}

// NewInstance allocates the state of one remap rule. args are expected to
// start with the rule's from and to URLs but are not validated.
func (o *Observer) NewInstance(args []string) (remap.Instance, error) {
	conf := &config{
		from: arg(args, instanceArgFrom),
		to:   arg(args, instanceArgTo),
	}
	o.host.Debug(Name, "creating remap instance for '%s' -> '%s'", conf.from, conf.to)
	return conf, nil
}

// DeleteInstance releases the state of one remap rule. A nil instance is ignored.
func (o *Observer) DeleteInstance(ih remap.Instance) {
	if ih == nil {
		o.host.Debug(Name, "deleting remap instance <nil>")
		return
	}
	o.host.Debug(Name, "deleting remap instance %p", ih)
	if _, ok := ih.(*config); !ok {
		o.host.Error("[%s] DeleteInstance called with a foreign instance %T", Name, ih)
	}
}

// DoRemap logs the Host header and the effective URL of txn.
// It only reads from txn and always returns remap.StatusNoRemap.
func (o *Observer) DoRemap(_ remap.Instance, txn remap.Txn) remap.Status {
	if txn == nil {
		return remap.StatusNoRemap
	}
	o.logHost(txn.RequestHeaders())
	o.logEffectiveURL(txn)
	return remap.StatusNoRemap
}

func (o *Observer) logHost(hdrs remap.HeaderBlock) {
	if hdrs == nil {
		return
	}
	field, ok := hdrs.FieldFind(hostField)
	if !ok {
		return
	}
	defer func() {
		if err := hdrs.FieldRelease(field); err != nil {
			o.host.Error("[%s] Error releasing header field: %v", Name, err)
		}
	}()

	if host, ok := hdrs.FieldValue(field, 0); ok {
		o.host.Debug(Name, "host header: '%s'", host)
	}
}

func (o *Observer) logEffectiveURL(txn remap.Txn) {
	u, ok := txn.EffectiveURL()
	if !ok {
		return
	}
	defer u.Release()
	o.host.Debug(Name, "url: '%s'", u.String())
}

// hostVersionSupported reports whether v is a major.minor.patch version with
// a major version of at least 3.
func hostVersionSupported(v string) bool {
	ver, err := semver.StrictNewVersion(v)
	if err != nil {
		return false
	}
	return ver.Major() >= minHostMajor
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
