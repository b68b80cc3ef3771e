package host

import (
	"net"
	"net/url"
	"strings"

	"github.com/getyourguide/extproc-remap/config"
	"github.com/getyourguide/extproc-remap/filter"
	"github.com/getyourguide/extproc-remap/remap"
)

// instance is one plugin of a rule's chain.
type instance struct {
	name   string
	plugin remap.Plugin
	ih     remap.Instance
}

// rule is a loaded config.Rule.
type rule struct {
	from      *url.URL
	to        *url.URL
	raw       config.Rule
	instances []*instance
}

func newRule(r config.Rule) (*rule, error) {
	from, err := config.ParseRuleURL(r.From)
	if err != nil {
		return nil, err
	}
	to, err := config.ParseRuleURL(r.To)
	if err != nil {
		return nil, err
	}
	return &rule{from: from, to: to, raw: r}, nil
}

// pathPrefix returns the path requests must start with, "/" when the rule has none.
func (r *rule) pathPrefix() string {
	if p := r.from.EscapedPath(); p != "" {
		return p
	}
	return "/"
}

// matches reports whether the request addressed by scheme, authority and path falls under the rule.
func (r *rule) matches(scheme string, authority string, path string) bool {
	if scheme != "" && !strings.EqualFold(scheme, r.from.Scheme) {
		return false
	}
	if !sameHost(r.from, scheme, authority) {
		return false
	}
	return strings.HasPrefix(path, r.pathPrefix())
}

// sameHost compares hostnames case-insensitively. Ports only have to match
// when both sides carry one, or when the authority names a non-default port.
func sameHost(from *url.URL, scheme string, authority string) bool {
	host, port, err := net.SplitHostPort(authority)
	if err != nil {
		host, port = authority, ""
	}
	if !strings.EqualFold(host, from.Hostname()) {
		return false
	}
	want := from.Port()
	if want == "" {
		want = defaultPort(from.Scheme)
	}
	if port == "" {
		port = defaultPort(scheme)
		if port == "" {
			return true
		}
	}
	return port == want
}

func defaultPort(scheme string) string {
	switch strings.ToLower(scheme) {
	case "http":
		return "80"
	case "https":
		return "443"
	}
	return ""
}

// matchRule returns the rule with the longest path prefix matching the
// request. Among equally long prefixes the first configured rule wins.
func matchRule(rules []*rule, req *filter.RequestContext) *rule {
	path := req.URL().EscapedPath()
	if path == "" {
		path = "/"
	}
	var best *rule
	for _, r := range rules {
		if !r.matches(req.Scheme(), req.Authority(), path) {
			continue
		}
		if best == nil || len(r.pathPrefix()) > len(best.pathPrefix()) {
			best = r
		}
	}
	return best
}
