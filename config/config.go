// Package config loads the remap rules and logging settings of the service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/getyourguide/extproc-remap/remap"
	"sigs.k8s.io/yaml"
)

// Config is the root of the configuration file.
type Config struct {
	// HostVersion overrides the version the host reports to plugins.
	HostVersion string  `json:"hostVersion,omitempty"`
	Logging     Logging `json:"logging"`
	Rules       []Rule  `json:"rules"`
}

// Logging configures the debug channel and the text logs plugins create.
type Logging struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level,omitempty"`
	// Format is json or text.
	Format string `json:"format,omitempty"`
	// DebugTags is a regular expression selecting the plugin debug tags to print.
	DebugTags string `json:"debugTags,omitempty"`
	// TextLogDir is the directory text logs are written to.
	TextLogDir string   `json:"textLogDir,omitempty"`
	Rotation   Rotation `json:"rotation"`
}

// Rotation configures lumberjack rotation of text logs.
type Rotation struct {
	MaxSizeMB  int  `json:"maxSizeMB,omitempty"`
	MaxBackups int  `json:"maxBackups,omitempty"`
	MaxAgeDays int  `json:"maxAgeDays,omitempty"`
	Compress   bool `json:"compress,omitempty"`
}

// Rule maps requests matching From to the plugin chain that processes them.
type Rule struct {
	From    string   `json:"from"`
	To      string   `json:"to"`
	Plugins []Plugin `json:"plugins"`
}

// Plugin names a registered remap plugin and the parameters of its instance.
type Plugin struct {
	Name   string   `json:"name"`
	Params []string `json:"params,omitempty"`
}

const (
	defaultLevel      = "info"
	defaultFormat     = "json"
	defaultTextLogDir = "/var/log/extproc-remap"
)

var (
	validLevels  = []string{"debug", "info", "warn", "error"}
	validFormats = []string{"json", "text"}
)

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML or JSON document, applies defaults and validates it.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultFormat
	}
	if c.Logging.TextLogDir == "" {
		c.Logging.TextLogDir = defaultTextLogDir
	}
}

// Validate reports every problem found in the configuration. Plugin names
// must be registered with remap.Register before the configuration is parsed.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(validLevels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	if !slices.Contains(validFormats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	if c.Logging.DebugTags != "" {
		if _, err := regexp.Compile(c.Logging.DebugTags); err != nil {
			errs = append(errs, fmt.Errorf("logging.debugTags: %w", err))
		}
	}
	for i, r := range c.Rules {
		if err := r.validate(); err != nil {
			errs = append(errs, fmt.Errorf("rules[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (r Rule) validate() error {
	var errs []error
	if _, err := ParseRuleURL(r.From); err != nil {
		errs = append(errs, fmt.Errorf("from: %w", err))
	}
	if _, err := ParseRuleURL(r.To); err != nil {
		errs = append(errs, fmt.Errorf("to: %w", err))
	}
	if len(r.Plugins) == 0 {
		errs = append(errs, errors.New("plugins: at least one plugin is required"))
	}
	for i, p := range r.Plugins {
		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, fmt.Errorf("plugins[%d]: name is required", i))
			continue
		}
		if _, ok := remap.Lookup(p.Name); !ok {
			errs = append(errs, fmt.Errorf("plugins[%d]: unknown plugin %q, registered: %s", i, p.Name, strings.Join(remap.Registered(), ", ")))
		}
	}
	return errors.Join(errs...)
}

// Args returns the arguments of the plugin instance: from, to, then params.
func (r Rule) Args(p Plugin) []string {
	args := make([]string, 0, 2+len(p.Params))
	args = append(args, r.From, r.To)
	return append(args, p.Params...)
}

// ParseRuleURL parses an absolute http or https URL used in a rule.
func ParseRuleURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q in %q", u.Scheme, raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host in %q", raw)
	}
	return u, nil
}

// PluginNames returns the distinct plugin names in order of first use.
func (c *Config) PluginNames() []string {
	var names []string
	for _, r := range c.Rules {
		for _, p := range r.Plugins {
			if !slices.Contains(names, p.Name) {
				names = append(names, p.Name)
			}
		}
	}
	return names
}
