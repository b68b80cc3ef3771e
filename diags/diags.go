// Package diags provides the logging sinks a remap host offers its plugins: a
// tag-filtered debug channel, an error channel and named append-only text logs.
package diags

import (
	"fmt"
	"regexp"

	"github.com/go-logr/logr"
)

// DebugVerbosity is the logr verbosity debug lines are written at.
const DebugVerbosity = 1

// Diags writes debug and error lines to a logr.Logger. Debug lines are only
// written for tags matching the configured expression.
type Diags struct {
	log  logr.Logger
	tags *regexp.Regexp
}

// New returns a Diags writing to log. debugTags is a regular expression
// selecting the enabled debug tags; an empty expression disables debug output.
func New(log logr.Logger, debugTags string) (*Diags, error) {
	d := &Diags{log: log}
	if debugTags == "" {
		return d, nil
	}
	re, err := regexp.Compile(debugTags)
	if err != nil {
		return nil, fmt.Errorf("invalid debug tags %q: %w", debugTags, err)
	}
	d.tags = re
	return d, nil
}

// DebugEnabled reports whether debug lines for tag are written.
func (d *Diags) DebugEnabled(tag string) bool {
	return d.tags != nil && d.tags.MatchString(tag) && d.log.V(DebugVerbosity).Enabled()
}

// Debug formats and writes a debug line for tag if the tag is enabled.
func (d *Diags) Debug(tag string, format string, args ...any) {
	if !d.DebugEnabled(tag) {
		return
	}
	d.log.V(DebugVerbosity).Info(fmt.Sprintf(format, args...), "tag", tag)
}

// Error formats and writes an error line. Errors are never filtered.
func (d *Diags) Error(format string, args ...any) {
	d.log.Error(nil, fmt.Sprintf(format, args...))
}

// Logger returns the underlying logger.
func (d *Diags) Logger() logr.Logger {
	return d.log
}
