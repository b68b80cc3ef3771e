package remap

// LogMode controls how a TextLog formats its entries.
type LogMode int

const (
	// LogModeNone writes entries as given.
	LogModeNone LogMode = 0
	// LogModeAddTimestamp prefixes each entry with the time it was written.
	LogModeAddTimestamp LogMode = 1 << 0
)

// TextLog is an append-only text log owned by the host.
// Write must be safe for concurrent use.
type TextLog interface {
	Write(format string, args ...any) error
}

// Host is the set of services a host offers to the plugins it loads.
type Host interface {
	// Version returns the host version as major.minor.patch.
	Version() string
	// DebugEnabled reports whether debug output for tag is turned on.
	DebugEnabled(tag string) bool
	// Debug writes to the debug channel when tag is enabled.
	Debug(tag string, format string, args ...any)
	// Error writes to the error log.
	Error(format string, args ...any)
	// CreateTextLog opens a named append-only log.
	CreateTextLog(name string, mode LogMode) (TextLog, error)
}
