package diags

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/getyourguide/extproc-remap/remap"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	textLogExt        = ".log"
	defaultMaxSizeMB  = 100
	timestampLayout   = time.RFC3339
	textLogFilePerm   = 0o644
	textLogFolderPerm = 0o755
)

// Rotation configures the files backing text logs.
type Rotation struct {
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// TextLog is an append-only log file rotated by lumberjack.
type TextLog struct {
	name string
	mode remap.LogMode
	now  func() time.Time

	mu sync.Mutex
	w  io.WriteCloser
}

var _ remap.TextLog = &TextLog{}

// OpenTextLog creates or opens <dir>/<name>.log for appending.
func OpenTextLog(rot Rotation, name string, mode remap.LogMode) (*TextLog, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid text log name %q", name)
	}
	if rot.Dir == "" {
		return nil, errors.New("text log directory is not configured")
	}
	if err := os.MkdirAll(rot.Dir, textLogFolderPerm); err != nil {
		return nil, fmt.Errorf("could not create text log directory: %w", err)
	}
	filename := filepath.Join(rot.Dir, name+textLogExt)

	// lumberjack opens lazily; open once now so a bad path fails at creation.
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, textLogFilePerm)
	if err != nil {
		return nil, fmt.Errorf("could not open text log: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("could not open text log: %w", err)
	}

	maxSize := rot.MaxSizeMB
	if maxSize <= 0 {
		maxSize = defaultMaxSizeMB
	}
	return newTextLog(name, mode, &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSize,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAgeDays,
		Compress:   rot.Compress,
	}), nil
}

func newTextLog(name string, mode remap.LogMode, w io.WriteCloser) *TextLog {
	return &TextLog{
		name: name,
		mode: mode,
		now:  time.Now,
		w:    w,
	}
}

// Name returns the name the log was created with.
func (l *TextLog) Name() string {
	return l.name
}

// Write appends one formatted line.
func (l *TextLog) Write(format string, args ...any) error {
	var b strings.Builder
	if l.mode&remap.LogModeAddTimestamp != 0 {
		b.WriteString(l.now().Format(timestampLayout))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, format, args...)
	if !strings.HasSuffix(b.String(), "\n") {
		b.WriteByte('\n')
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return fmt.Errorf("text log %s is closed", l.name)
	}
	if _, err := io.WriteString(l.w, b.String()); err != nil {
		return fmt.Errorf("could not write text log %s: %w", l.name, err)
	}
	return nil
}

// Close flushes and closes the underlying file. Writes after Close fail.
func (l *TextLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w == nil {
		return nil
	}
	err := l.w.Close()
	l.w = nil
	return err
}
