// Package logging writes one human-readable file per run under the
// configured log directory, mirroring each step transition the
// orchestrator records to its event log. It exists for after-the-fact
// debugging of a run; it is not the source of truth (the event log is).
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/getpipe-dev/orchestrator/internal/config"
)

// ANSI color codes used for verbose-mode terminal output.
const (
	ansiDim   = "\033[2m"
	ansiCyan  = "\033[36m"
	ansiGreen = "\033[32m"
	ansiRed   = "\033[31m"
	ansiReset = "\033[0m"

	// ttyTimeFormat matches the charmbracelet/log format used for debug output.
	ttyTimeFormat = "15:04:05 01/02/2006"
)

// Logger is a run-scoped, file-backed log with an optional terminal mirror.
type Logger struct {
	mu   sync.Mutex
	w    io.Writer // file writer (always plain text)
	tty  io.Writer // terminal writer (nil in file-only mode)
	file *os.File
}

type option struct{ fileOnly bool }

// Option configures Logger behaviour.
type Option func(*option)

// FileOnly suppresses stderr output; only the log file is written.
func FileOnly() Option { return func(o *option) { o.fileOnly = true } }

// New creates the log file for one run of pipelineName and returns a
// Logger that appends to it, under config.Current().LogDir.
func New(pipelineName, runID string, opts ...Option) (*Logger, error) {
	var cfg option
	for _, o := range opts {
		o(&cfg)
	}

	ts := time.Now().Format("20060102-150405")
	rid := runID
	if len(rid) > 8 {
		rid = rid[:8]
	}
	filename := fmt.Sprintf("%s-%s-%s.log", pipelineName, rid, ts)
	path := filepath.Join(config.Current().LogDir, filename)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}

	l := &Logger{w: f, file: f}
	if !cfg.fileOnly {
		l.tty = os.Stderr
	}
	return l, nil
}

// Log writes a timestamped, run-scoped line.
func (l *Logger) Log(format string, args ...any) {
	now := time.Now()
	msg := fmt.Sprintf(format, args...)
	l.mu.Lock()
	_, _ = fmt.Fprintf(l.w, "[%s] %s\n", now.UTC().Format(time.RFC3339), msg)
	if l.tty != nil {
		_, _ = fmt.Fprintf(l.tty, "%s[%s]%s %s\n", ansiDim, now.Format(ttyTimeFormat), ansiReset, msg)
	}
	l.mu.Unlock()
}

// Step returns a StepLogger scoped to the given step name.
func (l *Logger) Step(name string) *StepLogger {
	return &StepLogger{l: l, name: name}
}

// Close closes the underlying log file.
func (l *Logger) Close() error {
	return l.file.Close()
}

// StepLogger writes lines prefixed with a step name.
type StepLogger struct {
	l    *Logger
	name string
}

// Log writes a timestamped, step-scoped line.
func (s *StepLogger) Log(format string, args ...any) {
	now := time.Now()
	msg := fmt.Sprintf(format, args...)
	s.l.mu.Lock()
	_, _ = fmt.Fprintf(s.l.w, "[%s] [%s] %s\n", now.UTC().Format(time.RFC3339), s.name, msg)
	if s.l.tty != nil {
		_, _ = fmt.Fprintf(s.l.tty, "%s[%s]%s %s[%s]%s %s\n",
			ansiDim, now.Format(ttyTimeFormat), ansiReset, ansiCyan, s.name, ansiReset, msg)
	}
	s.l.mu.Unlock()
}

// Done writes the step's terminal line: status is an eventlog.Status
// value such as "completed" or "failed", colored accordingly on a tty.
func (s *StepLogger) Done(status string) {
	now := time.Now()
	s.l.mu.Lock()
	_, _ = fmt.Fprintf(s.l.w, "[%s] [%s] %s\n", now.UTC().Format(time.RFC3339), s.name, status)
	if s.l.tty != nil {
		color := ansiGreen
		if status != "completed" {
			color = ansiRed
		}
		_, _ = fmt.Fprintf(s.l.tty, "%s[%s]%s %s[%s]%s %s%s%s\n",
			ansiDim, now.Format(ttyTimeFormat), ansiReset, ansiCyan, s.name, ansiReset, color, status, ansiReset)
	}
	s.l.mu.Unlock()
}
