// Package logbook implements the supervisor's combined log: leveled,
// timestamped messages appended durably to a single log file and echoed to
// the console color-coded by level. The raw output of agent processes is
// interleaved into the same file via Stream.
//
// The combined log is the audit trail every other record derives from, so a
// failed file write aborts the process rather than surfacing an error to
// callers.
package logbook

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// TimeFormat is the timestamp layout used for log lines.
const TimeFormat = "2006-01-02 15:04:05"

// Level identifies the severity of a log line.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarn
	LevelError
)

// String returns the upper-case tag written to the log file.
func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "SUCCESS"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// exitFn is swapped out in tests; a combined-log write failure must abort.
var exitFn = os.Exit

// Logger appends timestamped lines to the combined log file and mirrors them
// to a console writer. Safe for use from the single loop goroutine plus the
// agent output stream.
type Logger struct {
	mu      sync.Mutex
	file    *os.File
	console io.Writer
	styles  Styles
	now     func() time.Time
}

// Open opens (creating if needed) the combined log at path in append mode.
// Console output goes to console, typically os.Stdout.
func Open(path string, console io.Writer) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening combined log %s: %w", path, err)
	}
	return &Logger{
		file:    f,
		console: console,
		styles:  DefaultStyles(),
		now:     time.Now,
	}, nil
}

// Close closes the underlying log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Styles returns the console styles in use, for callers that render their
// own output (stats report, watch view).
func (l *Logger) Styles() Styles {
	return l.styles
}

func (l *Logger) log(lv Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%s] %s: %s", l.now().Format(TimeFormat), lv, msg)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.append(line + "\n")
	fmt.Fprintln(l.console, l.styles.For(lv).Render(line))
}

// append writes to the log file and syncs it so the line survives a process
// crash. Write failures abort the process: without the combined log there is
// no audit trail to continue for.
func (l *Logger) append(s string) {
	if _, err := l.file.WriteString(s); err != nil {
		fmt.Fprintf(os.Stderr, "devloop: combined log write failed: %v\n", err)
		exitFn(1)
		return
	}
	if err := l.file.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "devloop: combined log sync failed: %v\n", err)
		exitFn(1)
	}
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) { l.log(LevelInfo, format, args...) }

// Success logs a success message.
func (l *Logger) Success(format string, args ...any) { l.log(LevelSuccess, format, args...) }

// Warn logs a warning.
func (l *Logger) Warn(format string, args ...any) { l.log(LevelWarn, format, args...) }

// Error logs an error.
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

// Stream returns a writer that interleaves raw agent output into the
// combined log and the console as it is produced, without timestamps or
// level tags.
func (l *Logger) Stream() io.Writer {
	return &streamWriter{logger: l}
}

type streamWriter struct {
	logger *Logger
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.logger.mu.Lock()
	defer w.logger.mu.Unlock()
	w.logger.append(string(p))
	w.logger.console.Write(p)
	return len(p), nil
}
