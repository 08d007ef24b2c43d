// Package sunlog provides the small leveled logger used by the
// dispatcher (internal/vm), the trace inspector, and the CLI to emit
// diagnostic lines.
//
// It is intentionally not a general-purpose logging framework: callers
// get Debugf/Infof/Warnf against a single writer, timestamped with
// strftime and colorized when the destination looks like a terminal.
package sunlog

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/ncruces/go-strftime"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "?"
	}
}

func (l Level) color() string {
	switch l {
	case LevelDebug:
		return "\x1b[36m"
	case LevelWarn:
		return "\x1b[33m"
	default:
		return "\x1b[32m"
	}
}

// Logger writes leveled, timestamped lines to an io.Writer.
type Logger struct {
	out     io.Writer
	minimum Level
	color   bool
}

// New creates a Logger writing to w. Color is auto-detected when w is an
// *os.File attached to a terminal.
func New(w io.Writer, minimum Level) *Logger {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Logger{out: w, minimum: minimum, color: color}
}

// Default logs to stderr at Info level.
func Default() *Logger { return New(os.Stderr, LevelInfo) }

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if l == nil || level < l.minimum {
		return
	}
	ts := strftime.Format("%Y-%m-%d %H:%M:%S", time.Now())
	msg := fmt.Sprintf(format, args...)
	if l.color {
		fmt.Fprintf(l.out, "%s[%s]\x1b[0m %s %s\n", level.color(), level, ts, msg)
	} else {
		fmt.Fprintf(l.out, "[%s] %s %s\n", level, ts, msg)
	}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(LevelWarn, format, args...) }
