// Package log provides the structured, leveled logger used throughout the
// aggregate B-tree engine. It is deliberately small: a handful of
// key/value logging functions plus a Crit that terminates the process,
// mirroring the role go-ethereum's own internal log package plays for its
// node-cache and storage subsystems (see e.g. diskLayer.markStale's use of
// panic for an "impossible" state — Crit is this package's equivalent for
// invariant violations raised outside a debug assertion).
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level is a log severity.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelCrit
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelCrit:
		return "CRIT"
	default:
		return "?"
	}
}

// Logger is a minimal structured logger: one line per call, a message,
// and an even-length list of key/value context pairs.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	color  bool
	level  Level
	prefix string
}

// Root is the package-level default logger, writing to stderr.
var Root = New(os.Stderr)

// New creates a Logger writing to w. If w is *os.File and refers to a
// terminal, w is wrapped with go-colorable and the Logger records that it
// writes to a terminal. Log lines themselves carry no color codes.
func New(w io.Writer) *Logger {
	color := false
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		w = colorable.NewColorable(f)
		color = true
	}
	return &Logger{out: w, color: color, level: LevelInfo}
}

// SetLevel sets the minimum level that will be emitted.
func (l *Logger) SetLevel(lv Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = lv
}

// With returns a derived Logger whose every line carries prefix as a
// "prefix=<prefix>" field right after the message.
func (l *Logger) With(prefix string) *Logger {
	return &Logger{out: l.out, color: l.color, level: l.level, prefix: prefix}
}

func (l *Logger) log(lv Level, msg string, ctx ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lv < l.level {
		return
	}
	ts := time.Now().Format("2006-01-02T15:04:05.000")
	fmt.Fprintf(l.out, "%s [%s] %s", ts, lv, msg)
	if l.prefix != "" {
		fmt.Fprintf(l.out, " prefix=%s", l.prefix)
	}
	for i := 0; i+1 < len(ctx); i += 2 {
		fmt.Fprintf(l.out, " %v=%v", ctx[i], ctx[i+1])
	}
	fmt.Fprintln(l.out)
	if lv == LevelCrit {
		os.Exit(2)
	}
}

func (l *Logger) Trace(msg string, ctx ...interface{}) { l.log(LevelTrace, msg, ctx...) }
func (l *Logger) Debug(msg string, ctx ...interface{}) { l.log(LevelDebug, msg, ctx...) }
func (l *Logger) Info(msg string, ctx ...interface{})  { l.log(LevelInfo, msg, ctx...) }
func (l *Logger) Warn(msg string, ctx ...interface{})  { l.log(LevelWarn, msg, ctx...) }
func (l *Logger) Error(msg string, ctx ...interface{}) { l.log(LevelError, msg, ctx...) }

// Crit logs at LevelCrit and terminates the process. Reserved for
// programmer errors / invariant violations: the tree and cache
// structures are not expected to recover from these.
func (l *Logger) Crit(msg string, ctx ...interface{}) { l.log(LevelCrit, msg, ctx...) }

func Trace(msg string, ctx ...interface{}) { Root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { Root.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { Root.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { Root.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { Root.Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { Root.Crit(msg, ctx...) }
