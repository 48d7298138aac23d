// Package log provides a levelled logger. Loggers are created by the caller and handed to the
// components that need them; there is no package-level logger.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type Level int

const (
	LevelNone    Level = iota // Disables logging.
	LevelError                // Logs anomalies that are not expected to occur during normal use.
	LevelWarning              // Logs anomalies that are expected to occur occasionally during normal use.
	LevelInfo                 // Logs major events.
	LevelDebug                // Logs detailed IO
)

var labels = map[Level]string{
	LevelDebug:   "[debug]",
	LevelInfo:    "[info ]",
	LevelWarning: "[warn ]",
	LevelError:   "[error]",
}

// Logger is the interface consumed by the rest of the module.
type Logger interface {
	Debug(format string, a ...interface{})
	Info(format string, a ...interface{})
	Warning(format string, a ...interface{})
	Error(format string, a ...interface{})
}

// Writer is a Logger that writes timestamped, labelled lines to an io.Writer.
type Writer struct {
	out   io.Writer
	level Level
	mu    sync.Mutex
	now   func() time.Time
}

// New returns a Writer that emits messages at or below level to out. A nil out writes to stderr.
func New(out io.Writer, level Level) *Writer {
	if out == nil {
		out = os.Stderr
	}
	return &Writer{out: out, level: level, now: time.Now}
}

func (w *Writer) SetLevel(level Level) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.level = level
}

func (w *Writer) Level() Level {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.level
}

func (w *Writer) log(level Level, format string, a ...interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if level > w.level {
		return
	}
	msg := fmt.Sprintf("%s %s ", w.now().Format(time.RFC3339), labels[level])
	msg += fmt.Sprintf(format, a...)
	fmt.Fprintln(w.out, msg)
}

func (w *Writer) Debug(format string, a ...interface{}) {
	w.log(LevelDebug, format, a...)
}
func (w *Writer) Info(format string, a ...interface{}) {
	w.log(LevelInfo, format, a...)
}
func (w *Writer) Warning(format string, a ...interface{}) {
	w.log(LevelWarning, format, a...)
}
func (w *Writer) Error(format string, a ...interface{}) {
	w.log(LevelError, format, a...)
}

type discard struct{}

func (discard) Debug(string, ...interface{})   {}
func (discard) Info(string, ...interface{})    {}
func (discard) Warning(string, ...interface{}) {}
func (discard) Error(string, ...interface{})   {}

// Discard returns a Logger that drops every message.
func Discard() Logger {
	return discard{}
}

// OrDiscard returns l, or a discarding Logger if l is nil.
func OrDiscard(l Logger) Logger {
	if l == nil {
		return discard{}
	}
	return l
}
