// Package debug provides category-tagged structured logging for the detector.
package debug

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Categories for log entries
const (
	CategoryConfig     = "config"
	CategoryProbe      = "probe"
	CategoryService    = "service"
	CategoryConnection = "connection"
	CategoryAuth       = "auth"
	CategoryTopology   = "topology"
	CategoryDetector   = "detector"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Logger wraps a logrus entry so callers can carry fields (run id, host)
// through the pipeline without a package-level instance.
type Logger struct {
	entry *logrus.Entry
}

// New creates a logger writing to w at the given level ("debug", "info",
// "warn", "error"; anything else means info).
func New(w io.Writer, level, format string) *Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(ParseLevel(level))
	if strings.EqualFold(format, FormatJSON) {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return &Logger{entry: logrus.NewEntry(l)}
}

// Discard returns a logger that drops everything (used in tests).
func Discard() *Logger {
	return New(io.Discard, "error", FormatText)
}

// ParseLevel maps a level name onto a logrus level, defaulting to info.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// With returns a child logger that adds fields to every entry.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *Logger) prepare(category string, details map[string]interface{}) *logrus.Entry {
	e := l.entry.WithField("category", category)
	if len(details) > 0 {
		e = e.WithFields(logrus.Fields(details))
	}
	return e
}

// Log emits a debug-level entry.
// category: one of the Category* constants
// message: short one-liner summary
// details: optional map with additional context (can be nil)
func (l *Logger) Log(category, message string, details map[string]interface{}) {
	if l == nil {
		return
	}
	l.prepare(category, details).Debug(message)
}

// Info emits an info-level entry.
func (l *Logger) Info(category, message string, details map[string]interface{}) {
	if l == nil {
		return
	}
	l.prepare(category, details).Info(message)
}

// Warn emits a warning. Soft failures are reported this way.
func (l *Logger) Warn(category, message string, details map[string]interface{}) {
	if l == nil {
		return
	}
	l.prepare(category, details).Warn(message)
}

// Error emits an error-level entry.
func (l *Logger) Error(category, message string, details map[string]interface{}) {
	if l == nil {
		return
	}
	l.prepare(category, details).Error(message)
}

// Convenience functions for each category

// LogConnection logs a connection-related debug message
func (l *Logger) LogConnection(message string, details map[string]interface{}) {
	l.Log(CategoryConnection, message, details)
}

// LogProbe logs a probe-related debug message
func (l *Logger) LogProbe(message string, details map[string]interface{}) {
	l.Log(CategoryProbe, message, details)
}

// LogTopology logs a topology-related debug message
func (l *Logger) LogTopology(message string, details map[string]interface{}) {
	l.Log(CategoryTopology, message, details)
}
