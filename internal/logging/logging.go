// Package logging builds the structured loggers used across the service.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// New creates a [log.Logger] writing to w with timestamps and caller
// reporting enabled. The writer defaults to [os.Stderr]. format is one of
// "text", "json" or "logfmt"; level is any name accepted by [log.ParseLevel]
// and falls back to info.
func New(w io.Writer, level, format string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := log.Options{
		ReportTimestamp: true,
		ReportCaller:    true,
		Level:           ParseLevel(level),
		Formatter:       parseFormatter(format),
	}
	return log.NewWithOptions(w, opts)
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

// With creates a child [log.Logger] with the key-value pairs added to every entry.
func With(l *log.Logger, kv ...any) *log.Logger {
	return l.With(kv...)
}

// ParseLevel maps a level name to a [log.Level], defaulting to info.
func ParseLevel(s string) log.Level {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

func parseFormatter(s string) log.Formatter {
	switch strings.ToLower(s) {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}
