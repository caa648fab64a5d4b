// Package log provides the structured logger used throughout the engine.
// It mirrors cuemby/warren's pkg/log wrapper around zerolog: a single
// package-level Logger configured once at process start, passed down or
// pulled in by component constructors rather than each package building its
// own.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide structured logger. Components that need a
// scoped sub-logger call With().Str(...).Logger() on it, same as warren.
var Logger = New(os.Stderr, false)

// New builds a zerolog.Logger writing to w. When pretty is true, output is
// human-readable (console writer); otherwise it is newline-delimited JSON,
// suitable for log aggregation.
func New(w io.Writer, pretty bool) zerolog.Logger {
	out := w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// SetLevel adjusts the global minimum log level (e.g. zerolog.InfoLevel).
func SetLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}
