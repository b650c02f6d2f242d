// Package rlog is the structured logging sink shared by every
// subsystem: a thin wrapper over github.com/rs/zerolog that tags each
// subsystem's events with a component field.
package rlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a thin alias so callers don't import zerolog directly.
type Logger = zerolog.Logger

// New builds the root logger. level is one of "debug","info","warn",
// "error"; an unrecognized level falls back to info. pretty selects the
// human-readable console writer (used for --mock/dev runs); false emits
// compact JSON lines suitable for a log-collector sink.
func New(level string, pretty bool) Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = os.Stdout
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Component returns a child logger tagged with a "component" field.
func Component(l Logger, name string) Logger {
	return l.With().Str("component", name).Logger()
}
