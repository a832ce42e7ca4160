// Package telemetry builds the zerolog logger shared by every component,
// in the style of the console/JSON switch used by the masterserver this
// project's transport layer is adapted from.
package telemetry

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// NewLogger builds a base logger at the given level. When stderr is a
// terminal, output is rendered with zerolog's human-readable console
// writer; otherwise plain JSON is emitted so log aggregators can parse it.
func NewLogger(level zerolog.Level) zerolog.Logger {
	var out zerolog.ConsoleWriter
	var logger zerolog.Logger
	if isatty.IsTerminal(os.Stderr.Fd()) {
		out = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = os.Stderr
		})
		logger = zerolog.New(out)
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// Component returns a sub-logger tagged with the given component name.
// The commands create one per process ("monitor" or "station") and share
// it with that process's transport socket.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
