// Package logging wraps zerolog with the call-site shape the teacher's
// codebase uses for slog (one base logger, structured key/value fields per
// call), so the rest of this module logs the way the pack's realtime
// services do rather than reaching for log/slog directly.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process-wide base logger. level is one of
// debug/info/warn/error (mirrors the teacher's config.LogLevel field).
func New(level string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339
	l := zerolog.New(w).With().Timestamp().Logger()
	return l.Level(parseLevel(level))
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
