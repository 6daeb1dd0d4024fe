package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log output formats.
const (
	FormatJSON   = "json"   // structured output for log aggregation
	FormatPretty = "pretty" // human-readable for local development
)

// New creates the service logger. Level is one of debug/info/warn/error
// (anything else falls back to info), format is json or pretty.
//
// Every component derives its own child logger from this one:
//
//	logger.With().Str("component", "consumer").Logger()
func New(level, format string) zerolog.Logger {
	var output io.Writer = os.Stdout

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	if format == FormatPretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "notification-hub").
		Logger()
}
