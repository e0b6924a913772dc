// Package observability holds the process-wide logger and metrics setup.
package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the global zerolog logger for console output and
// returns a logger tagged with the application name.
func InitLogger(app string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// NopLogger returns a logger that discards everything. Used by tests and by
// components whose caller did not supply a logger.
func NopLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}
