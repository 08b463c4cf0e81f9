// Package logging sets up the process-wide zerolog logger: human-readable
// console output in dev, JSON everywhere else.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

func New(service, env string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	if env == "dev" {
		return zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().
			Timestamp().
			Str("service", service).
			Logger()
	}

	return zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", service).
		Logger()
}
