// Package logging builds the single zerolog.Logger the rest of the
// process derives component-scoped child loggers from (spec's AMBIENT
// STACK: "a single zero-allocation structured logger, not a grab-bag of
// three", matching how the teacher corpus standardizes before wiring it
// through constructors rather than a package-global).
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Format selects the console or machine-readable JSON writer.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Config configures the root logger (spec AMBIENT STACK: "logging.level,
// logging.format ∈ {console, json}").
type Config struct {
	Level  string
	Format Format
}

// New builds the root logger. An unrecognized Level falls back to info;
// an unrecognized Format falls back to console, since a malformed logging
// config should never itself prevent startup logging.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var w io.Writer = os.Stderr
	if cfg.Format != FormatJSON {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
