// Package util provides helper functions for logging events
package util

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
	With().Timestamp().Logger()

// SetupLogger replaces the process logger. Pretty selects the console writer,
// otherwise one JSON object is written per line.
func SetupLogger(w io.Writer, level string, pretty bool) error {
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return fmt.Errorf("parse log level %q: %w", level, err)
		}
		lvl = parsed
	}
	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	logger = zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return nil
}

// Logger returns the process logger for callers that want structured fields.
func Logger() *zerolog.Logger { return &logger }

// Debug prints verbose diagnostics.
func Debug(msg string, args ...any) {
	logger.Debug().Msgf(msg, args...)
}

// Info prints general system information messages with timestamp.
func Info(msg string, args ...any) {
	logger.Info().Msgf(msg, args...)
}

// Warn prints recoverable problems.
func Warn(msg string, args ...any) {
	logger.Warn().Msgf(msg, args...)
}

// Error prints error messages with timestamp.
func Error(msg string, args ...any) {
	logger.Error().Msgf(msg, args...)
}

// Fatal prints the message and exits. Only main packages call it.
func Fatal(msg string, args ...any) {
	logger.Fatal().Msgf(msg, args...)
}
