// Package log configures the zerolog.Logger every other chainkv package
// receives by injection; it holds no global logger of its own beyond the
// one-time default cmd/kvchaind builds at startup (§C9).
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level names a logging verbosity, independent of zerolog's own type so
// config and CLI flags don't need to import zerolog directly.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls the logger New builds.
type Config struct {
	Level  Level
	JSON   bool
	Output io.Writer
}

// New builds a zerolog.Logger per cfg. A nil Output defaults to stderr,
// keeping stdout free for any future scripted output.
func New(cfg Config) zerolog.Logger {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	var logger zerolog.Logger
	if cfg.JSON {
		logger = zerolog.New(output).Level(level).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).Level(level).With().Timestamp().Logger()
	}
	return logger
}
