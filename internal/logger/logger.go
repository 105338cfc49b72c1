package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds the human-facing console logger.
func New(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// NewNop returns a logger that discards everything. Used as the default in
// constructors so callers may omit logging.
func NewNop() zerolog.Logger {
	return zerolog.Nop()
}
