package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. Development gets a human readable console
// writer, everything else gets JSON lines on stdout.
func New(env, level string) zerolog.Logger {
	return newWithWriter(env, level, os.Stdout)
}

func newWithWriter(env, level string, out io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = out
	if env == "dev" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
