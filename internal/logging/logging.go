package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. Level is one of trace|debug|info|warn|error;
// format "console" switches to human-readable output, anything else is JSON.
func New(level, format string) zerolog.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

func NewWithWriter(out io.Writer, level, format string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}

	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(parsed).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the component name.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// Nop is used by constructors that receive no logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// TraceDuration logs the elapsed time of a stage at debug level.
//
//	defer logging.TraceDuration(logger, "discovery")()
func TraceDuration(logger zerolog.Logger, name string) func() {
	start := time.Now()
	return func() {
		logger.Debug().Str("stage", name).Dur("duration", time.Since(start)).Msg("stage finished")
	}
}
