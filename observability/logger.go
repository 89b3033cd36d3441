package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger builds the process logger writing human-readable output to
// stdout and installs it as the zerolog global.
func InitLogger(app string) zerolog.Logger {
	return InitLoggerTo(app, os.Stdout)
}

// InitLoggerTo is InitLogger with an explicit sink. The terminal client uses
// it to keep log lines off the screen the TUI owns.
func InitLoggerTo(app string, out io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
