// Package signaclog configures the process-wide structured logger used
// by every signac component.
package signaclog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global logger. format is "json" or "console".
func Setup(level, format string) {
	SetupOutput(level, format, os.Stderr)
}

// SetupOutput configures the global logger against an explicit writer,
// used by tests that want to capture log output.
func SetupOutput(level, format string, output io.Writer) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if format == "console" || format == "text" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// Logger returns a logger tagged with the owning component's name.
func Logger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithJob tags a logger with a job id.
func WithJob(logger zerolog.Logger, jobID string) zerolog.Logger {
	return logger.With().Str("job_id", jobID).Logger()
}

// WithProject tags a logger with a project root path.
func WithProject(logger zerolog.Logger, root string) zerolog.Logger {
	return logger.With().Str("project", root).Logger()
}
