package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the global logger instance
var Log zerolog.Logger

func init() {
	// Default to JSON output for production
	Log = zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()

	// Pretty print for development if requested
	if os.Getenv("APP_ENV") != "production" {
		Log = Log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// GetLogger returns the global logger instance
func GetLogger() zerolog.Logger {
	return Log
}

// Task returns a log event pre-populated with the (app, queue, id) a task
// belongs to, so every dispatch/runner log line carries its identity.
func Task(app, queue string, id int64) *zerolog.Event {
	return Log.Info().Str("app", app).Str("queue", queue).Int64("task_id", id)
}
