package slogx

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Error returns a slog.Attr for the provided error.
// The attribute key is "error" and the value is the error's message.
func Error(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// Stringer creates a slog.Attr with the provided key and the string
// representation of the given fmt.Stringer value.
func Stringer(key string, value fmt.Stringer) slog.Attr {
	return slog.String(key, value.String())
}

// JobID returns an attribute for a research job identifier.
func JobID(id uuid.UUID) slog.Attr {
	return slog.String("job_id", id.String())
}

// TaskID returns an attribute for a task identifier.
func TaskID(id string) slog.Attr {
	return slog.String("task_id", id)
}

const (
	// KeyLoggerName is the key used to identify a named logger in log records.
	KeyLoggerName = "logger"
)

// LoggerName returns an attribute carrying the logger name.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}
