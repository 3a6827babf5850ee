package slogx

import (
	"log/slog"
	"time"
)

// Error returns a slog.Attr with the key "error" holding the error's message.
// A nil error is rendered as an empty string.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

const (
	// KeyLoggerName is the attribute key that names the component emitting a record.
	KeyLoggerName = "logger"
	// KeySessionID is the attribute key for the client session an exchange belongs to.
	KeySessionID = "session_id"
)

// LoggerName creates the attribute that identifies the emitting component.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}

// Named returns a logger derived from base (or slog.Default when base is nil)
// tagged with the given component name.
func Named(base *slog.Logger, name string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(LoggerName(name))
}

// SessionID tags a record with the session identifier.
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// Attempt tags a record with a zero-based attempt index and the attempt cap.
func Attempt(index, max int) slog.Attr {
	return slog.Group("attempt", slog.Int("index", index), slog.Int("max", max))
}

// Delay tags a record with a wait duration.
func Delay(d time.Duration) slog.Attr {
	return slog.Duration("delay", d)
}
