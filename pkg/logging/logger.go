// Package logging provides standardized logging utilities for the wirefly project.
//
// It wraps zerolog so that the rest of the codebase never imports zerolog
// directly. logger.go defines the core Logger and Event types plus level
// management; console_writer.go holds console output helpers.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Logger is a wrapper around zerolog.Logger that provides the same
// functionality without exposing zerolog directly.
type Logger struct {
	zl zerolog.Logger
}

// DefaultLogger is the default logger used by the package-level functions.
var DefaultLogger = Logger{zl: zlog.Logger}

// Level represents a log level.
type Level int8

// Log levels.
const (
	DebugLevel Level = Level(zerolog.DebugLevel)
	InfoLevel  Level = Level(zerolog.InfoLevel)
	WarnLevel  Level = Level(zerolog.WarnLevel)
	ErrorLevel Level = Level(zerolog.ErrorLevel)
	FatalLevel Level = Level(zerolog.FatalLevel)
	PanicLevel Level = Level(zerolog.PanicLevel)
	NoLevel    Level = Level(zerolog.NoLevel)
	Disabled   Level = Level(zerolog.Disabled)
	TraceLevel Level = Level(zerolog.TraceLevel)
)

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level Level) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// ParseLevel parses a level string into a Level.
// It returns an error if the level string is invalid.
func ParseLevel(levelStr string) (Level, error) {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		return Level(0), fmt.Errorf("invalid log level %q: %w", levelStr, err)
	}
	return Level(level), nil
}

// String returns the string representation of the log level.
func (l Level) String() string {
	return zerolog.Level(l).String()
}

// New creates a new Logger with the given writer.
func New(w io.Writer) Logger {
	return Logger{zl: zerolog.New(w).With().Timestamp().Logger()}
}

// Output duplicates the current logger and sets w as its output.
func (l Logger) Output(w io.Writer) Logger {
	return Logger{zl: l.zl.Output(w)}
}

// Level creates a child logger with the minimum accepted level set to level.
func (l Logger) Level(level Level) Logger {
	return Logger{zl: l.zl.Level(zerolog.Level(level))}
}

// With creates a child logger context builder.
func (l Logger) With() Context {
	return Context{zc: l.zl.With()}
}

// Context is a wrapper around zerolog.Context that provides the same
// functionality without exposing zerolog directly.
type Context struct {
	zc zerolog.Context
}

// Logger returns a Logger from the Context.
func (c Context) Logger() Logger {
	return Logger{zl: c.zc.Logger()}
}

// Str adds a string field to the context.
func (c Context) Str(key, val string) Context {
	return Context{zc: c.zc.Str(key, val)}
}

// Trace starts a new message with trace level.
func (l Logger) Trace() Event { return Event{ze: l.zl.Trace()} }

// Debug starts a new message with debug level.
func (l Logger) Debug() Event { return Event{ze: l.zl.Debug()} }

// Info starts a new message with info level.
func (l Logger) Info() Event { return Event{ze: l.zl.Info()} }

// Warn starts a new message with warn level.
func (l Logger) Warn() Event { return Event{ze: l.zl.Warn()} }

// Error starts a new message with error level.
func (l Logger) Error() Event { return Event{ze: l.zl.Error()} }

// Fatal starts a new message with fatal level; the os.Exit(1) happens on Msg.
func (l Logger) Fatal() Event { return Event{ze: l.zl.Fatal()} }

// Package-level helpers that log through DefaultLogger.

// Trace starts a new trace-level message on the default logger.
func Trace() Event { return DefaultLogger.Trace() }

// Debug starts a new debug-level message on the default logger.
func Debug() Event { return DefaultLogger.Debug() }

// Info starts a new info-level message on the default logger.
func Info() Event { return DefaultLogger.Info() }

// Warn starts a new warn-level message on the default logger.
func Warn() Event { return DefaultLogger.Warn() }

// Error starts a new error-level message on the default logger.
func Error() Event { return DefaultLogger.Error() }

// Fatal starts a new fatal-level message on the default logger.
func Fatal() Event { return DefaultLogger.Fatal() }

// SetDefaultOutput points the default logger at w.
func SetDefaultOutput(w io.Writer) {
	DefaultLogger = Logger{zl: zerolog.New(w).With().Timestamp().Logger()}
}

// Event is a wrapper around zerolog.Event that provides the same
// functionality without exposing zerolog directly.
type Event struct {
	ze *zerolog.Event
}

// Enabled reports whether the event will be written.
func (e Event) Enabled() bool { return e.ze.Enabled() }

// Str adds a string field to the event.
func (e Event) Str(key, val string) Event { return Event{ze: e.ze.Str(key, val)} }

// Strs adds a string slice field to the event.
func (e Event) Strs(key string, vals []string) Event { return Event{ze: e.ze.Strs(key, vals)} }

// Int adds an int field to the event.
func (e Event) Int(key string, val int) Event { return Event{ze: e.ze.Int(key, val)} }

// Int64 adds an int64 field to the event.
func (e Event) Int64(key string, val int64) Event { return Event{ze: e.ze.Int64(key, val)} }

// Uint64 adds a uint64 field to the event.
func (e Event) Uint64(key string, val uint64) Event { return Event{ze: e.ze.Uint64(key, val)} }

// Float64 adds a float64 field to the event.
func (e Event) Float64(key string, val float64) Event { return Event{ze: e.ze.Float64(key, val)} }

// Bool adds a bool field to the event.
func (e Event) Bool(key string, val bool) Event { return Event{ze: e.ze.Bool(key, val)} }

// Dur adds a duration field to the event.
func (e Event) Dur(key string, val time.Duration) Event { return Event{ze: e.ze.Dur(key, val)} }

// Time adds a time field to the event.
func (e Event) Time(key string, val time.Time) Event { return Event{ze: e.ze.Time(key, val)} }

// Err adds an error field to the event.
func (e Event) Err(err error) Event { return Event{ze: e.ze.Err(err)} }

// Interface adds an arbitrary field to the event.
func (e Event) Interface(key string, val interface{}) Event { return Event{ze: e.ze.Interface(key, val)} }

// Msg sends the event with the given message.
func (e Event) Msg(msg string) { e.ze.Msg(msg) }

// Msgf sends the event with a formatted message.
func (e Event) Msgf(format string, args ...interface{}) { e.ze.Msgf(format, args...) }

// Send sends the event without a message.
func (e Event) Send() { e.ze.Send() }

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	DefaultLogger = Logger{zl: zerolog.New(os.Stderr).With().Timestamp().Logger()}
}
