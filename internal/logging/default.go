package logging

import (
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// OutputType selects the on-disk/console rendering of log lines.
type OutputType string

const (
	OutputTypeJSON   OutputType = "json"
	OutputTypePretty OutputType = "pretty"
)

// DefaultLogger implements Logger with stdout/stderr zerolog writers.
// Info/Debug/Warn go to stdout, Error/Fatal go to stderr, matching the
// split used by every other component in this server.
type DefaultLogger struct {
	stdout zerolog.Logger
	stderr zerolog.Logger
}

func toZerologLevel(l LogLevel) zerolog.Level {
	switch l {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelInfo:
		return zerolog.InfoLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewDefaultLogger builds a DefaultLogger at the given level, rendering
// JSON unless outputType requests pretty console output.
func NewDefaultLogger(level LogLevel, outputType OutputType) *DefaultLogger {
	zerolog.SetGlobalLevel(toZerologLevel(level))
	zerolog.DisableSampling(true)
	zerolog.TimeFieldFormat = time.RFC3339

	l := &DefaultLogger{
		stdout: zerolog.New(os.Stdout).With().Timestamp().Logger(),
		stderr: zerolog.New(os.Stderr).With().Timestamp().Logger(),
	}
	if outputType == OutputTypePretty {
		l.stdout = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
		l.stderr = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return l
}

func withArgs(e *zerolog.Event, args ...any) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	return e
}

func (l *DefaultLogger) Debug(msg string, args ...any) {
	withArgs(l.stdout.Debug(), args...).Msg(msg)
}

func (l *DefaultLogger) Info(msg string, args ...any) {
	withArgs(l.stdout.Info(), args...).Msg(msg)
}

func (l *DefaultLogger) Warn(msg string, args ...any) {
	withArgs(l.stdout.Warn(), args...).Msg(msg)
}

func (l *DefaultLogger) Error(err error, msg string, args ...any) {
	if err == nil {
		err = errors.New("nil error")
	}
	withArgs(l.stderr.Error().Err(err), args...).Msg(msg)
}

func (l *DefaultLogger) Fatal(msg string, err error) {
	if err == nil {
		err = errors.New("nil error")
	}
	l.stderr.Fatal().Err(err).Msg(msg)
}

func (l *DefaultLogger) SetLevel(level LogLevel) {
	zerolog.SetGlobalLevel(toZerologLevel(level))
}
