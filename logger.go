package auth

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to Logger. Arguments after the
// message are read as key/value pairs.
type ZerologLogger struct {
	zl zerolog.Logger
}

var _ Logger = (*ZerologLogger)(nil)

// NewZerologLogger wraps zl
func NewZerologLogger(zl zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{zl: zl}
}

// NewConsoleLogger builds a human readable logger, or a JSON one when pretty is false.
func NewConsoleLogger(w io.Writer, level string, pretty bool) *ZerologLogger {
	if w == nil {
		w = os.Stderr
	}

	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return NewZerologLogger(zerolog.New(w).Level(lvl).With().Timestamp().Logger())
}

// Named returns a child logger tagged with the component name
func (l *ZerologLogger) Named(name string) *ZerologLogger {
	return &ZerologLogger{zl: l.zl.With().Str("component", name).Logger()}
}

func (l *ZerologLogger) Debug(format string, args ...any) {
	l.write(l.zl.Debug(), format, args)
}

func (l *ZerologLogger) Info(format string, args ...any) {
	l.write(l.zl.Info(), format, args)
}

func (l *ZerologLogger) Warn(format string, args ...any) {
	l.write(l.zl.Warn(), format, args)
}

func (l *ZerologLogger) Error(format string, args ...any) {
	l.write(l.zl.Error(), format, args)
}

func (l *ZerologLogger) write(evt *zerolog.Event, msg string, args []any) {
	if evt == nil {
		return
	}

	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			evt = evt.Interface("extra", args[i])
			break
		}

		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}

		switch v := args[i+1].(type) {
		case error:
			evt = evt.AnErr(key, v)
		case string:
			evt = evt.Str(key, v)
		default:
			evt = evt.Interface(key, v)
		}
	}

	evt.Msg(msg)
}

func defaultLogger() Logger {
	return NewConsoleLogger(os.Stderr, "info", false)
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defaultLogger()
	}
	return l
}
