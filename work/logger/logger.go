package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Logger formats printf-style messages onto a zerolog sink. The sink is
// swapped atomically so output can be redirected while requests log.
type Logger struct {
	sink  atomic.Pointer[zerolog.Logger]
	level atomic.Int32
}

var std = New("INFO", os.Stdout)

// New returns a Logger emitting JSON lines to w.
func New(level string, w io.Writer) *Logger {
	l := &Logger{}
	l.SetLevel(level)
	l.setWriter(w)
	return l
}

// ParseLevel maps the config spelling of a level onto zerolog. Unknown
// names fall back to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "TRACE", "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR", "FATAL":
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

func (l *Logger) setWriter(w io.Writer) {
	zl := zerolog.New(w).With().Timestamp().Logger()
	l.sink.Store(&zl)
}

func (l *Logger) SetLevel(level string) {
	l.level.Store(int32(ParseLevel(level)))
}

func (l *Logger) emit(level zerolog.Level, format string, args []any) {
	if level < zerolog.Level(l.level.Load()) {
		return
	}
	l.sink.Load().WithLevel(level).Msg(fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...any) { l.emit(zerolog.DebugLevel, format, args) }
func (l *Logger) Info(format string, args ...any)  { l.emit(zerolog.InfoLevel, format, args) }
func (l *Logger) Warn(format string, args ...any)  { l.emit(zerolog.WarnLevel, format, args) }
func (l *Logger) Error(format string, args ...any) { l.emit(zerolog.ErrorLevel, format, args) }

// SetLogLevel changes the level of the process logger.
func SetLogLevel(level string) { std.SetLevel(level) }

// SetPretty toggles human readable console output on stdout.
func SetPretty(pretty bool) {
	if pretty {
		std.setWriter(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		return
	}
	std.setWriter(os.Stdout)
}

func Debug(format string, args ...any) { std.Debug(format, args...) }
func Info(format string, args ...any)  { std.Info(format, args...) }
func Warn(format string, args ...any)  { std.Warn(format, args...) }
func Error(format string, args ...any) { std.Error(format, args...) }
