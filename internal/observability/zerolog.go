package observability

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to the Logger interface.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger builds a structured logger writing to w at the given
// level ("debug", "info", "warn", "error"); unknown levels default to info.
func NewZerologLogger(w io.Writer, level string) *ZerologLogger {
	parsed := parseLevel(level)
	logger := zerolog.New(w).Level(parsed).With().Timestamp().Logger()
	return &ZerologLogger{logger: logger}
}

// NewConsoleLogger builds a human-readable logger for command-line use.
func NewConsoleLogger(w io.Writer, level string) *ZerologLogger {
	writer := zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	logger := zerolog.New(writer).Level(parseLevel(level)).With().Timestamp().Logger()
	return &ZerologLogger{logger: logger}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug implements Logger.
func (z *ZerologLogger) Debug(msg string, fields ...Field) {
	z.emit(z.logger.Debug(), msg, fields)
}

// Info implements Logger.
func (z *ZerologLogger) Info(msg string, fields ...Field) {
	z.emit(z.logger.Info(), msg, fields)
}

// Warn implements Logger.
func (z *ZerologLogger) Warn(msg string, fields ...Field) {
	z.emit(z.logger.Warn(), msg, fields)
}

// Error implements Logger.
func (z *ZerologLogger) Error(msg string, fields ...Field) {
	z.emit(z.logger.Error(), msg, fields)
}

func (z *ZerologLogger) emit(event *zerolog.Event, msg string, fields []Field) {
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		switch v := field.Value.(type) {
		case string:
			event = event.Str(field.Key, v)
		case int:
			event = event.Int(field.Key, v)
		case int64:
			event = event.Int64(field.Key, v)
		case float64:
			event = event.Float64(field.Key, v)
		case bool:
			event = event.Bool(field.Key, v)
		case time.Time:
			event = event.Time(field.Key, v)
		case time.Duration:
			event = event.Dur(field.Key, v)
		case error:
			event = event.AnErr(field.Key, v)
		default:
			event = event.Interface(field.Key, v)
		}
	}
	event.Msg(msg)
}
