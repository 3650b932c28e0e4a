package util

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"crypto-terminal/internal/common"
)

// Logger provides utility functions for consistent, component-scoped logging.
type Logger struct {
	component string
}

// NewLogger creates a Logger that tags every event with the component name.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// Error logs an error with the specified error code, message, and optional fields.
func (l *Logger) Error(err error, errorCode common.ErrorCode, errorMsg common.ErrorMessage, msg string, fields ...interface{}) {
	event := log.Error().
		Err(err).
		Str("error_code", errorCode.String()).
		Str("error_message", errorMsg.String())
	l.emit(event, msg, fields)
}

// Warn logs a warning with the specified error code, message, and optional fields.
func (l *Logger) Warn(errorCode common.ErrorCode, errorMsg common.ErrorMessage, msg string, fields ...interface{}) {
	event := log.Warn().
		Str("error_code", errorCode.String()).
		Str("error_message", errorMsg.String())
	l.emit(event, msg, fields)
}

// Info logs an info message with optional fields.
func (l *Logger) Info(msg string, fields ...interface{}) {
	l.emit(log.Info(), msg, fields)
}

// Debug logs a debug message with optional fields.
func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.emit(log.Debug(), msg, fields)
}

// emit attaches the component and key-value pairs, then writes the event.
func (l *Logger) emit(event *zerolog.Event, msg string, fields []interface{}) {
	if l.component != "" {
		event = event.Str("component", l.component)
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, fields[i+1])
	}
	event.Msg(msg)
}

// ParseLevel maps a config log level onto zerolog's levels.
func ParseLevel(level string) (zerolog.Level, bool) {
	switch level {
	case "debug":
		return zerolog.DebugLevel, true
	case "info", "":
		return zerolog.InfoLevel, true
	case "warn":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	}
	return zerolog.NoLevel, false
}
