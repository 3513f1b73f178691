// Package logger provides structured logging built on logrus.
package logger

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Level is the minimum severity the logger emits.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the config-file spelling of a level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "info"
	}
}

// logrusLevel maps a Level onto the backing logrus level.
func (l Level) logrusLevel() logrus.Level {
	switch l {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLevel maps a config string onto a Level, case-insensitively.
// Unrecognized values fall back to info.
func ParseLevel(levelStr string) Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// LogField represents a structured log field with concrete types
type LogField struct {
	Key   string
	Value string
}

// Logger interface with simplified, focused methods
type Logger interface {
	Info(msg string, fields ...LogField)
	Error(msg string, fields ...LogField)
	Debug(msg string, fields ...LogField)
	Warn(msg string, fields ...LogField)
	WithFields(fields ...LogField) Logger
}

// Config represents logger configuration
type Config struct {
	Level   Level
	Format  string
	Service string
	Output  io.Writer // Optional: defaults to os.Stdout if nil
}

// logger implements the Logger interface
type logger struct {
	logrus  *logrus.Logger
	fields  []LogField
	service string
}

// NewLogger creates a new logger instance with the given configuration
func NewLogger(config Config) Logger {
	logrusLogger := logrus.New()

	// Set formatter
	if config.Format == "text" {
		logrusLogger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logrusLogger.SetFormatter(&logrus.JSONFormatter{})
	}

	// Set output (default to stdout if not specified)
	if config.Output != nil {
		logrusLogger.SetOutput(config.Output)
	} else {
		logrusLogger.SetOutput(os.Stdout)
	}

	// Set level
	logrusLogger.SetLevel(config.Level.logrusLevel())

	// Add service field if provided
	var serviceFields []LogField
	if config.Service != "" {
		serviceFields = []LogField{{Key: "service", Value: config.Service}}
	}

	return &logger{
		logrus:  logrusLogger,
		fields:  serviceFields,
		service: config.Service,
	}
}

// WithFields returns a new logger with additional fields (immutable)
func (l *logger) WithFields(fields ...LogField) Logger {
	newFields := make([]LogField, 0, len(l.fields)+len(fields))
	newFields = append(newFields, l.fields...)
	newFields = append(newFields, fields...)

	return &logger{
		logrus:  l.logrus,
		fields:  newFields,
		service: l.service,
	}
}

// Info logs an info message with optional fields
func (l *logger) Info(msg string, fields ...LogField) {
	l.log(logrus.InfoLevel, msg, fields...)
}

// Error logs an error message with optional fields
func (l *logger) Error(msg string, fields ...LogField) {
	l.log(logrus.ErrorLevel, msg, fields...)
}

// Debug logs a debug message with optional fields
func (l *logger) Debug(msg string, fields ...LogField) {
	l.log(logrus.DebugLevel, msg, fields...)
}

// Warn logs a warning message with optional fields
func (l *logger) Warn(msg string, fields ...LogField) {
	l.log(logrus.WarnLevel, msg, fields...)
}

// log is the internal logging method
func (l *logger) log(level logrus.Level, msg string, fields ...LogField) {
	allFields := make([]LogField, 0, len(l.fields)+len(fields))
	allFields = append(allFields, l.fields...)
	allFields = append(allFields, fields...)

	logrusFields := make(logrus.Fields, len(allFields))
	for _, field := range allFields {
		logrusFields[field.Key] = field.Value
	}

	entry := l.logrus.WithFields(logrusFields)
	switch level {
	case logrus.InfoLevel:
		entry.Info(msg)
	case logrus.ErrorLevel:
		entry.Error(msg)
	case logrus.DebugLevel:
		entry.Debug(msg)
	case logrus.WarnLevel:
		entry.Warn(msg)
	}
}

// Helper functions for common field types

// StringField returns a LogField for a string value.
func StringField(key, value string) LogField {
	return LogField{Key: key, Value: value}
}

// IntField returns a LogField for an integer value.
func IntField(key string, value int) LogField {
	return LogField{Key: key, Value: strconv.Itoa(value)}
}

// Int64Field returns a LogField for an int64 value.
func Int64Field(key string, value int64) LogField {
	return LogField{Key: key, Value: strconv.FormatInt(value, 10)}
}

// BoolField returns a LogField for a boolean value.
func BoolField(key string, value bool) LogField {
	return LogField{Key: key, Value: strconv.FormatBool(value)}
}

// Float64Field returns a LogField for a float64 value.
func Float64Field(key string, value float64) LogField {
	return LogField{Key: key, Value: strconv.FormatFloat(value, 'f', -1, 64)}
}

// DurationField returns a LogField for a time.Duration value.
func DurationField(key string, value time.Duration) LogField {
	return LogField{Key: key, Value: value.String()}
}

// TimeField returns a LogField for a time.Time value formatted as RFC3339.
func TimeField(key string, value time.Time) LogField {
	return LogField{Key: key, Value: value.Format(time.RFC3339)}
}

// ErrorField returns a LogField for an error value.
func ErrorField(err error) LogField {
	if err == nil {
		return LogField{Key: "error", Value: "<nil>"}
	}
	return LogField{Key: "error", Value: err.Error()}
}

// UserField returns a LogField for a user identifier.
func UserField(userID string) LogField {
	return StringField("user_id", userID)
}

// StageField returns a LogField for a state machine stage.
func StageField(key string, stage fmt.Stringer) LogField {
	return StringField(key, stage.String())
}
