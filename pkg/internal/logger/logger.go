package logger

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Level represents logging level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns string representation of Level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// logrusLevel maps Level onto the logrus level scale
func (l Level) logrusLevel() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger is the interface for logging
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	SetLevel(level Level)
}

// DefaultLogger is a logrus backed logger implementation
type DefaultLogger struct {
	entry *logrus.Entry
}

// NewDefaultLogger creates a new default logger writing to stdout
func NewDefaultLogger(level Level) *DefaultLogger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(level.logrusLevel())
	return &DefaultLogger{entry: logrus.NewEntry(l)}
}

// WithComponent returns a logger tagging every entry with the component name
func (l *DefaultLogger) WithComponent(name string) *DefaultLogger {
	return &DefaultLogger{entry: l.entry.WithField("component", name)}
}

// Debug logs debug message
func (l *DefaultLogger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

// Info logs info message
func (l *DefaultLogger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// Warn logs warning message
func (l *DefaultLogger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// Error logs error message
func (l *DefaultLogger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// SetLevel sets the logging level
func (l *DefaultLogger) SetLevel(level Level) {
	l.entry.Logger.SetLevel(level.logrusLevel())
}

// NoOpLogger is a logger that doesn't log anything
type NoOpLogger struct{}

// NewNoOpLogger creates a logger that doesn't log
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Debug does nothing
func (l *NoOpLogger) Debug(format string, args ...interface{}) {}

// Info does nothing
func (l *NoOpLogger) Info(format string, args ...interface{}) {}

// Warn does nothing
func (l *NoOpLogger) Warn(format string, args ...interface{}) {}

// Error does nothing
func (l *NoOpLogger) Error(format string, args ...interface{}) {}

// SetLevel does nothing
func (l *NoOpLogger) SetLevel(level Level) {}

// Global default logger
var defaultLogger Logger = NewDefaultLogger(LevelInfo)

// Frame hex dumps are off unless explicitly requested
var frameDebug atomic.Bool

// SetDefault sets the default logger
func SetDefault(logger Logger) {
	defaultLogger = logger
}

// GetDefault returns the default logger
func GetDefault() Logger {
	return defaultLogger
}

// SetFrameDebug enables hex dumps of raw telegrams at debug level
func SetFrameDebug(enable bool) {
	frameDebug.Store(enable)
}

// FrameDebug reports whether raw telegram dumps are enabled
func FrameDebug() bool {
	return frameDebug.Load()
}

// OrNoOp returns log, or a no-op logger when log is nil
func OrNoOp(log Logger) Logger {
	if log == nil {
		return NewNoOpLogger()
	}
	return log
}

// Helper functions using default logger

// Debug logs debug message using default logger
func Debug(format string, args ...interface{}) {
	defaultLogger.Debug(format, args...)
}

// Info logs info message using default logger
func Info(format string, args ...interface{}) {
	defaultLogger.Info(format, args...)
}

// Warn logs warning message using default logger
func Warn(format string, args ...interface{}) {
	defaultLogger.Warn(format, args...)
}

// Error logs error message using default logger
func Error(format string, args ...interface{}) {
	defaultLogger.Error(format, args...)
}

// Logf is a generic logging function
func Logf(level Level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	switch level {
	case LevelDebug:
		defaultLogger.Debug("%s", msg)
	case LevelInfo:
		defaultLogger.Info("%s", msg)
	case LevelWarn:
		defaultLogger.Warn("%s", msg)
	case LevelError:
		defaultLogger.Error("%s", msg)
	}
}
