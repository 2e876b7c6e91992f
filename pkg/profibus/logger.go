package profibus

import (
	"avaneesh/profibus-go/pkg/internal/logger"
)

// LogLevel represents logging level
type LogLevel int

const (
	// LevelDebug shows all log messages (most verbose)
	LevelDebug LogLevel = iota
	// LevelInfo shows info, warn, and error messages (default)
	LevelInfo
	// LevelWarn shows warn and error messages
	LevelWarn
	// LevelError shows only error messages
	LevelError
)

// SetLogLevel sets the global logging level
func SetLogLevel(level LogLevel) {
	logger.SetDefault(logger.NewDefaultLogger(logger.Level(level)))
}

// EnableFrameDebug enables or disables telegram tracing.
// When enabled, every FDL telegram sent and received is logged at debug level.
func EnableFrameDebug(enable bool) {
	logger.SetFrameDebug(enable)
}
