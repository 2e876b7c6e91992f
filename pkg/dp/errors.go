package dp

import (
	"errors"
	"fmt"
)

// Error is a DP protocol error: bad addresses, unexpected service access
// points, reply type mismatches and fatal timeouts.
type Error struct {
	msg string
	err error
}

// Errorf builds a protocol error. A %w verb keeps the wrapped error
// reachable through errors.Is and errors.As.
func Errorf(format string, args ...interface{}) error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{msg: wrapped.Error(), err: errors.Unwrap(wrapped)}
}

func (e *Error) Error() string {
	return "dp: " + e.msg
}

func (e *Error) Unwrap() error {
	return e.err
}

// IsProtocolError reports whether err is (or wraps) an *Error
func IsProtocolError(err error) bool {
	var de *Error
	return errors.As(err, &de)
}
