package fdl

import (
	"errors"
	"fmt"
)

// Framing error kinds
var (
	ErrFormat     = errors.New("invalid FDL packet format")
	ErrLength     = errors.New("invalid FDL packet length")
	ErrDelimiter  = errors.New("invalid delimiter")
	ErrChecksum   = errors.New("checksum mismatch")
	ErrDataLength = errors.New("invalid data length")
	ErrExtension  = errors.New("invalid address extension")
)

// Error is a framing error raised while building or parsing a telegram.
// Kind is one of the Err* values above and is matched with errors.Is.
type Error struct {
	Kind   error
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return "fdl: " + e.Kind.Error()
	}
	return "fdl: " + e.Kind.Error() + ": " + e.Detail
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// IsFramingError reports whether err is (or wraps) an *Error
func IsFramingError(err error) bool {
	var fe *Error
	return errors.As(err, &fe)
}
