package upstream

import (
	"errors"
	"fmt"
)

// ErrorKind separates deadline expiry from every other failure.
type ErrorKind string

const (
	KindTimeout   ErrorKind = "timeout"
	KindTransport ErrorKind = "transport"
)

var (
	// ErrTimeout marks a call abandoned because the deadline elapsed.
	ErrTimeout = errors.New("upstream deadline exceeded")
	// ErrNotConfigured is returned when no API key is configured.
	ErrNotConfigured = errors.New("upstream api key not configured")
)

// Error describes a call that produced no upstream response.
type Error struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a deadline expiry from Complete.
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTimeout
}
