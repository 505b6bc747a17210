package jwtx

import (
	"errors"
	"fmt"
)

// ErrorCode represents verification failure categories.
type ErrorCode string

const (
	ErrCodeInvalidToken      ErrorCode = "invalid_token"
	ErrCodeExpired           ErrorCode = "token_expired"
	ErrCodeNotYetValid       ErrorCode = "token_not_yet_valid"
	ErrCodeInvalidSubject    ErrorCode = "invalid_subject"
	ErrCodeInvalidIssuer     ErrorCode = "invalid_issuer"
	ErrCodeInvalidAudience   ErrorCode = "invalid_audience"
	ErrCodeInvalidAuthTime   ErrorCode = "invalid_auth_time"
	ErrCodeUnknownSigningKey ErrorCode = "unknown_signing_key"
	ErrCodeInvalidSignature  ErrorCode = "invalid_signature"
	ErrCodeKeysUnavailable   ErrorCode = "keys_unavailable"
)

var errorMessages = map[ErrorCode]string{
	ErrCodeInvalidToken:      "Invalid token format",
	ErrCodeExpired:           "Token expired",
	ErrCodeNotYetValid:       "Token issued in the future",
	ErrCodeInvalidSubject:    "Invalid subject",
	ErrCodeInvalidIssuer:     "Invalid issuer",
	ErrCodeInvalidAudience:   "Invalid audience",
	ErrCodeInvalidAuthTime:   "Invalid auth time",
	ErrCodeUnknownSigningKey: "Unknown signing key",
	ErrCodeInvalidSignature:  "Invalid signature",
	ErrCodeKeysUnavailable:   "Signing keys unavailable",
}

// Error wraps verification errors with a stable code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Message
	if base == "" {
		base = string(e.Code)
	}
	if e.Err == nil {
		return base
	}
	return fmt.Sprintf("%s: %v", base, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, err error) error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = string(code)
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf extracts the failure code from err, or "" when err is not a verification error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
