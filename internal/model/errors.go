package model

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeStorage indicates a storage operation failed.
	ErrCodeStorage ErrorCode = "STORAGE"

	// ErrCodeRemote indicates a remote call failed after exhausting retries.
	ErrCodeRemote ErrorCode = "REMOTE"

	// ErrCodeValidation indicates a malformed staged payload or request.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeConfiguration indicates missing credential or connection info.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"
)

// Error is the structured error returned by engine components.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the operation that failed (e.g., "stage item").
	Op string

	// Message is a human-readable description. Empty when Err says it all.
	Message string

	// Retryable is set for remote failures classified as transient.
	Retryable bool

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Op, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewStorageError wraps a storage failure.
func NewStorageError(op string, err error) *Error {
	return &Error{Code: ErrCodeStorage, Op: op, Err: err}
}

// NewRemoteError wraps a remote failure after retries are exhausted.
func NewRemoteError(op string, retryable bool, err error) *Error {
	return &Error{Code: ErrCodeRemote, Op: op, Retryable: retryable, Err: err}
}

// NewValidationError reports a malformed payload or request.
func NewValidationError(op, message string) *Error {
	return &Error{Code: ErrCodeValidation, Op: op, Message: message}
}

// WrapValidationError reports a malformed payload with an underlying cause.
func WrapValidationError(op string, err error) *Error {
	return &Error{Code: ErrCodeValidation, Op: op, Err: err}
}

// NewConfigurationError reports missing required configuration.
func NewConfigurationError(message string) *Error {
	return &Error{Code: ErrCodeConfiguration, Message: message}
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsStorage reports whether err is a storage error.
func IsStorage(err error) bool { return hasCode(err, ErrCodeStorage) }

// IsRemote reports whether err is a remote error.
func IsRemote(err error) bool { return hasCode(err, ErrCodeRemote) }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return hasCode(err, ErrCodeValidation) }

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return hasCode(err, ErrCodeConfiguration) }

// IsRetryable reports whether err is a remote error classified as transient.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrCodeRemote && e.Retryable
	}
	return false
}
