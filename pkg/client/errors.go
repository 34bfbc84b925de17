package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when a bounded retry policy runs out of attempts.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during a retry wait.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass classifies upstream request failures.
type ErrorClass string

const (
	// ErrorClassNetwork represents transport failures (connection, timeout).
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassStatus represents non-2xx HTTP responses.
	ErrorClassStatus ErrorClass = "status"

	// ErrorClassDecode represents malformed response bodies on a 2xx response.
	ErrorClassDecode ErrorClass = "decode"
)

// APIError is an upstream request failure with its classification.
//
// Every class is transient from the pipeline's point of view: the upstream
// service intermittently returns 429s and garbled bodies under load, so the
// class drives metrics and retry pacing, never an early abort.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// NewDecodeError wraps a body-parsing failure so callers can distinguish a
// malformed 200 response from a transport failure.
func NewDecodeError(err error) *APIError {
	return &APIError{
		StatusCode: 200,
		Class:      ErrorClassDecode,
		Message:    "malformed response body",
		Err:        err,
	}
}

// IsDecodeError reports whether err is a malformed-body failure.
func IsDecodeError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Class == ErrorClassDecode
}
