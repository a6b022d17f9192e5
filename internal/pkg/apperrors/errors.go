package apperrors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// Resource errors
	ErrResourceNotFound = errors.New("resource not found")
	ErrConflict         = errors.New("conflict")

	// Authentication errors
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenInvalid  = errors.New("invalid token")
	ErrInvalidFormat = errors.New("invalid token format")

	// Authorization errors
	ErrPermissionDenied = errors.New("permission denied")

	// Storage errors (database, cache, blob store)
	ErrStorageFailure = errors.New("storage failure")
)

// Message errors
var (
	ErrInvalidPayload = errors.New("invalid message payload")
)

// Poll errors
var (
	ErrInvalidPoll   = errors.New("invalid poll")
	ErrInvalidOption = errors.New("invalid poll option")
	ErrPollExpired   = errors.New("poll expired")
)

// NewResourceNotFoundError creates a new custom error for resource not found with a message
func NewResourceNotFoundError(message string) error {
	return &CustomError{
		Err:     ErrResourceNotFound,
		Message: message,
	}
}

// NewConflictError reports a write that clashes with an existing record
func NewConflictError(message string) error {
	return &CustomError{
		Err:     ErrConflict,
		Message: message,
	}
}

// NewForbiddenError creates a new custom error for permission denied with a message
func NewForbiddenError(message string) error {
	return &CustomError{
		Err:     ErrPermissionDenied,
		Message: message,
	}
}

// NewInvalidPayloadError reports an empty or malformed send
func NewInvalidPayloadError(message string) error {
	return &CustomError{
		Err:     ErrInvalidPayload,
		Message: message,
	}
}

// NewInvalidPollError reports a poll that fails validation
func NewInvalidPollError(message string) error {
	return &CustomError{
		Err:     ErrInvalidPoll,
		Message: message,
	}
}

// NewInvalidOptionError reports an out-of-range vote
func NewInvalidOptionError(index, optionCount int) error {
	return &CustomError{
		Err:     ErrInvalidOption,
		Message: fmt.Sprintf("option index %d is outside [0, %d)", index, optionCount),
		Details: map[string]interface{}{"optionIndex": index, "optionCount": optionCount},
	}
}

// NewPollExpiredError reports a vote on a closed poll
func NewPollExpiredError() error {
	return &CustomError{
		Err:     ErrPollExpired,
		Message: "poll is closed for voting",
	}
}

// NewStorageError wraps an error from the store so that both ErrStorageFailure
// and the original cause match with errors.Is.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	// Typed errors raised inside a transaction pass through untouched.
	var custom *CustomError
	if errors.As(err, &custom) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
}

// Is returns whether target matches any of the errors in errList
func Is(err, target error, errList ...error) bool {
	if errors.Is(err, target) {
		return true
	}

	for _, e := range errList {
		if errors.Is(err, e) {
			return true
		}
	}

	return false
}

// CustomError represents application-specific errors with additional context
type CustomError struct {
	Err     error
	Message string
	Code    string
	Details map[string]interface{}
}

// Error implements error interface
func (e *CustomError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

// Unwrap implements errors.Unwrap interface
func (e *CustomError) Unwrap() error {
	return e.Err
}

// WithDetails adds context details to the error
func (e *CustomError) WithDetails(details map[string]interface{}) *CustomError {
	e.Details = details
	return e
}

// WithCode adds an error code
func (e *CustomError) WithCode(code string) *CustomError {
	e.Code = code
	return e
}
