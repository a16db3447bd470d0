package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")

	// ErrSchema marks a malformed extraction schema. Fatal at compile
	// time; never retried.
	ErrSchema = errors.New("schema error")

	// ErrProviderRetryable marks a transient provider failure
	// (timeout, rate limit, 5xx). Retried in place with backoff.
	ErrProviderRetryable = errors.New("retryable provider error")

	// ErrSchemaViolation marks a model payload that does not parse
	// against the compiled validator. Retried with a reformulated prompt.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrRetryLimitExceeded rejects a Retry on a job that has used up
	// its retry budget.
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")

	// ErrInvalidState rejects a Retry on a job that is not failed.
	ErrInvalidState = errors.New("invalid state")

	// ErrTimedOut marks a job that exceeded its wall-clock budget.
	ErrTimedOut = errors.New("timed out")

	// ErrUnavailable marks a document that the ingestion collaborator
	// could not supply. Not a failure: a placeholder is substituted.
	ErrUnavailable = errors.New("document unavailable")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
