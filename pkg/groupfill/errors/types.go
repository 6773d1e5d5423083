package errors

import (
	"fmt"
	"time"
)

// HTTPError represents a remote API error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("HTTP %d at %s: %s", e.StatusCode, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// ValidationError indicates a record failed pre-submission validation.
// Validation failures are recovered locally as skipped items, never retried.
type ValidationError struct {
	RecordID string
	Field    string
	Message  string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on %s field %s: %s", e.RecordID, e.Field, e.Message)
	}
	return fmt.Sprintf("validation error on %s: %s", e.RecordID, e.Message)
}

// MismatchError indicates the post-submission integrity check failed:
// the server's reported value does not match the intended target.
type MismatchError struct {
	RecordID string
	Want     string
	Got      string
}

// Error implements the error interface.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("integrity mismatch on %s: want %q, got %q", e.RecordID, e.Want, e.Got)
}

// TimeoutError indicates a remote operation timed out.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s: %s", e.Duration, e.Operation)
}
