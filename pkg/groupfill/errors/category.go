// Package errors provides the error taxonomy for backfill runs.
//
// The package implements a layered error handling approach:
//   - Categorization: classify remote failures for retry decisions
//   - Typed errors: carry status codes and validation context
//   - Sentinels: fast-fail conditions (circuit open, aborted runs)
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how a remote-call error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: rate limits, timeouts, temporary network issues, 5xx.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	// Examples: authentication failures, missing records, validation rejections.
	CategoryPermanent
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ClassifyFunc maps an error to a Category. The remote client supplies one;
// the retry executor is otherwise domain-agnostic.
type ClassifyFunc func(error) Category

// ClassifiedError wraps an error with its category and attempt context.
type ClassifiedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Attempts is the number of attempts that were made.
	Attempts int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Attempts)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Attempts)
}

// Unwrap returns the underlying error.
func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Transient creates a transient classified error.
func Transient(err error, context string) *ClassifiedError {
	return &ClassifiedError{Err: err, Category: CategoryTransient, Context: context}
}

// Permanent creates a permanent classified error.
func Permanent(err error, context string) *ClassifiedError {
	return &ClassifiedError{Err: err, Category: CategoryPermanent, Context: context}
}

// Classify determines how an error should be handled.
// It is the default ClassifyFunc when the remote client does not supply one.
func Classify(err error) Category {
	if err == nil {
		return CategoryPermanent // shouldn't happen, fail safe
	}

	// Already-classified errors keep their category
	var clsErr *ClassifiedError
	if errors.As(err, &clsErr) {
		return clsErr.Category
	}

	// HTTP status codes from the remote client
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 429:
			return CategoryTransient
		case httpErr.StatusCode >= 500:
			return CategoryTransient
		default:
			return CategoryPermanent
		}
	}

	// Per-attempt deadline expiry retries; run-level cancellation does not
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}
	if errors.Is(err, context.Canceled) {
		return CategoryPermanent
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return CategoryTransient
	}

	// Unknown errors are permanent (fail safe)
	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Classify(err) == CategoryTransient
}
