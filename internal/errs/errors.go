package errs

import (
	"errors"
	"fmt"
)

// Category classifies failures so callers can decide between aborting, dropping, or retrying
type Category string

const (
	CategoryConfiguration      Category = "CONFIGURATION"
	CategoryValidationRejected Category = "VALIDATION_REJECTED"
	CategoryRiskViolation      Category = "RISK_VIOLATION"
	CategoryGeneratorFailure   Category = "GENERATOR_FAILURE"
	CategoryStorageFailure     Category = "STORAGE_FAILURE"
	CategoryStaleData          Category = "STALE_DATA"
	CategoryNotFound           Category = "NOT_FOUND"
)

// ErrNotFound is returned by lookups that match nothing
var ErrNotFound = errors.New("not found")

// Error is a categorized error with component/operation context
type Error struct {
	Category   Category
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]any
	Retryable  bool
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Underlying
}

// WithContext attaches a key/value pair for diagnostics
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRetryable overrides the category's default retry policy
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// New creates a categorized error
func New(category Category, component, operation, message string) *Error {
	return &Error{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Retryable: retryableByDefault(category),
	}
}

// Newf is New with a formatted message
func Newf(category Category, component, operation, format string, args ...any) *Error {
	return New(category, component, operation, fmt.Sprintf(format, args...))
}

// Wrap wraps err with category context. Returns nil for a nil err.
func Wrap(err error, category Category, component, operation string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Retryable:  retryableByDefault(category),
	}
}

// CategoryOf returns the category of the first *Error in err's chain
func CategoryOf(err error) (Category, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Category, true
	}
	return "", false
}

// IsCategory reports whether err carries the given category
func IsCategory(err error, category Category) bool {
	c, ok := CategoryOf(err)
	return ok && c == category
}

// IsRetryable reports whether err is marked retryable
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsFatal reports whether err must stop the process
func IsFatal(err error) bool {
	return IsCategory(err, CategoryConfiguration)
}

func retryableByDefault(category Category) bool {
	switch category {
	case CategoryStorageFailure:
		return true
	default:
		return false
	}
}
