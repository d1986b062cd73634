// Package errors provides the error taxonomy shared by the write layer, the
// search façade and the entity services.
//
// Errors are classified rather than typed per call site. A [ClassifiedError]
// carries its [ErrorClass] and matches the class sentinel with [errors.Is], so
// callers can write
//
//	if errors.Is(err, lmserrors.ErrStoreUnavailable) { retry() }
//
// A conditional write whose predicate does not hold is not an error at all; it
// is reported as applied=false by the executor.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents store or transport failures that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents malformed input rejected before any store call
	ErrorInvalid
	// ErrorNotFound represents a point lookup that found no record
	ErrorNotFound
	// ErrorForbidden represents a caller that does not own the record it targets
	ErrorForbidden
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorNotFound:
		return "not_found"
	case ErrorForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Class sentinels. A ClassifiedError matches the sentinel of its class.
var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
)

func (ec ErrorClass) sentinel() error {
	switch ec {
	case ErrorTransient:
		return ErrStoreUnavailable
	case ErrorInvalid:
		return ErrValidation
	case ErrorNotFound:
		return ErrNotFound
	case ErrorForbidden:
		return ErrForbidden
	default:
		return nil
	}
}

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	if ce.Err == nil {
		return ce.Class.String()
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Is reports whether target is the sentinel of this error's class.
func (ce *ClassifiedError) Is(target error) bool {
	s := ce.Class.sentinel()
	return s != nil && target == s
}

func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps a store or transport failure as StoreUnavailable.
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	if isClass(err, ErrorTransient) {
		return err
	}
	wrapped := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrapped, component, method, wrapped.Error())
}

// WrapInvalid wraps an input error as ValidationFailed.
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrapped, component, method, wrapped.Error())
}

// Invalid returns a ValidationFailed error with a formatted message.
func Invalid(component, method, format string, args ...any) error {
	msg := fmt.Sprintf("%s.%s: %s", component, method, fmt.Sprintf(format, args...))
	return newClassified(ErrorInvalid, nil, component, method, msg)
}

// NotFound returns a NotFound error naming what was looked up.
func NotFound(component, method, what string) error {
	msg := fmt.Sprintf("%s.%s: %s not found", component, method, what)
	return newClassified(ErrorNotFound, nil, component, method, msg)
}

// Forbidden returns a Forbidden error with the given reason.
func Forbidden(component, method, reason string) error {
	msg := fmt.Sprintf("%s.%s: %s", component, method, reason)
	return newClassified(ErrorForbidden, nil, component, method, msg)
}

func isClass(err error, class ErrorClass) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == class
	}
	return false
}

// IsTransient checks if an error is transient and safe to retry
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if isClass(err, ErrorTransient) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrStoreUnavailable)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	var fe FieldErrors
	if errors.As(err, &fe) {
		return true
	}
	return isClass(err, ErrorInvalid) || errors.Is(err, ErrValidation)
}

// IsNotFound checks if an error reports a missing record
func IsNotFound(err error) bool {
	return err != nil && (isClass(err, ErrorNotFound) || errors.Is(err, ErrNotFound))
}

// IsForbidden checks if an error reports an ownership violation
func IsForbidden(err error) bool {
	return err != nil && (isClass(err, ErrorForbidden) || errors.Is(err, ErrForbidden))
}

// FieldErrors is a field-keyed set of validation messages, e.g. the result of
// a uniqueness pre-check. It matches ErrValidation.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	fields := make([]string, 0, len(fe))
	for f := range fe {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+fe[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (fe FieldErrors) Is(target error) bool {
	return target == ErrValidation
}

// HTTPStatus maps an error to the status code the HTTP layer should answer
// with. A nil error maps to 200.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsInvalid(err):
		return http.StatusBadRequest
	case IsForbidden(err):
		return http.StatusForbidden
	case IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// GenericMessage is returned for unexpected errors in production.
const GenericMessage = "Unexpected error occurred, please try again"

// PublicMessage returns the message safe to show to a client. Unexpected
// errors are hidden behind GenericMessage in production.
func PublicMessage(err error, production bool) string {
	if err == nil {
		return ""
	}
	if HTTPStatus(err) == http.StatusInternalServerError && production {
		return GenericMessage
	}
	return err.Error()
}
