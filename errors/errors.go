// Package errors provides the error classification used across the gateway.
// Every failure that crosses a component boundary is wrapped with its component,
// operation and class so that the dispatch loop, the HTTP router and the process
// bootstrap can decide how to react without string matching.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried.
	// Message processing failures land here by default.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration.
	// A message failing with this class is refused and acknowledged.
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
	// ErrorTimeout represents a wait that ran out of time
	ErrorTimeout
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	case ErrorTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Connection and networking errors
	ErrNoConnection       = errors.New("no connection available")
	ErrConnectionLost     = errors.New("connection lost")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrSubscriptionFailed = errors.New("subscription failed")

	// Data processing errors
	ErrInvalidData   = errors.New("invalid data format")
	ErrMissingField  = errors.New("missing required field")
	ErrParsingFailed = errors.New("parsing failed")
	ErrRefused       = errors.New("message refused")

	// Streams and storage
	ErrStreamNotFound  = errors.New("no stream covers subject")
	ErrStreamConflict  = errors.New("stream name already taken")
	ErrBucketNotFound  = errors.New("bucket not found")
	ErrKeyNotFound     = errors.New("key not found")
	ErrProvisionDenied = errors.New("stream auto-creation disabled")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Waiting
	ErrTimeout = errors.New("timed out")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
	// Detail is an optional structured description attached by handlers
	// refusing a message. It is published alongside the error text.
	Detail any
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if class, ok := classOf(err); ok {
		return class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection", "network", "temporary", "unavailable"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if class, ok := classOf(err); ok {
		return class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrStreamConflict) ||
		errors.Is(err, ErrProvisionDenied)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	if class, ok := classOf(err); ok {
		return class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrParsingFailed) ||
		errors.Is(err, ErrRefused)
}

// IsTimeout checks if an error reports an expired wait
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}

	if class, ok := classOf(err); ok {
		return class == ErrorTimeout
	}

	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// Classify returns the error class for an error.
// Explicit classification wins; unknown errors are transient.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	if class, ok := classOf(err); ok {
		return class
	}

	switch {
	case IsTimeout(err):
		return ErrorTimeout
	case IsInvalid(err):
		return ErrorInvalid
	case IsFatal(err):
		return ErrorFatal
	default:
		return ErrorTransient
	}
}

// DetailOf returns the structured detail attached to a classified error, if any.
func DetailOf(err error) any {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Detail
	}
	return nil
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

func wrapClassified(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	ce := newClassified(class, wrappedErr, component, method, wrappedErr.Error())
	ce.Detail = DetailOf(err)
	return ce
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	return wrapClassified(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	return wrapClassified(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	return wrapClassified(ErrorInvalid, err, component, method, action)
}

// WrapTimeout wraps an error as an expired wait with context
func WrapTimeout(err error, component, method, action string) error {
	return wrapClassified(ErrorTimeout, err, component, method, action)
}

// Refuse builds the error a handler returns when it rejects a message as
// malformed or unacceptable. The message is acknowledged and reported, never
// retried. detail, when non-nil, is published as the structured error body.
func Refuse(message string, detail any) error {
	return &ClassifiedError{
		Class:   ErrorInvalid,
		Err:     ErrRefused,
		Message: message,
		Detail:  detail,
	}
}
