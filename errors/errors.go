// Package errors provides standardized error handling for CoE-Backend
// components: classification into transient/invalid/fatal, standard error
// variables, and helpers for consistent wrapping across the gateway.
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
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
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
	default:
		return "unknown"
	}
}

// Standard error variables for common gateway conditions
var (
	// Service lifecycle errors
	ErrAlreadyStarted = errors.New("service already started")
	ErrNotStarted     = errors.New("service not started")
	ErrShuttingDown   = errors.New("service is shutting down")

	// Connection errors
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")

	// Flow and route errors
	ErrFlowNotFound  = errors.New("flow not found")
	ErrFlowExists    = errors.New("flow already exists")
	ErrRouteExists   = errors.New("route already registered")
	ErrRouteNotFound = errors.New("route not found")

	// Data errors
	ErrInvalidData   = errors.New("invalid data format")
	ErrParsingFailed = errors.New("parsing failed")
	ErrKeyNotFound   = errors.New("key not found")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

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
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Common transient patterns from transport-level errors
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "unavailable", "busy", "retry"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrParsingFailed) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrMissingConfig)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	switch {
	case IsFatal(err):
		return ErrorFatal
	case IsInvalid(err):
		return ErrorInvalid
	default:
		return ErrorTransient
	}
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text
func New(text string) error {
	return errors.New(text)
}

// Wrap adds component and operation context to an error without classifying it
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return fmt.Errorf("%s.%s: %s", component, method, action)
	}
	return fmt.Errorf("%s.%s: %s: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with component context
func WrapTransient(err error, component, method, action string) error {
	wrapped := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrapped, component, method)
}

// WrapInvalid wraps an error as invalid with component context
func WrapInvalid(err error, component, method, action string) error {
	wrapped := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrapped, component, method)
}

// WrapFatal wraps an error as fatal with component context
func WrapFatal(err error, component, method, action string) error {
	wrapped := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrapped, component, method)
}

func newClassified(class ErrorClass, err error, component, operation string) error {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   err.Error(),
		Component: component,
		Operation: operation,
	}
}
