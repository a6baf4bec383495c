// Package errs classifies the errors that cross component boundaries so the
// supervisor and dispatcher can decide between retrying, reporting to the
// user and shutting down.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient marks errors that clear up on their own, such as a dropped connection
	ErrorTransient ErrorClass = iota
	// ErrorInvalid marks bad input or configuration
	ErrorInvalid
	// ErrorFatal marks errors that must stop the process
	ErrorFatal
)

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

var (
	// Configuration
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrMissingConfig    = errors.New("missing required configuration")
	ErrDuplicateCommand = errors.New("duplicate command")
	ErrDuplicateUnit    = errors.New("duplicate unit")

	// Connection
	ErrConnectionClosed = errors.New("connection closed")
	ErrNotConnected     = errors.New("not connected")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrHandshake        = errors.New("handshake failed")

	// Lifecycle
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	switch {
	case ce.Component != "" && ce.Operation != "":
		return fmt.Sprintf("%s: %s: %v", ce.Component, ce.Operation, ce.Err)
	case ce.Component != "":
		return fmt.Sprintf("%s: %v", ce.Component, ce.Err)
	default:
		return ce.Err.Error()
	}
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

func classify(class ErrorClass, err error, component, operation string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: class, Err: err, Component: component, Operation: operation}
}

// Transient wraps err as a retryable failure of component/operation.
func Transient(err error, component, operation string) error {
	return classify(ErrorTransient, err, component, operation)
}

// Invalid wraps err as an input or configuration failure.
func Invalid(err error, component, operation string) error {
	return classify(ErrorInvalid, err, component, operation)
}

// Fatal wraps err as unrecoverable.
func Fatal(err error, component, operation string) error {
	return classify(ErrorFatal, err, component, operation)
}

// Class reports the class of err. Unclassified errors are fatal unless they
// are one of the connection sentinels, which are always transient.
func Class(err error) ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	if errors.Is(err, ErrConnectionClosed) || errors.Is(err, ErrNotConnected) {
		return ErrorTransient
	}
	if errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrDuplicateCommand) || errors.Is(err, ErrDuplicateUnit) {
		return ErrorInvalid
	}
	return ErrorFatal
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return Class(err) == ErrorTransient
}

// IsInvalid checks if an error was caused by bad input or configuration
func IsInvalid(err error) bool {
	return err != nil && Class(err) == ErrorInvalid
}

// IsFatal checks if an error must stop processing
func IsFatal(err error) bool {
	return err != nil && Class(err) == ErrorFatal
}
