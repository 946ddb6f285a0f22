// Package errors provides standardized error handling patterns for SyConn
// pipeline components. It includes error classification, standard error
// variables, and helper functions for consistent error wrapping and
// classification across the system.
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
	// ErrorTransient represents temporary errors that may be recovered
	// locally (a classifier collaborator timing out, storage briefly
	// unavailable). The pipeline annotates and proceeds.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that abort the run; no
	// partial partition derived from inconsistent input is trustworthy.
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

// Standard error variables for common conditions
var (
	// Input consistency errors. All of these abort the run when raised
	// during registry sealing or graph construction.
	ErrUnregisteredSupervoxel = errors.New("contact references unregistered supervoxel")
	ErrDuplicateSupervoxel    = errors.New("supervoxel id already registered")
	ErrScoreOutOfRange        = errors.New("score outside [0,1]")
	ErrNegativeQuantity       = errors.New("negative size or area")
	ErrSelfContact            = errors.New("contact edge references a single supervoxel")
	ErrRegistrySealed         = errors.New("registry already sealed")
	ErrRegistryNotSealed      = errors.New("registry not sealed")

	// Partition and splitting errors
	ErrPartitionViolated = errors.New("partition invariant violated")
	ErrUnresolvedGlia    = errors.New("objects with unresolved glia identity remain")
	ErrSplitCapReached   = errors.New("split iteration cap reached")

	// Classifier collaborator errors. Always recovered as neutral labels.
	ErrClassifierUnavailable = errors.New("classifier collaborator unavailable")
	ErrNoClassification      = errors.New("no classification result for object")

	// Storage and persistence errors
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrSnapshotNotFound   = errors.New("snapshot not found")
	ErrKeyNotFound        = errors.New("key not found")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrShuttingDown   = errors.New("component is shutting down")
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

// IsTransient checks if an error is transient and may be recovered locally
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Check for classified error
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	// Check for known transient errors
	if errors.Is(err, ErrClassifierUnavailable) ||
		errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	// Check error message for common transient patterns
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection",
		"temporary",
		"unavailable",
		"busy",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should abort the run
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	// Check for classified error
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	// Check for known fatal errors
	if errors.Is(err, ErrUnregisteredSupervoxel) ||
		errors.Is(err, ErrDuplicateSupervoxel) ||
		errors.Is(err, ErrScoreOutOfRange) ||
		errors.Is(err, ErrNegativeQuantity) ||
		errors.Is(err, ErrPartitionViolated) ||
		errors.Is(err, ErrUnresolvedGlia) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) {
		return true
	}

	return false
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	// Check for classified error
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	// Check for known invalid errors
	if errors.Is(err, ErrSelfContact) ||
		errors.Is(err, ErrRegistrySealed) ||
		errors.Is(err, ErrRegistryNotSealed) {
		return true
	}

	return false
}

// IsInputInconsistency reports whether an error stems from malformed or
// referentially broken input data. These always abort the run.
func IsInputInconsistency(err error) bool {
	return errors.Is(err, ErrUnregisteredSupervoxel) ||
		errors.Is(err, ErrDuplicateSupervoxel) ||
		errors.Is(err, ErrScoreOutOfRange) ||
		errors.Is(err, ErrNegativeQuantity) ||
		errors.Is(err, ErrSelfContact)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient // Default for nil
	}

	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}
	if IsTransient(err) {
		return ErrorTransient
	}

	// Default to transient for unknown errors so soft-failure paths can
	// annotate and proceed
	return ErrorTransient
}

// newClassified creates a new classified error
// This is an internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
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

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}
