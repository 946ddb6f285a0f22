package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"classifier unavailable", ErrClassifierUnavailable, true},
		{"storage unavailable", ErrStorageUnavailable, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"unregistered supervoxel", ErrUnregisteredSupervoxel, false},
		{"score out of range", ErrScoreOutOfRange, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"missing config", ErrMissingConfig, true},
		{"unregistered supervoxel", ErrUnregisteredSupervoxel, true},
		{"duplicate supervoxel", ErrDuplicateSupervoxel, true},
		{"score out of range", ErrScoreOutOfRange, true},
		{"negative quantity", ErrNegativeQuantity, true},
		{"partition violated", ErrPartitionViolated, true},
		{"unresolved glia", ErrUnresolvedGlia, true},
		{"classifier unavailable", ErrClassifierUnavailable, false},
		{"split cap reached", ErrSplitCapReached, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsFatal(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"self contact", ErrSelfContact, true},
		{"registry sealed", ErrRegistrySealed, true},
		{"registry not sealed", ErrRegistryNotSealed, true},
		{"unregistered supervoxel", ErrUnregisteredSupervoxel, false},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsInvalid(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInputInconsistency(t *testing.T) {
	inconsistent := []error{
		ErrUnregisteredSupervoxel,
		ErrDuplicateSupervoxel,
		ErrScoreOutOfRange,
		ErrNegativeQuantity,
		ErrSelfContact,
	}
	for _, err := range inconsistent {
		if !IsInputInconsistency(err) {
			t.Errorf("expected %v to be an input inconsistency", err)
		}
	}

	// Wrapped sentinels still classify
	wrapped := WrapFatal(ErrUnregisteredSupervoxel, "Registry", "Seal", "validate contacts")
	if !IsInputInconsistency(wrapped) {
		t.Errorf("expected wrapped sentinel to classify as input inconsistency")
	}

	if IsInputInconsistency(ErrUnresolvedGlia) {
		t.Error("ErrUnresolvedGlia is not an input inconsistency")
	}
	if IsInputInconsistency(nil) {
		t.Error("nil is not an input inconsistency")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil error", nil, ErrorTransient},
		{"fatal sentinel", ErrPartitionViolated, ErrorFatal},
		{"invalid sentinel", ErrRegistrySealed, ErrorInvalid},
		{"transient sentinel", ErrClassifierUnavailable, ErrorTransient},
		{"unknown error", fmt.Errorf("something odd"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := Classify(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v", test.expected, result)
			}
		})
	}
}

func TestWrapFunctions(t *testing.T) {
	baseErr := fmt.Errorf("base error")

	t.Run("Wrap format", func(t *testing.T) {
		wrapped := Wrap(baseErr, "Builder", "Build", "union merge")
		expected := "Builder.Build: union merge failed: base error"
		if wrapped.Error() != expected {
			t.Errorf("expected %q, got %q", expected, wrapped.Error())
		}
		if !errors.Is(wrapped, baseErr) {
			t.Error("wrapped error should unwrap to base error")
		}
	})

	t.Run("Wrap nil", func(t *testing.T) {
		if Wrap(nil, "C", "M", "a") != nil {
			t.Error("wrapping nil should return nil")
		}
		if WrapTransient(nil, "C", "M", "a") != nil {
			t.Error("WrapTransient(nil) should return nil")
		}
		if WrapFatal(nil, "C", "M", "a") != nil {
			t.Error("WrapFatal(nil) should return nil")
		}
		if WrapInvalid(nil, "C", "M", "a") != nil {
			t.Error("WrapInvalid(nil) should return nil")
		}
	})

	t.Run("classification preserved", func(t *testing.T) {
		transient := WrapTransient(baseErr, "Attacher", "Attach", "invoke classifier")
		if !IsTransient(transient) {
			t.Error("WrapTransient result should be transient")
		}

		fatal := WrapFatal(baseErr, "Registry", "Seal", "validate")
		if !IsFatal(fatal) {
			t.Error("WrapFatal result should be fatal")
		}

		invalid := WrapInvalid(baseErr, "Config", "Validate", "thresholds")
		if !IsInvalid(invalid) {
			t.Error("WrapInvalid result should be invalid")
		}
	})

	t.Run("component context retained", func(t *testing.T) {
		err := WrapFatal(baseErr, "Registry", "Seal", "validate")
		var ce *ClassifiedError
		if !errors.As(err, &ce) {
			t.Fatal("expected ClassifiedError")
		}
		if ce.Component != "Registry" || ce.Operation != "Seal" {
			t.Errorf("unexpected context: %s.%s", ce.Component, ce.Operation)
		}
		if !strings.Contains(ce.Message, "validate failed") {
			t.Errorf("message missing action: %s", ce.Message)
		}
	})
}
