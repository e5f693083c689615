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
		{ErrorTimeout, "timeout"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			if result := test.class.String(); result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil error", nil, ErrorTransient},
		{"unknown error", fmt.Errorf("handler blew up"), ErrorTransient},
		{"connection lost", ErrConnectionLost, ErrorTransient},
		{"invalid data", ErrInvalidData, ErrorInvalid},
		{"missing field", fmt.Errorf("decode: %w", ErrMissingField), ErrorInvalid},
		{"refusal", Refuse("bad payload", nil), ErrorInvalid},
		{"stream conflict", ErrStreamConflict, ErrorFatal},
		{"deadline", context.DeadlineExceeded, ErrorTimeout},
		{"timeout sentinel", ErrTimeout, ErrorTimeout},
		{"classified wins over sentinel", WrapFatal(ErrInvalidData, "c", "m", "a"), ErrorFatal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := Classify(test.err); result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsHelpers(t *testing.T) {
	invalid := WrapInvalid(ErrMissingField, "Codec", "Decode", "validate envelope")
	if !IsInvalid(invalid) || IsTransient(invalid) || IsFatal(invalid) || IsTimeout(invalid) {
		t.Errorf("invalid error misclassified: %v", invalid)
	}

	// an outer plain wrap keeps the inner class
	outer := fmt.Errorf("dispatch: %w", invalid)
	if !IsInvalid(outer) {
		t.Errorf("expected wrapped invalid error to stay invalid")
	}

	if !IsTransient(fmt.Errorf("network unreachable")) {
		t.Errorf("expected network error to be transient")
	}

	if !IsTimeout(WrapTimeout(ErrTimeout, "Correlator", "Wait", "await reply")) {
		t.Errorf("expected timeout class")
	}

	if IsInvalid(nil) || IsTransient(nil) || IsFatal(nil) || IsTimeout(nil) {
		t.Errorf("nil must not match any class")
	}
}

func TestClassifiedError(t *testing.T) {
	baseErr := fmt.Errorf("base error")
	ce := newClassified(ErrorTransient, baseErr, "testComponent", "testOperation", "custom message")

	if ce.Error() != "custom message" {
		t.Errorf("expected 'custom message', got %s", ce.Error())
	}
	if !errors.Is(ce, baseErr) {
		t.Error("classified error should unwrap to base error")
	}

	bare := newClassified(ErrorTransient, baseErr, "c", "o", "")
	if bare.Error() != "base error" {
		t.Errorf("expected 'base error', got %s", bare.Error())
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "c", "m", "a") != nil {
		t.Error("expected nil for nil error")
	}

	result := Wrap(fmt.Errorf("original error"), "Supervisor", "consume", "open session")
	expected := "Supervisor.consume: open session failed: original error"
	if result == nil || result.Error() != expected {
		t.Errorf("expected '%s', got '%v'", expected, result)
	}
}

func TestWrapClassified(t *testing.T) {
	baseErr := fmt.Errorf("original error")

	tests := []struct {
		name     string
		wrapFunc func(error, string, string, string) error
		class    ErrorClass
	}{
		{"WrapTransient", WrapTransient, ErrorTransient},
		{"WrapFatal", WrapFatal, ErrorFatal},
		{"WrapInvalid", WrapInvalid, ErrorInvalid},
		{"WrapTimeout", WrapTimeout, ErrorTimeout},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if test.wrapFunc(nil, "component", "method", "action") != nil {
				t.Error("expected nil for nil error")
			}

			result := test.wrapFunc(baseErr, "component", "method", "action")

			var ce *ClassifiedError
			if !errors.As(result, &ce) {
				t.Fatal("result should be a ClassifiedError")
			}
			if ce.Class != test.class {
				t.Errorf("expected %v, got %v", test.class, ce.Class)
			}
			if ce.Component != "component" || ce.Operation != "method" {
				t.Errorf("unexpected context %s.%s", ce.Component, ce.Operation)
			}
			if !strings.Contains(ce.Error(), "component.method: action failed") {
				t.Errorf("error should contain standard format, got: %s", ce.Error())
			}
			if !errors.Is(result, baseErr) {
				t.Error("wrapped error should unwrap to base error")
			}
		})
	}
}

func TestRefuseDetail(t *testing.T) {
	detail := map[string]any{"field": "payload", "reason": "not an object"}
	err := Refuse("payload must be an object", detail)

	if err.Error() != "payload must be an object" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, ErrRefused) {
		t.Error("refusal should match ErrRefused")
	}

	got, ok := DetailOf(err).(map[string]any)
	if !ok || got["field"] != "payload" {
		t.Errorf("detail lost: %#v", DetailOf(err))
	}

	// rewrapping keeps the detail
	rewrapped := WrapInvalid(err, "Handler", "Handle", "configure")
	if DetailOf(rewrapped) == nil {
		t.Error("detail should survive classified rewrap")
	}

	if DetailOf(fmt.Errorf("plain")) != nil {
		t.Error("plain errors carry no detail")
	}
}
