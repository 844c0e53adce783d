package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(CodeValidationRejected, "scene count mismatch")

	if err.Code != CodeValidationRejected {
		t.Errorf("expected code=%s, got %s", CodeValidationRejected, err.Code)
	}
	if err.Message != "scene count mismatch" {
		t.Errorf("expected message='scene count mismatch', got %s", err.Message)
	}
	if len(err.Stack) == 0 {
		t.Error("expected stack trace to be captured")
	}
}

func TestNewf(t *testing.T) {
	err := Newf(CodeNotFound, "job %s not found", "job_42")

	if err.Code != CodeNotFound {
		t.Errorf("expected code=%s, got %s", CodeNotFound, err.Code)
	}
	if err.Message != "job job_42 not found" {
		t.Errorf("expected formatted message, got %s", err.Message)
	}
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name:     "simple error",
			err:      New(CodeMalformedResponse, "unbalanced braces"),
			contains: []string{"MALFORMED_RESPONSE", "unbalanced braces"},
		},
		{
			name: "error with op",
			err: &Error{
				Code:    CodeServiceError,
				Message: "backend unreachable",
				Op:      "diffusion.generate",
			},
			contains: []string{"diffusion.generate", "SERVICE_ERROR", "backend unreachable"},
		},
		{
			name: "error with underlying",
			err: &Error{
				Code:    CodeInternal,
				Message: "wrapper",
				Err:     fmt.Errorf("underlying error"),
			},
			contains: []string{"wrapper", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			str := tt.err.Error()
			for _, c := range tt.contains {
				if !strings.Contains(str, c) {
					t.Errorf("expected error string to contain %q, got: %s", c, str)
				}
			}
		})
	}
}

func TestWrap(t *testing.T) {
	original := fmt.Errorf("original error")
	wrapped := Wrap(original, "speech.synthesize", "synthesis failed")

	if wrapped == nil {
		t.Fatal("expected wrapped error to be non-nil")
	}
	if wrapped.Code != CodeInternal {
		t.Errorf("expected code=%s, got %s", CodeInternal, wrapped.Code)
	}
	if wrapped.Op != "speech.synthesize" {
		t.Errorf("expected op='speech.synthesize', got %s", wrapped.Op)
	}
	if wrapped.Err != original {
		t.Error("expected underlying error to be preserved")
	}

	if errors.Unwrap(wrapped) != original {
		t.Error("Unwrap should return original error")
	}
}

func TestWrapNil(t *testing.T) {
	wrapped := Wrap(nil, "op", "message")
	if wrapped != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWrapPreservesCode(t *testing.T) {
	original := New(CodeResourceExhausted, "out of memory")
	wrapped := Wrap(original, "media.generate", "unit failed")

	if wrapped.Code != CodeResourceExhausted {
		t.Errorf("expected code to be preserved as %s, got %s", CodeResourceExhausted, wrapped.Code)
	}
}

func TestWrapWithCode(t *testing.T) {
	original := fmt.Errorf("CUDA out of memory")
	wrapped := WrapWithCode(original, CodeResourceExhausted, "diffusion.generate", "memory pressure")

	if wrapped.Code != CodeResourceExhausted {
		t.Errorf("expected code=%s, got %s", CodeResourceExhausted, wrapped.Code)
	}
	if errors.Unwrap(wrapped) != original {
		t.Error("Unwrap should return original error")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"coded error", New(CodeQuotaExceeded, "daily quota"), CodeQuotaExceeded},
		{"wrapped coded error", fmt.Errorf("outer: %w", New(CodeCancelled, "stop")), CodeCancelled},
		{"plain error", fmt.Errorf("plain"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"service error", ServiceError("renderer", "http 503"), true},
		{"resource exhausted", ResourceExhausted("diffusion", "oom"), true},
		{"quota exceeded", QuotaExceeded("youtube", "uploadLimitExceeded"), false},
		{"unauthenticated", New(CodeUnauthenticated, "bad token"), false},
		{"cancelled", Cancelled("job cancelled"), false},
		{"plain error", fmt.Errorf("plain"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeValidationRejected, 400},
		{CodeMalformedResponse, 400},
		{CodeUnauthenticated, 401},
		{CodeNotFound, 404},
		{CodeCancelled, 409},
		{CodeQuotaExceeded, 429},
		{CodeResourceExhausted, 429},
		{CodeServiceError, 502},
		{CodeInternal, 500},
	}

	for _, tt := range tests {
		if got := New(tt.code, "x").HTTPStatus(); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestWithField(t *testing.T) {
	err := New(CodeServiceError, "timeout").WithField("backend", "speech")

	fields := GetFields(err)
	if fields["backend"] != "speech" {
		t.Errorf("expected backend field, got %v", fields)
	}
}
