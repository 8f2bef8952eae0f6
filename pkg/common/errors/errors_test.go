package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCommonErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"ErrStoreUnavailable", ErrStoreUnavailable, "store unavailable"},
		{"ErrProcedureFailed", ErrProcedureFailed, "procedure execution failed"},
		{"ErrUnknownProcedure", ErrUnknownProcedure, "unknown procedure"},
		{"ErrInvalidConfiguration", ErrInvalidConfiguration, "invalid configuration"},
		{"ErrRateLimited", ErrRateLimited, "rate limited"},
		{"ErrTimeout", ErrTimeout, "operation timed out"},
		{"ErrClosed", ErrClosed, "resource is closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "without hint",
			err: &ValidationError{
				Module: "algorithm",
				Field:  "windowSize",
				Value:  -1,
				Reason: "must be positive",
			},
			want: "algorithm: invalid windowSize=-1 (must be positive)",
		},
		{
			name: "with hint",
			err: &ValidationError{
				Module: "algorithm",
				Field:  "capacity",
				Value:  0,
				Reason: "must be positive",
				Hint:   "use a value greater than 0",
			},
			want: "algorithm: invalid capacity=0 (must be positive) - use a value greater than 0",
		},
		{
			name: "string value",
			err: &ValidationError{
				Module: "keys",
				Field:  "key",
				Value:  "",
				Reason: "cannot be empty",
			},
			want: "keys: invalid key= (cannot be empty)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidationError_Unwrap(t *testing.T) {
	verr := NewValidationError("test", "field", 0, "test")

	if !errors.Is(verr, ErrInvalidConfiguration) {
		t.Error("ValidationError should wrap ErrInvalidConfiguration")
	}
	if errors.Is(verr, ErrStoreUnavailable) {
		t.Error("ValidationError must not match ErrStoreUnavailable")
	}
}

func TestValidationError_WithHint(t *testing.T) {
	err := NewValidationError("test", "field", 0, "invalid").
		WithHint("try using a positive value")

	if err.Hint != "try using a positive value" {
		t.Errorf("Hint = %q, want %q", err.Hint, "try using a positive value")
	}

	result := err.WithHint("new hint")
	if result != err {
		t.Error("WithHint should return the same instance")
	}
}

func TestStoreError(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewStoreError("execute sliding_window.v1", cause)

	want := "store unavailable in execute sliding_window.v1: dial tcp: connection refused"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Error("StoreError should match ErrStoreUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Error("StoreError should wrap its cause")
	}
	if errors.Is(err, ErrProcedureFailed) {
		t.Error("StoreError must not match ErrProcedureFailed")
	}

	wrapped := NewStoreError("execute", context.DeadlineExceeded)
	if !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Error("StoreError should expose the context error")
	}
}

func TestProcedureError(t *testing.T) {
	cause := errors.New("ERR user_script:12: attempt to compare nil with number")
	err := NewProcedureError("token_bucket.v1", cause)

	if !strings.Contains(err.Error(), "token_bucket.v1") {
		t.Errorf("error message should name the procedure, got %q", err.Error())
	}
	if !errors.Is(err, ErrProcedureFailed) {
		t.Error("ProcedureError should match ErrProcedureFailed")
	}
	if errors.Is(err, ErrStoreUnavailable) {
		t.Error("ProcedureError must not match ErrStoreUnavailable")
	}
	if !IsProcedureError(fmt.Errorf("evaluate: %w", err)) {
		t.Error("IsProcedureError should see through wrapping")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"store unavailable", NewStoreError("op", errors.New("eof")), true},
		{"timeout error", ErrTimeout, true},
		{"rate limited error", ErrRateLimited, true},
		{"procedure error", NewProcedureError("p", errors.New("boom")), false},
		{"validation error", NewValidationError("m", "f", 0, "bad"), false},
		{"closed error", ErrClosed, false},
		{"random error", errors.New("random"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTemporary(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"store unavailable", NewStoreError("op", errors.New("eof")), true},
		{"timeout error", ErrTimeout, true},
		{"rate limited error", ErrRateLimited, false},
		{"procedure error", NewProcedureError("p", errors.New("boom")), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTemporary(tt.err); got != tt.want {
				t.Errorf("IsTemporary() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"validation error", NewValidationError("test", "field", 0, "test"), true},
		{"wrapped validation error", fmt.Errorf("rule api: %w", NewValidationError("test", "field", 0, "test")), true},
		{"store error", NewStoreError("op", errors.New("x")), false},
		{"standard error", errors.New("test"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidationError(tt.err); got != tt.want {
				t.Errorf("IsValidationError() = %v, want %v", got, tt.want)
			}
		})
	}
}
