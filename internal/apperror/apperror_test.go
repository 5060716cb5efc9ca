package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("file", "out.png"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("code", "code cannot be empty"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "InvalidScratchPath wraps ErrPathViolation",
			err:       InvalidScratchPath("/etc/passwd", "/tmp"),
			target:    ErrPathViolation,
			wantMatch: true,
		},
		{
			name:      "SymlinkRefused wraps ErrPathViolation",
			err:       SymlinkRefused("/tmp/link"),
			target:    ErrPathViolation,
			wantMatch: true,
		},
		{
			name:      "PrefixMismatch wraps ErrPathViolation",
			err:       PrefixMismatch("http://evil.example/x"),
			target:    ErrPathViolation,
			wantMatch: true,
		},
		{
			name:      "wrapped InvalidScratchPath still matches",
			err:       fmt.Errorf("publishing value: %w", InvalidScratchPath("/var/x", "/tmp")),
			target:    ErrPathViolation,
			wantMatch: true,
		},
		{
			name:      "NotFound does NOT match ErrPathViolation",
			err:       NotFound("file", "out.png"),
			target:    ErrPathViolation,
			wantMatch: false,
		},
		{
			name:      "Unavailable wraps ErrUnavailable",
			err:       Unavailable("docker engine"),
			target:    ErrUnavailable,
			wantMatch: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("file", "abc123"),
			wantMessage: "file not found: abc123",
		},
		{
			name:        "InvalidScratchPath names the root",
			err:         InvalidScratchPath("/var/out.png", "/tmp"),
			wantMessage: `generated file "/var/out.png" must be inside /tmp`,
		},
		{
			name:        "Unavailable names the dependency",
			err:         Unavailable("execution engine"),
			wantMessage: "execution engine is unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	err := PrefixMismatch("ftp://x")
	if unwrapped := err.Unwrap(); unwrapped != ErrPathViolation {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, ErrPathViolation)
	}
	if err.Field != "url" {
		t.Errorf("Field = %q, want %q", err.Field, "url")
	}
}
