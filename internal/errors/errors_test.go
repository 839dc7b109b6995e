package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestErrorToCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int32
	}{
		{"nil", nil, CodeOK},
		{"invalid handle", fmt.Errorf("add: %w", ErrInvalidHandle), CodeInvalidHandle},
		{"unsupported", NewUnsupported("decrement", "rate"), CodeUnsupported},
		{"registry full", ErrRegistryFull, CodeResourceExhausted},
		{"not found", NewNotFound("counter", "io*reads"), CodeNotFound},
		{"command not found", ErrCommandNotFound, CodeNotFound},
		{"duplicate", NewDuplicate("io*reads"), CodeAlreadyExists},
		{"invalid name", ErrInvalidName, CodeInvalidRequest},
		{"missing field", NewMissingField("counters.x.name"), CodeInvalidRequest},
		{"checksum", Wrap(ErrChecksumMismatch, "segment 1"), CodeDataLoss},
		{"truncated", ErrTruncated, CodeDataLoss},
		{"abort", NewAbort("x > 0", ""), CodeAborted},
		{"permission denied", fmt.Errorf("config.dump: %w", ErrPermissionDenied), CodePermissionDenied},
		{"other", New("boom"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorToCode(tt.err); got != tt.want {
				t.Errorf("ErrorToCode(%v) = %s, want %s", tt.err, CodeName(got), CodeName(tt.want))
			}
		})
	}
}

func TestCodeName(t *testing.T) {
	if CodeName(CodeDataLoss) != "DataLoss" {
		t.Errorf("CodeName(CodeDataLoss) = %q", CodeName(CodeDataLoss))
	}
	if CodeName(99) != "Code(99)" {
		t.Errorf("CodeName(99) = %q", CodeName(99))
	}
}

func TestValidationErrors(t *testing.T) {
	v := NewValidationErrors()
	if v.Err() != nil || v.HasErrors() {
		t.Fatal("empty collector reports errors")
	}

	v.Add(nil)
	v.AddField("core.log_level", "unknown level")
	v.AddMissing("counters.x.section")

	err := v.Err()
	if err == nil {
		t.Fatal("Err() = nil")
	}
	if !Is(err, ErrInvalidConfig) || !Is(err, ErrMissingField) {
		t.Errorf("collected errors not reachable through Is: %v", err)
	}
	if !strings.Contains(err.Error(), "2 errors") || !strings.Contains(err.Error(), "core.log_level") {
		t.Errorf("Error() = %q", err.Error())
	}
	if ErrorToCode(err) != CodeInvalidRequest {
		t.Errorf("code = %s", CodeName(ErrorToCode(err)))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "x") != nil || Wrapf(nil, "x %d", 1) != nil {
		t.Error("wrapping nil returned an error")
	}
	if err := Wrapf(ErrNotFound, "section %q", "io"); err.Error() != `section "io": not found` {
		t.Errorf("Wrapf = %q", err.Error())
	}
}

func TestNewAbortMessage(t *testing.T) {
	err := NewAbort("x > 0", "x was -1")
	if !IsAbort(err) || err.Error() != "fatal assertion: x > 0: x was -1" {
		t.Errorf("NewAbort = %q", err)
	}
}
