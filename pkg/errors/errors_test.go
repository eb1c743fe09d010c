package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestPipelineError_Error(t *testing.T) {
	err := New(ErrCodeConfig, "", "test error")
	expected := "CONFIG: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}

	err = New(ErrCodeOpen, "publisher", "refused")
	expected = "OPEN [publisher]: refused"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestPipelineError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := Wrap(originalErr, ErrCodeIO, "source", "read failed")

	if err.Cause != originalErr {
		t.Errorf("Cause = %v, want %v", err.Cause, originalErr)
	}
	if !strings.Contains(err.Error(), "original error") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
	if !errors.Is(err, originalErr) {
		t.Error("errors.Is should see through PipelineError")
	}
}

func TestPipelineError_WithContext(t *testing.T) {
	err := New(ErrCodeBuild, "transform", "bad stage")
	err.WithContext("stage", "sepia").WithContext("index", 2)

	if err.Context["stage"] != "sepia" {
		t.Errorf("Context[stage] = %v, want 'sepia'", err.Context["stage"])
	}
	if err.Context["index"] != 2 {
		t.Errorf("Context[index] = %v, want 2", err.Context["index"])
	}
}

func TestGetPipelineError_Wrapped(t *testing.T) {
	inner := NewCodecUnavailableError("h264", errors.New("ffmpeg not found"))
	outer := fmt.Errorf("start: %w", inner)

	got := GetPipelineError(outer)
	if got != inner {
		t.Fatalf("GetPipelineError() = %v, want %v", got, inner)
	}
	if CodeOf(outer) != ErrCodeCodecUnavailable {
		t.Errorf("CodeOf() = %v", CodeOf(outer))
	}
	if GetPipelineError(errors.New("plain")) != nil {
		t.Error("plain errors carry no pipeline error")
	}
}

func TestIsFatal(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"config", NewConfigError("bad"), true},
		{"build", NewBuildError("transform", errors.New("x")), true},
		{"codec", NewCodecUnavailableError("h264", nil), true},
		{"open", NewOpenError("source", errors.New("refused")), false},
		{"io", Wrap(errors.New("eof"), ErrCodeIO, "publisher", "write"), false},
		{"plain", errors.New("plain"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		if got := IsFatal(tc.err); got != tc.fatal {
			t.Errorf("%s: IsFatal() = %v, want %v", tc.name, got, tc.fatal)
		}
	}
}
