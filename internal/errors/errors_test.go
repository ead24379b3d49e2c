package errors

import (
	"errors"
	"testing"
)

func TestPipelineError_Error(t *testing.T) {
	err := &PipelineError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "session not found",
	}

	expected := "NOT_FOUND: session not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewUnsupportedFormat(t *testing.T) {
	err := NewUnsupportedFormat("flac", []string{"wav", "mp3"})

	if err.Code != ErrUnsupportedFormat {
		t.Errorf("Code = %q, want %q", err.Code, ErrUnsupportedFormat)
	}
	if err.Status != 415 {
		t.Errorf("Status = %d, want 415", err.Status)
	}
	if err.Details["format"] != "flac" {
		t.Errorf("Details[format] = %v, want %q", err.Details["format"], "flac")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("session", "01ABC")

	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["id"] != "01ABC" {
		t.Errorf("Details[id] = %v, want %q", err.Details["id"], "01ABC")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"provider unavailable", NewProviderUnavailable("assemblyai", nil), true},
		{"timeout", NewTimeout("assemblyai"), true},
		{"transcription failed", NewTranscriptionFailed("provider reported error"), false},
		{"malformed output", NewMalformedModelOutput("not decomposable"), false},
		{"generation failed", NewGenerationFailed("docs API rejected request"), false},
		{"cancelled", NewCancelled("transcribing"), false},
		{"foreign error", errors.New("plain"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(NewTimeout("gemini")); got != ErrTimeout {
		t.Errorf("CodeOf() = %q, want %q", got, ErrTimeout)
	}
	if got := CodeOf(errors.New("plain")); got != ErrInternal {
		t.Errorf("CodeOf() = %q, want %q", got, ErrInternal)
	}
}
