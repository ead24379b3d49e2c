package errors

import "fmt"

// ErrorCode represents a clinia error code.
type ErrorCode string

const (
	ErrInvalidRequest       ErrorCode = "INVALID_REQUEST"        // 400
	ErrNotFound             ErrorCode = "NOT_FOUND"              // 404
	ErrConflict             ErrorCode = "CONFLICT"               // 409 (illegal session transition)
	ErrAudioTooLarge        ErrorCode = "AUDIO_TOO_LARGE"        // 413
	ErrUnsupportedFormat    ErrorCode = "UNSUPPORTED_FORMAT"     // 415
	ErrTranscriptionFailed  ErrorCode = "TRANSCRIPTION_FAILED"   // 502
	ErrExtractionFailed     ErrorCode = "EXTRACTION_FAILED"      // 502
	ErrMalformedModelOutput ErrorCode = "MALFORMED_MODEL_OUTPUT" // 502
	ErrGenerationFailed     ErrorCode = "GENERATION_FAILED"      // 502
	ErrProviderUnavailable  ErrorCode = "PROVIDER_UNAVAILABLE"   // 502, transient
	ErrTimeout              ErrorCode = "TIMEOUT"                // 504, transient
	ErrCancelled            ErrorCode = "CANCELLED"              // 499
	ErrInternal             ErrorCode = "INTERNAL"               // 500
)

// PipelineError represents a structured error with code, status, and details.
type PipelineError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsTransient reports whether the error is worth retrying: connectivity or
// bounded-wait failures, as opposed to definitive stage failures.
func IsTransient(err error) bool {
	pe, ok := err.(*PipelineError)
	if !ok {
		return false
	}
	return pe.Code == ErrProviderUnavailable || pe.Code == ErrTimeout
}

// CodeOf returns the error code, or ErrInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	if pe, ok := err.(*PipelineError); ok {
		return pe.Code
	}
	return ErrInternal
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *PipelineError {
	return &PipelineError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing asset or session.
func NewNotFound(kind, id string) *PipelineError {
	return &PipelineError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, id),
		Details: map[string]any{"kind": kind, "id": id},
	}
}

// NewConflict creates a 409 error for an illegal session state transition.
func NewConflict(msg string) *PipelineError {
	return &PipelineError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewAudioTooLarge creates a 413 error when audio exceeds the size limit.
func NewAudioTooLarge(max, actual int64) *PipelineError {
	return &PipelineError{
		Code:    ErrAudioTooLarge,
		Status:  413,
		Message: fmt.Sprintf("audio exceeds maximum size: %d bytes (max %d)", actual, max),
		Details: map[string]any{"max_bytes": max, "actual_bytes": actual},
	}
}

// NewUnsupportedFormat creates a 415 error for a declared format outside the
// accepted set. Rejected before any external provider is contacted.
func NewUnsupportedFormat(format string, accepted []string) *PipelineError {
	return &PipelineError{
		Code:    ErrUnsupportedFormat,
		Status:  415,
		Message: fmt.Sprintf("unsupported audio format: %q", format),
		Details: map[string]any{"format": format, "accepted": accepted},
	}
}

// NewTranscriptionFailed creates a definitive transcription-stage failure.
func NewTranscriptionFailed(msg string) *PipelineError {
	return &PipelineError{
		Code:    ErrTranscriptionFailed,
		Status:  502,
		Message: msg,
	}
}

// NewExtractionFailed creates a definitive extraction-stage failure.
func NewExtractionFailed(msg string) *PipelineError {
	return &PipelineError{
		Code:    ErrExtractionFailed,
		Status:  502,
		Message: msg,
	}
}

// NewMalformedModelOutput creates an error for an extraction response that
// answered but could not be decomposed into the four SOAP sections.
// Distinct from ErrProviderUnavailable: the provider was reachable.
func NewMalformedModelOutput(msg string) *PipelineError {
	return &PipelineError{
		Code:    ErrMalformedModelOutput,
		Status:  502,
		Message: msg,
	}
}

// NewGenerationFailed creates a definitive document-stage failure.
func NewGenerationFailed(msg string) *PipelineError {
	return &PipelineError{
		Code:    ErrGenerationFailed,
		Status:  502,
		Message: msg,
	}
}

// NewProviderUnavailable creates a transient connectivity/service error.
func NewProviderUnavailable(provider string, err error) *PipelineError {
	msg := fmt.Sprintf("%s unavailable", provider)
	if err != nil {
		msg = fmt.Sprintf("%s unavailable: %v", provider, err)
	}
	return &PipelineError{
		Code:    ErrProviderUnavailable,
		Status:  502,
		Message: msg,
		Details: map[string]any{"provider": provider},
	}
}

// NewTimeout creates a transient bounded-wait-exceeded error.
func NewTimeout(provider string) *PipelineError {
	return &PipelineError{
		Code:    ErrTimeout,
		Status:  504,
		Message: fmt.Sprintf("%s did not answer within the bounded wait", provider),
		Details: map[string]any{"provider": provider},
	}
}

// NewCancelled creates an error for a session cancelled while awaiting an
// external call.
func NewCancelled(stage string) *PipelineError {
	return &PipelineError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("cancelled while awaiting %s", stage),
		Details: map[string]any{"stage": stage},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *PipelineError {
	return &PipelineError{
		Code:    ErrInternal,
		Status:  500,
		Message: err.Error(),
	}
}
