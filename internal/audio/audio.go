package audio

import (
	"strings"
)

// Asset is an uploaded or recorded consultation audio blob. Immutable once
// stored; the pipeline consumes it by reference.
type Asset struct {
	// ID is a ULID that uniquely identifies this asset
	ID string `json:"id"`

	// Format is the normalized declared format ("wav", "mp3", ...)
	Format string `json:"format"`

	// SizeBytes is the stored content length
	SizeBytes int64 `json:"size_bytes"`

	// DurationMS is the audio duration, unknown until transcription reports it
	DurationMS *int64 `json:"duration_ms,omitempty"`

	// Content is the raw audio bytes
	Content []byte `json:"-"`

	// CreatedAt is the Unix timestamp when the asset was stored
	CreatedAt int64 `json:"created_at"`
}

// AcceptedFormats is the fixed set of accepted audio encodings. Anything
// else is rejected before a single external provider call is made.
var AcceptedFormats = []string{"wav", "mp3", "webm", "ogg", "m4a"}

// NormalizeFormat lowercases and trims a declared format, dropping a
// leading dot so both "wav" and ".WAV" are accepted.
func NormalizeFormat(format string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
}

// FormatAccepted reports whether a declared format is in the accepted set
// (case-insensitive).
func FormatAccepted(format string) bool {
	norm := NormalizeFormat(format)
	for _, f := range AcceptedFormats {
		if norm == f {
			return true
		}
	}
	return false
}
