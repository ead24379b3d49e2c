package session

import (
	"strings"

	"github.com/clinia-app/clinia/internal/errors"
	"github.com/clinia-app/clinia/internal/note"
)

// Status is the current stage status of a consultation session.
type Status string

const (
	StatusCreated            Status = "created"
	StatusTranscribing       Status = "transcribing"
	StatusExtracting         Status = "extracting"
	StatusGeneratingDocument Status = "generating_document"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
)

// Stage names a pipeline stage for failure attribution.
type Stage string

const (
	StageTranscribing       Stage = "transcribing"
	StageExtracting         Stage = "extracting"
	StageGeneratingDocument Stage = "generating_document"
)

// ActiveStatus returns the session status in which a stage runs.
func (s Stage) ActiveStatus() Status {
	return Status(s)
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// legalTransitions is the session state machine: strictly ordered stages,
// failure reachable from any non-terminal state, and resume from failed
// back into the stage that failed (never an earlier one).
var legalTransitions = map[Status][]Status{
	StatusCreated:            {StatusTranscribing, StatusFailed},
	StatusTranscribing:       {StatusExtracting, StatusFailed},
	StatusExtracting:         {StatusGeneratingDocument, StatusFailed},
	StatusGeneratingDocument: {StatusCompleted, StatusFailed},
	StatusFailed:             {StatusTranscribing, StatusExtracting, StatusGeneratingDocument},
}

// CanTransition reports whether from → to is a legal status transition.
func CanTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Segment is one ordered portion of a transcript.
type Segment struct {
	Text       string  `json:"text"`
	Speaker    string  `json:"speaker,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	StartMS    int64   `json:"start_ms,omitempty"`
	EndMS      int64   `json:"end_ms,omitempty"`
}

// Transcript is the ordered-segment result of the transcription stage.
// Produced once, immutable after creation. Near-silent audio yields a
// transcript with zero or near-zero segments, not an error.
type Transcript struct {
	Language        string    `json:"language"`
	Segments        []Segment `json:"segments"`
	AudioDurationMS int64     `json:"audio_duration_ms,omitempty"`
}

// Text joins all segment texts in order.
func (t *Transcript) Text() string {
	parts := make([]string, 0, len(t.Segments))
	for _, seg := range t.Segments {
		if seg.Text != "" {
			parts = append(parts, seg.Text)
		}
	}
	return strings.Join(parts, " ")
}

// WordCount counts words across all segments.
func (t *Transcript) WordCount() int {
	return len(strings.Fields(t.Text()))
}

// DocumentArtifact references the generated external document.
type DocumentArtifact struct {
	DocumentID string `json:"document_id"`
	Link       string `json:"link"`
	Title      string `json:"title"`
	CreatedAt  int64  `json:"created_at"`
}

// Failure records which stage failed and why. Earlier successful results
// stay on the session so the failed stage can be retried without redoing
// preceding work.
type Failure struct {
	Stage  Stage            `json:"stage"`
	Code   errors.ErrorCode `json:"code"`
	Reason string           `json:"reason"`
}

// Session is the unit of work: one consultation driven through the
// pipeline. Mutated only by the orchestrator; terminal once completed or
// failed (a failed session may be resumed at its failed stage).
type Session struct {
	// ID is a ULID that uniquely identifies this session
	ID string `json:"id"`

	// AudioID references the consumed AudioAsset
	AudioID string `json:"audio_id"`

	// Status is the current stage status
	Status Status `json:"status"`

	// Failure is set only when Status is failed
	Failure *Failure `json:"failure,omitempty"`

	// Transcript exists once transcription succeeded
	Transcript *Transcript `json:"transcript,omitempty"`

	// Note exists once extraction succeeded
	Note *note.SOAPNote `json:"note,omitempty"`

	// Document exists once document generation succeeded
	Document *DocumentArtifact `json:"document,omitempty"`

	// Unix timestamps: creation, last update, and per-stage completion
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
	TranscribedAt *int64 `json:"transcribed_at,omitempty"`
	ExtractedAt   *int64 `json:"extracted_at,omitempty"`
	GeneratedAt   *int64 `json:"generated_at,omitempty"`
}

// NextStage returns the stage the session should run next, or "" when the
// session is completed. For failed sessions this is the failed stage, so
// resume retries exactly the work that did not succeed.
func (s *Session) NextStage() Stage {
	if s.Status == StatusFailed && s.Failure != nil {
		return s.Failure.Stage
	}
	switch {
	case s.Transcript == nil:
		return StageTranscribing
	case s.Note == nil:
		return StageExtracting
	case s.Document == nil:
		return StageGeneratingDocument
	}
	return ""
}
