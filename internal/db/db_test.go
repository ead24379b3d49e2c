package db

import (
	"testing"
	"time"

	"github.com/clinia-app/clinia/internal/errors"
	"github.com/clinia-app/clinia/internal/note"
	"github.com/clinia-app/clinia/internal/session"
)

func TestInit_SchemaAndWAL(t *testing.T) {
	database, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer database.Close()

	version, err := GetUserVersion(database)
	if err != nil {
		t.Fatalf("GetUserVersion failed: %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, CurrentSchemaVersion)
	}

	// Both tables exist
	for _, table := range []string{"audio_assets", "sessions"} {
		var name string
		err := database.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestInit_Idempotent(t *testing.T) {
	tmpDir := t.TempDir()

	first, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("first Init failed: %v", err)
	}
	first.Close()

	second, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("second Init failed: %v", err)
	}
	second.Close()
}

func newTestSession(id string) *session.Session {
	now := time.Now().Unix()
	return &session.Session{
		ID:        id,
		AudioID:   "audio-" + id,
		Status:    session.StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSessionInsertAndGet(t *testing.T) {
	database, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer database.Close()

	s := newTestSession("01TESTSESSION")
	if err := InsertSession(database, s); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}

	got, err := GetSession(database, s.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.AudioID != s.AudioID {
		t.Errorf("AudioID = %q, want %q", got.AudioID, s.AudioID)
	}
	if got.Status != session.StatusCreated {
		t.Errorf("Status = %q, want %q", got.Status, session.StatusCreated)
	}
	if got.Transcript != nil || got.Note != nil || got.Document != nil {
		t.Error("fresh session should hold no stage entities")
	}
}

func TestGetSession_NotFound(t *testing.T) {
	database, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer database.Close()

	_, err = GetSession(database, "missing")
	if err == nil {
		t.Fatal("GetSession should fail for missing id")
	}
	if errors.CodeOf(err) != errors.ErrNotFound {
		t.Errorf("code = %q, want %q", errors.CodeOf(err), errors.ErrNotFound)
	}
}

func TestTransitionStatus_CASConflict(t *testing.T) {
	database, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer database.Close()

	s := newTestSession("01CAS")
	if err := InsertSession(database, s); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}

	if err := TransitionStatus(database, s.ID, session.StatusCreated, session.StatusTranscribing); err != nil {
		t.Fatalf("first transition failed: %v", err)
	}

	// Same CAS again: session is no longer in created
	err = TransitionStatus(database, s.ID, session.StatusCreated, session.StatusTranscribing)
	if err == nil {
		t.Fatal("stale transition should fail")
	}
	if errors.CodeOf(err) != errors.ErrConflict {
		t.Errorf("code = %q, want %q", errors.CodeOf(err), errors.ErrConflict)
	}
}

func TestTransitionStatus_IllegalRejectedLocally(t *testing.T) {
	database, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer database.Close()

	s := newTestSession("01ILLEGAL")
	if err := InsertSession(database, s); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}

	// Stage skipping is rejected before touching the database
	err = TransitionStatus(database, s.ID, session.StatusCreated, session.StatusCompleted)
	if errors.CodeOf(err) != errors.ErrConflict {
		t.Errorf("code = %q, want %q", errors.CodeOf(err), errors.ErrConflict)
	}
}

func TestStageRecording_FullWalk(t *testing.T) {
	database, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer database.Close()

	s := newTestSession("01WALK")
	if err := InsertSession(database, s); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}
	if err := TransitionStatus(database, s.ID, session.StatusCreated, session.StatusTranscribing); err != nil {
		t.Fatalf("start transcription: %v", err)
	}

	tr := &session.Transcript{
		Language: "es",
		Segments: []session.Segment{{Text: "Paciente refiere dolor de cabeza", Speaker: "B", Confidence: 0.93}},
	}
	if err := RecordTranscript(database, s.ID, tr); err != nil {
		t.Fatalf("RecordTranscript failed: %v", err)
	}

	n := &note.SOAPNote{Subjective: "Paciente refiere dolor de cabeza"}
	if err := RecordNote(database, s.ID, n); err != nil {
		t.Fatalf("RecordNote failed: %v", err)
	}

	doc := &session.DocumentArtifact{DocumentID: "doc1", Link: "https://docs.example/doc1", Title: "Nota"}
	if err := RecordDocument(database, s.ID, doc); err != nil {
		t.Fatalf("RecordDocument failed: %v", err)
	}

	got, err := GetSession(database, s.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != session.StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, session.StatusCompleted)
	}
	if got.Transcript == nil || got.Transcript.Segments[0].Text != tr.Segments[0].Text {
		t.Error("transcript not round-tripped")
	}
	if got.Note == nil || got.Note.Subjective != n.Subjective {
		t.Error("note not round-tripped")
	}
	if got.Document == nil || got.Document.Link != doc.Link {
		t.Error("document not round-tripped")
	}
	if got.TranscribedAt == nil || got.ExtractedAt == nil || got.GeneratedAt == nil {
		t.Error("stage timestamps missing")
	}
}

func TestRecordFailure_KeepsEarlierEntities(t *testing.T) {
	database, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer database.Close()

	s := newTestSession("01FAIL")
	if err := InsertSession(database, s); err != nil {
		t.Fatalf("InsertSession failed: %v", err)
	}
	if err := TransitionStatus(database, s.ID, session.StatusCreated, session.StatusTranscribing); err != nil {
		t.Fatalf("start transcription: %v", err)
	}

	tr := &session.Transcript{Language: "es", Segments: []session.Segment{{Text: "hola"}}}
	if err := RecordTranscript(database, s.ID, tr); err != nil {
		t.Fatalf("RecordTranscript failed: %v", err)
	}

	f := &session.Failure{
		Stage:  session.StageExtracting,
		Code:   errors.ErrMalformedModelOutput,
		Reason: "extraction response is not decomposable into SOAP sections",
	}
	if err := RecordFailure(database, s.ID, session.StatusExtracting, f); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	got, err := GetSession(database, s.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != session.StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, session.StatusFailed)
	}
	if got.Failure == nil || got.Failure.Stage != session.StageExtracting {
		t.Fatalf("failure record = %+v", got.Failure)
	}
	// The transcript from the stage that did succeed survives
	if got.Transcript == nil || got.Transcript.Segments[0].Text != "hola" {
		t.Error("transcript lost on failure")
	}

	// Resuming clears the failure record
	if err := TransitionStatus(database, s.ID, session.StatusFailed, session.StatusExtracting); err != nil {
		t.Fatalf("resume transition failed: %v", err)
	}
	got, err = GetSession(database, s.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Failure != nil {
		t.Errorf("failure record should be cleared on resume, got %+v", got.Failure)
	}
}

func TestListSessions_NewestFirst(t *testing.T) {
	database, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer database.Close()

	older := newTestSession("01OLDER")
	older.CreatedAt = 100
	newer := newTestSession("01NEWER")
	newer.CreatedAt = 200
	for _, s := range []*session.Session{older, newer} {
		if err := InsertSession(database, s); err != nil {
			t.Fatalf("InsertSession failed: %v", err)
		}
	}

	got, err := ListSessions(database, 10, 0)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "01NEWER" || got[1].ID != "01OLDER" {
		t.Errorf("order = [%s, %s], want newest first", got[0].ID, got[1].ID)
	}

	n, err := CountSessions(database)
	if err != nil {
		t.Fatalf("CountSessions failed: %v", err)
	}
	if n != 2 {
		t.Errorf("CountSessions = %d, want 2", n)
	}
}
