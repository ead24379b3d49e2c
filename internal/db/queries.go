package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clinia-app/clinia/internal/errors"
	"github.com/clinia-app/clinia/internal/note"
	"github.com/clinia-app/clinia/internal/session"
)

// InsertSession stores a new consultation session.
func InsertSession(db *sql.DB, s *session.Session) error {
	query := `
		INSERT INTO sessions (id, audio_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := db.Exec(query, s.ID, s.AudioID, s.Status, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetSession retrieves a session by its ULID, including any entities
// produced by completed stages.
func GetSession(db *sql.DB, id string) (*session.Session, error) {
	query := `
		SELECT id, audio_id, status, failed_stage, error_code, error_message,
			transcript_json, note_json, document_json,
			created_at, updated_at, transcribed_at, extracted_at, generated_at
		FROM sessions
		WHERE id = ?
	`
	s, err := scanSession(db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("session", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return s, nil
}

// ListSessions returns sessions newest first.
func ListSessions(db *sql.DB, limit, offset int) ([]*session.Session, error) {
	query := `
		SELECT id, audio_id, status, failed_stage, error_code, error_message,
			transcript_json, note_json, document_json,
			created_at, updated_at, transcribed_at, extracted_at, generated_at
		FROM sessions
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := db.Query(query, limit, offset)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return sessions, nil
}

// CountSessions returns the total number of sessions.
func CountSessions(db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// TransitionStatus applies a compare-and-swap status transition. The update
// only lands if the session is still in the expected state, so a session is
// never observed mid-transition and concurrent workers cannot double-drive
// a stage. Moving out of failed clears the failure record.
func TransitionStatus(db *sql.DB, id string, from, to session.Status) error {
	if !session.CanTransition(from, to) {
		return errors.NewConflict(fmt.Sprintf("illegal transition %s -> %s", from, to))
	}

	query := `
		UPDATE sessions
		SET status = ?, failed_stage = NULL, error_code = NULL, error_message = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := db.Exec(query, to, time.Now().Unix(), id, from)
	if err != nil {
		return errors.NewInternal(err)
	}
	return checkTransitioned(db, res, id, from)
}

// RecordTranscript stores the transcript and advances the session to
// extracting in one atomic update.
func RecordTranscript(db *sql.DB, id string, tr *session.Transcript) error {
	data, err := json.Marshal(tr)
	if err != nil {
		return errors.NewInternal(err)
	}

	now := time.Now().Unix()
	query := `
		UPDATE sessions
		SET status = ?, transcript_json = ?, transcribed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := db.Exec(query, session.StatusExtracting, string(data), now, now, id, session.StatusTranscribing)
	if err != nil {
		return errors.NewInternal(err)
	}
	return checkTransitioned(db, res, id, session.StatusTranscribing)
}

// RecordNote stores the SOAP note and advances the session to
// generating_document in one atomic update.
func RecordNote(db *sql.DB, id string, n *note.SOAPNote) error {
	data, err := json.Marshal(n)
	if err != nil {
		return errors.NewInternal(err)
	}

	now := time.Now().Unix()
	query := `
		UPDATE sessions
		SET status = ?, note_json = ?, extracted_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := db.Exec(query, session.StatusGeneratingDocument, string(data), now, now, id, session.StatusExtracting)
	if err != nil {
		return errors.NewInternal(err)
	}
	return checkTransitioned(db, res, id, session.StatusExtracting)
}

// RecordDocument stores the document artifact and completes the session in
// one atomic update.
func RecordDocument(db *sql.DB, id string, doc *session.DocumentArtifact) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.NewInternal(err)
	}

	now := time.Now().Unix()
	query := `
		UPDATE sessions
		SET status = ?, document_json = ?, generated_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := db.Exec(query, session.StatusCompleted, string(data), now, now, id, session.StatusGeneratingDocument)
	if err != nil {
		return errors.NewInternal(err)
	}
	return checkTransitioned(db, res, id, session.StatusGeneratingDocument)
}

// RecordFailure marks the session failed with stage attribution. Entities
// produced by earlier successful stages are left untouched.
func RecordFailure(db *sql.DB, id string, from session.Status, f *session.Failure) error {
	if !session.CanTransition(from, session.StatusFailed) {
		return errors.NewConflict(fmt.Sprintf("illegal transition %s -> %s", from, session.StatusFailed))
	}

	query := `
		UPDATE sessions
		SET status = ?, failed_stage = ?, error_code = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := db.Exec(query,
		session.StatusFailed, f.Stage, f.Code, f.Reason, time.Now().Unix(), id, from)
	if err != nil {
		return errors.NewInternal(err)
	}
	return checkTransitioned(db, res, id, from)
}

// checkTransitioned turns a zero-row CAS update into NotFound or Conflict.
func checkTransitioned(db *sql.DB, res sql.Result, id string, expected session.Status) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if affected == 1 {
		return nil
	}

	current, err := GetSession(db, id)
	if err != nil {
		return err
	}
	return errors.NewConflict(fmt.Sprintf(
		"session %s is %s, expected %s", id, current.Status, expected))
}

// scanner abstracts *sql.Row and *sql.Rows for scanSession.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*session.Session, error) {
	var s session.Session
	var failedStage, errorCode, errorMessage sql.NullString
	var transcriptJSON, noteJSON, documentJSON sql.NullString
	var transcribedAt, extractedAt, generatedAt sql.NullInt64

	err := row.Scan(
		&s.ID, &s.AudioID, &s.Status, &failedStage, &errorCode, &errorMessage,
		&transcriptJSON, &noteJSON, &documentJSON,
		&s.CreatedAt, &s.UpdatedAt, &transcribedAt, &extractedAt, &generatedAt,
	)
	if err != nil {
		return nil, err
	}

	if failedStage.Valid {
		s.Failure = &session.Failure{
			Stage:  session.Stage(failedStage.String),
			Code:   errors.ErrorCode(errorCode.String),
			Reason: errorMessage.String,
		}
	}
	if transcriptJSON.Valid {
		var tr session.Transcript
		if err := json.Unmarshal([]byte(transcriptJSON.String), &tr); err != nil {
			return nil, err
		}
		s.Transcript = &tr
	}
	if noteJSON.Valid {
		var n note.SOAPNote
		if err := json.Unmarshal([]byte(noteJSON.String), &n); err != nil {
			return nil, err
		}
		s.Note = &n
	}
	if documentJSON.Valid {
		var doc session.DocumentArtifact
		if err := json.Unmarshal([]byte(documentJSON.String), &doc); err != nil {
			return nil, err
		}
		s.Document = &doc
	}
	if transcribedAt.Valid {
		s.TranscribedAt = &transcribedAt.Int64
	}
	if extractedAt.Valid {
		s.ExtractedAt = &extractedAt.Int64
	}
	if generatedAt.Valid {
		s.GeneratedAt = &generatedAt.Int64
	}

	return &s, nil
}
