package pipeline

import (
	"context"
	"database/sql"
	"time"

	"github.com/clinia-app/clinia/internal/audio"
	"github.com/clinia-app/clinia/internal/config"
	"github.com/clinia-app/clinia/internal/db"
	"github.com/clinia-app/clinia/internal/errors"
	"github.com/clinia-app/clinia/internal/note"
	"github.com/clinia-app/clinia/internal/session"
)

// Transcriber is the transcription capability. Implementations hide whether
// the provider is synchronous or submit/poll: from the pipeline's
// perspective this is one bounded-wait request-response call.
type Transcriber interface {
	Transcribe(ctx context.Context, asset *audio.Asset, language string) (*session.Transcript, error)
}

// Extractor is the structured-extraction capability: transcript text in,
// well-formed four-section note out.
type Extractor interface {
	Extract(ctx context.Context, transcript string) (*note.SOAPNote, error)
}

// DocumentMeta is the minimal session metadata passed to document
// generation.
type DocumentMeta struct {
	SessionID string
	Title     string
}

// DocumentGenerator is the document capability: renders a note into an
// external document and returns a durable reference to it.
type DocumentGenerator interface {
	Generate(ctx context.Context, n *note.SOAPNote, meta DocumentMeta) (*session.DocumentArtifact, error)
}

// Orchestrator drives consultation sessions through the pipeline stages.
// Sessions are independent units of work; one Orchestrator may run many
// sessions concurrently, each strictly sequential within itself.
type Orchestrator struct {
	db          *sql.DB
	cfg         *config.Config
	transcriber Transcriber
	extractor   Extractor
	generator   DocumentGenerator
}

// New creates an Orchestrator over concrete capability implementations.
func New(database *sql.DB, cfg *config.Config, t Transcriber, e Extractor, g DocumentGenerator) *Orchestrator {
	return &Orchestrator{
		db:          database,
		cfg:         cfg,
		transcriber: t,
		extractor:   e,
		generator:   g,
	}
}

// CreateSession creates a session in the created state over a stored audio
// asset. The asset must exist.
func (o *Orchestrator) CreateSession(audioID string) (*session.Session, error) {
	if _, err := audio.Retrieve(o.db, audioID); err != nil {
		return nil, err
	}

	id, err := audio.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	now := time.Now().Unix()
	s := &session.Session{
		ID:        id,
		AudioID:   audioID,
		Status:    session.StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.InsertSession(o.db, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ProcessAudio stores the audio, creates a session, and runs it to a
// terminal state. This is the full pipeline behind one call.
func (o *Orchestrator) ProcessAudio(ctx context.Context, content []byte, declaredFormat string) (*session.Session, error) {
	asset, err := audio.Store(o.db, o.cfg, audio.StoreInput{
		Content:        content,
		DeclaredFormat: declaredFormat,
	})
	if err != nil {
		return nil, err
	}

	s, err := o.CreateSession(asset.ID)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, s.ID)
}

// TranscribeOnly stores the audio and runs just the transcription stage,
// without creating a session. Useful for verification.
func (o *Orchestrator) TranscribeOnly(ctx context.Context, content []byte, declaredFormat string) (*session.Transcript, error) {
	asset, err := audio.Store(o.db, o.cfg, audio.StoreInput{
		Content:        content,
		DeclaredFormat: declaredFormat,
	})
	if err != nil {
		return nil, err
	}
	return o.callTranscriber(ctx, asset)
}

// ProcessTranscript runs extraction (and optionally document generation) on
// raw transcript text, without audio or a persisted session.
func (o *Orchestrator) ProcessTranscript(ctx context.Context, transcript string, createDoc bool) (*note.SOAPNote, *session.DocumentArtifact, error) {
	if transcript == "" {
		return nil, nil, errors.NewInvalidRequest("transcript is required")
	}

	n, err := callWithRetry(ctx, o.cfg, "extraction provider", func(stageCtx context.Context) (*note.SOAPNote, error) {
		return o.extractor.Extract(stageCtx, transcript)
	})
	if err != nil {
		return nil, nil, err
	}

	if !createDoc {
		return n, nil, nil
	}

	doc, err := callWithRetry(ctx, o.cfg, "document provider", func(stageCtx context.Context) (*session.DocumentArtifact, error) {
		return o.generator.Generate(stageCtx, n, DocumentMeta{Title: documentTitle(time.Now())})
	})
	if err != nil {
		// The note itself is still usable; callers decide what to show.
		return n, nil, err
	}
	return n, doc, nil
}

// documentTitle builds the external document title.
func documentTitle(t time.Time) string {
	return "Nota Clínica - " + t.Format("2006-01-02 15:04")
}
