package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"time"

	"github.com/clinia-app/clinia/internal/audio"
	"github.com/clinia-app/clinia/internal/config"
	"github.com/clinia-app/clinia/internal/db"
	"github.com/clinia-app/clinia/internal/errors"
	"github.com/clinia-app/clinia/internal/note"
	"github.com/clinia-app/clinia/internal/session"
)

// Run drives a session from its current state to a terminal state. Failed
// sessions are resumed at the stage that failed; entities from earlier
// successful stages are reused, never recomputed.
//
// Cancellation is honored only while awaiting an external call: a stage
// whose result was durably recorded stays recorded, and the session stops
// before the next stage starts.
func (o *Orchestrator) Run(ctx context.Context, id string) (*session.Session, error) {
	for {
		s, err := db.GetSession(o.db, id)
		if err != nil {
			return nil, err
		}

		stage := s.NextStage()
		if stage == "" {
			return s, nil
		}

		// Cancellation between stages: leave the session where it is; a
		// later Run picks it up from the same state.
		if ctx.Err() != nil {
			return s, errors.NewCancelled(string(stage))
		}

		active := stage.ActiveStatus()
		if s.Status != active {
			if err := db.TransitionStatus(o.db, id, s.Status, active); err != nil {
				return nil, err
			}
			s.Status = active
		}

		if err := o.runStage(ctx, s, stage); err != nil {
			// Failure is recorded on the session; surface it with the
			// stage attached.
			failed, getErr := db.GetSession(o.db, id)
			if getErr != nil {
				return nil, getErr
			}
			return failed, err
		}
	}
}

// runStage invokes one stage, retrying transient failures within the
// budget, and records either the stage result or the failure.
func (o *Orchestrator) runStage(ctx context.Context, s *session.Session, stage session.Stage) error {
	log.Printf("[orchestrator] session %s: %s", s.ID, stage)

	var stageErr error
	switch stage {
	case session.StageTranscribing:
		stageErr = o.transcribeStage(ctx, s)
	case session.StageExtracting:
		stageErr = o.extractStage(ctx, s)
	case session.StageGeneratingDocument:
		stageErr = o.generateStage(ctx, s)
	default:
		stageErr = errors.NewInternal(fmt.Errorf("unknown stage %q", stage))
	}

	if stageErr == nil {
		return nil
	}

	failure := &session.Failure{
		Stage:  stage,
		Code:   errors.CodeOf(stageErr),
		Reason: stageErr.Error(),
	}
	if pe, ok := stageErr.(*errors.PipelineError); ok {
		failure.Reason = pe.Message
	}
	log.Printf("[orchestrator] session %s: %s failed: %s", s.ID, stage, failure.Reason)

	if err := db.RecordFailure(o.db, s.ID, stage.ActiveStatus(), failure); err != nil {
		return err
	}
	return stageErr
}

func (o *Orchestrator) transcribeStage(ctx context.Context, s *session.Session) error {
	asset, err := audio.Retrieve(o.db, s.AudioID)
	if err != nil {
		return err
	}

	tr, err := o.callTranscriber(ctx, asset)
	if err != nil {
		return err
	}

	if err := db.RecordTranscript(o.db, s.ID, tr); err != nil {
		return err
	}
	// Duration becomes known through transcription; best-effort metadata.
	if tr.AudioDurationMS > 0 {
		if err := audio.SetDuration(o.db, asset.ID, tr.AudioDurationMS); err != nil {
			log.Printf("[orchestrator] session %s: record duration: %v", s.ID, err)
		}
	}
	log.Printf("[orchestrator] session %s: transcribed %d segments, %d words",
		s.ID, len(tr.Segments), tr.WordCount())
	return nil
}

func (o *Orchestrator) callTranscriber(ctx context.Context, asset *audio.Asset) (*session.Transcript, error) {
	return callWithRetry(ctx, o.cfg, "transcription provider", func(stageCtx context.Context) (*session.Transcript, error) {
		return o.transcriber.Transcribe(stageCtx, asset, o.cfg.Language)
	})
}

func (o *Orchestrator) extractStage(ctx context.Context, s *session.Session) error {
	if s.Transcript == nil {
		return errors.NewConflict("session has no transcript to extract from")
	}

	n, err := callWithRetry(ctx, o.cfg, "extraction provider", func(stageCtx context.Context) (*note.SOAPNote, error) {
		return o.extractor.Extract(stageCtx, s.Transcript.Text())
	})
	if err != nil {
		return err
	}
	return db.RecordNote(o.db, s.ID, n)
}

func (o *Orchestrator) generateStage(ctx context.Context, s *session.Session) error {
	if s.Note == nil {
		return errors.NewConflict("session has no note to render")
	}

	meta := DocumentMeta{
		SessionID: s.ID,
		Title:     documentTitle(time.Now()),
	}
	doc, err := callWithRetry(ctx, o.cfg, "document provider", func(stageCtx context.Context) (*session.DocumentArtifact, error) {
		return o.generator.Generate(stageCtx, s.Note, meta)
	})
	if err != nil {
		return err
	}
	return db.RecordDocument(o.db, s.ID, doc)
}

// callWithRetry runs one external call under the stage timeout, retrying
// transient failures within the configured budget. Definitive failures and
// cancellation return immediately.
func callWithRetry[T any](ctx context.Context, cfg *config.Config, provider string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	timeout := cfg.StageTimeout.Std()
	retries := cfg.StageRetries

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			// Short linear backoff between retries.
			select {
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			case <-ctx.Done():
				return zero, errors.NewCancelled(provider)
			}
			log.Printf("[orchestrator] retrying %s (attempt %d/%d)", provider, attempt+1, retries+1)
		}

		stageCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := fn(stageCtx)
		cancel()

		if err == nil {
			return result, nil
		}
		lastErr = normalizeCallError(ctx, provider, err)
		if !errors.IsTransient(lastErr) {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

// normalizeCallError maps raw context errors from a provider call into the
// taxonomy: deadline exceeded is a timeout, caller cancellation is
// cancellation, anything already structured passes through.
func normalizeCallError(parent context.Context, provider string, err error) error {
	if _, ok := err.(*errors.PipelineError); ok {
		return err
	}
	if parent.Err() != nil || stderrors.Is(err, context.Canceled) {
		return errors.NewCancelled(provider)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewTimeout(provider)
	}
	return errors.NewProviderUnavailable(provider, err)
}
