package web

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/clinia-app/clinia/internal/config"
	"github.com/clinia-app/clinia/internal/db"
	"github.com/clinia-app/clinia/internal/errors"
	"github.com/clinia-app/clinia/internal/note"
	"github.com/clinia-app/clinia/internal/pipeline"
	"github.com/clinia-app/clinia/internal/session"
)

// Handlers contains HTTP route handlers for the API and web UI.
type Handlers struct {
	db       *sql.DB
	cfg      *config.Config
	orch     *pipeline.Orchestrator
	renderer *Renderer
}

// HandleHealth handles GET /api/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.renderer.version,
	})
}

// HandleProcessAudio handles POST /api/process-audio — run the full
// pipeline on an uploaded recording. The session is returned in whatever
// terminal state it reached; a stage failure is reported through the
// session body, not the HTTP status.
func (h *Handlers) HandleProcessAudio(w http.ResponseWriter, r *http.Request) {
	content, format, err := h.readAudioUpload(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	s, runErr := h.orch.ProcessAudio(r.Context(), content, format)
	if s == nil {
		h.renderer.renderError(w, r, runErr)
		return
	}
	renderJSON(w, http.StatusOK, s)
}

// HandleTranscribeOnly handles POST /api/transcribe-only — transcription
// without a persisted session.
func (h *Handlers) HandleTranscribeOnly(w http.ResponseWriter, r *http.Request) {
	content, format, err := h.readAudioUpload(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	tr, err := h.orch.TranscribeOnly(r.Context(), content, format)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{
		"transcript": tr,
		"text":       tr.Text(),
		"word_count": tr.WordCount(),
	})
}

type processTranscriptRequest struct {
	Transcript string `json:"transcript"`
	CreateDoc  bool   `json:"create_doc"`
}

// HandleProcessTranscript handles POST /api/process-transcript — run
// extraction (and optionally document generation) on raw transcript text.
func (h *Handlers) HandleProcessTranscript(w http.ResponseWriter, r *http.Request) {
	var req processTranscriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid JSON body"))
		return
	}

	n, doc, err := h.orch.ProcessTranscript(r.Context(), strings.TrimSpace(req.Transcript), req.CreateDoc)
	if err != nil && n == nil {
		h.renderer.renderError(w, r, err)
		return
	}

	resp := map[string]any{"note": n}
	if doc != nil {
		resp["document"] = doc
	}
	if err != nil {
		// Note succeeded, document generation did not.
		pe := errors.NewInternal(err)
		if cast, ok := err.(*errors.PipelineError); ok {
			pe = cast
		}
		resp["document_error"] = map[string]any{
			"code":    string(pe.Code),
			"message": pe.Message,
		}
	}
	renderJSON(w, http.StatusOK, resp)
}

// HandleGetSession handles GET /api/sessions/{id}.
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := db.GetSession(h.db, r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, s)
}

// HandleListSessions handles GET /api/sessions.
func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 20)
	offset := parseIntParam(r, "offset", 0)

	items, err := db.ListSessions(h.db, limit, offset)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	total, err := db.CountSessions(h.db)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// HandleResumeSession handles POST /api/sessions/{id}/resume — run a stored
// or failed session to a terminal state. Failed sessions restart at the
// stage that failed.
func (h *Handlers) HandleResumeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, err := db.GetSession(h.db, id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if s.Status == session.StatusCompleted {
		h.renderer.renderError(w, r, errors.NewConflict(
			fmt.Sprintf("session %s is already completed", id)))
		return
	}

	s, runErr := h.orch.Run(r.Context(), id)
	if s == nil {
		h.renderer.renderError(w, r, runErr)
		return
	}
	renderJSON(w, http.StatusOK, s)
}

// HandleExportSession handles GET /api/sessions/{id}/export — download the
// session's note as a canonical JSON attachment.
func (h *Handlers) HandleExportSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s, err := db.GetSession(h.db, id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if s.Note == nil {
		h.renderer.renderError(w, r, errors.NewConflict(
			fmt.Sprintf("session %s has no note yet (status %s)", id, s.Status)))
		return
	}

	data, err := note.ExportStructured(s.Note)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="nota-%s.json"`, id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HandleListPage handles GET /sessions — the session list page.
func (h *Handlers) HandleListPage(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 20)
	offset := parseIntParam(r, "offset", 0)

	items, err := db.ListSessions(h.db, limit, offset)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	total, err := db.CountSessions(h.db)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, "list", ListPageData{
		PageData: PageData{
			Title:   "Sesiones",
			Version: h.renderer.version,
			Nav:     "sessions",
		},
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// HandleDetailPage handles GET /sessions/{id} — the session detail page.
func (h *Handlers) HandleDetailPage(w http.ResponseWriter, r *http.Request) {
	s, err := db.GetSession(h.db, r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	var rendered = renderMarkdown("")
	if s.Note != nil {
		rendered = renderMarkdown(note.Markdown(s.Note))
	}

	h.renderer.renderPage(w, "detail", DetailPageData{
		PageData: PageData{
			Title:   "Sesión " + shortID(s.ID),
			Version: h.renderer.version,
			Nav:     "sessions",
		},
		Session:      s,
		RenderedNote: rendered,
	})
}

// readAudioUpload extracts the audio bytes and declared format from a
// multipart upload. The multipart reader is capped slightly above the
// configured audio limit so oversized uploads fail with the structured
// size error rather than a generic parse error.
func (h *Handlers) readAudioUpload(r *http.Request) ([]byte, string, error) {
	maxBytes := h.cfg.MaxAudioBytes + 1<<20
	r.Body = http.MaxBytesReader(nil, r.Body, maxBytes)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		if strings.Contains(err.Error(), "request body too large") {
			return nil, "", errors.NewAudioTooLarge(h.cfg.MaxAudioBytes, maxBytes)
		}
		return nil, "", errors.NewInvalidRequest("expected multipart form with an \"audio\" file field")
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		return nil, "", errors.NewInvalidRequest("missing \"audio\" file field")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, "", errors.NewInvalidRequest("failed to read uploaded file")
	}

	format := r.FormValue("format")
	if format == "" {
		if idx := strings.LastIndex(header.Filename, "."); idx >= 0 {
			format = header.Filename[idx+1:]
		}
	}
	return content, format, nil
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
