package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/clinia-app/clinia/internal/audio"
	"github.com/clinia-app/clinia/internal/config"
	"github.com/clinia-app/clinia/internal/db"
	"github.com/clinia-app/clinia/internal/errors"
	"github.com/clinia-app/clinia/internal/note"
	"github.com/clinia-app/clinia/internal/pipeline"
	"github.com/clinia-app/clinia/internal/session"
)

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(_ context.Context, _ *audio.Asset, language string) (*session.Transcript, error) {
	return &session.Transcript{
		Language: language,
		Segments: []session.Segment{{Text: "Paciente refiere tos seca."}},
	}, nil
}

type stubExtractor struct {
	err error
}

func (e stubExtractor) Extract(context.Context, string) (*note.SOAPNote, error) {
	if e.err != nil {
		return nil, e.err
	}
	return &note.SOAPNote{Subjective: "Tos seca", Plan: "Antitusivo"}, nil
}

type stubGenerator struct{}

func (stubGenerator) Generate(_ context.Context, _ *note.SOAPNote, meta pipeline.DocumentMeta) (*session.DocumentArtifact, error) {
	return &session.DocumentArtifact{DocumentID: "doc-1", Link: "https://docs.google.com/document/d/doc-1/edit", Title: meta.Title}, nil
}

// testSetup creates handlers over a temporary database and stub providers.
func testSetup(t *testing.T) *Handlers {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	orch := pipeline.New(database, cfg, stubTranscriber{}, stubExtractor{}, stubGenerator{})
	return NewHandlers(database, cfg, orch)
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

// resultText extracts the text payload from a tool result.
func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", res.Content[0])
	}
	return tc.Text
}

// resultJSON decodes the result text payload into a map.
func resultJSON(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(resultText(t, res)), &payload); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return payload
}

// errorCode extracts the error code from an error result.
func errorCode(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if !res.IsError {
		t.Fatal("result is not an error")
	}
	payload := resultJSON(t, res)
	errObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error object in %v", payload)
	}
	code, _ := errObj["code"].(string)
	return code
}

// seedSession runs the full pipeline and returns the completed session ID.
func seedSession(t *testing.T, h *Handlers) string {
	t.Helper()
	s, err := h.orch.ProcessAudio(context.Background(), []byte("fake audio"), "wav")
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return s.ID
}

func TestHandleExtractNote(t *testing.T) {
	h := testSetup(t)

	res, err := h.HandleExtractNote(context.Background(), makeRequest(map[string]any{
		"transcript": "Paciente refiere tos seca.",
	}))
	if err != nil {
		t.Fatalf("HandleExtractNote: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	payload := resultJSON(t, res)
	n, ok := payload["note"].(map[string]any)
	if !ok {
		t.Fatalf("no note in %v", payload)
	}
	if n["subjective"] != "Tos seca" {
		t.Errorf("subjective = %v", n["subjective"])
	}
	if _, ok := payload["document"]; ok {
		t.Error("document present without create_doc")
	}
}

func TestHandleExtractNoteWithDocument(t *testing.T) {
	h := testSetup(t)

	res, err := h.HandleExtractNote(context.Background(), makeRequest(map[string]any{
		"transcript": "Paciente refiere tos seca.",
		"create_doc": true,
	}))
	if err != nil {
		t.Fatalf("HandleExtractNote: %v", err)
	}
	payload := resultJSON(t, res)
	doc, ok := payload["document"].(map[string]any)
	if !ok {
		t.Fatalf("no document in %v", payload)
	}
	if !strings.HasPrefix(doc["link"].(string), "https://docs.google.com/") {
		t.Errorf("link = %v", doc["link"])
	}
}

func TestHandleExtractNoteEmptyTranscript(t *testing.T) {
	h := testSetup(t)

	res, err := h.HandleExtractNote(context.Background(), makeRequest(map[string]any{
		"transcript": "   ",
	}))
	if err != nil {
		t.Fatalf("HandleExtractNote: %v", err)
	}
	if code := errorCode(t, res); code != string(errors.ErrInvalidRequest) {
		t.Errorf("code = %q, want INVALID_REQUEST", code)
	}
}

func TestHandleExtractNoteProviderFailure(t *testing.T) {
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	orch := pipeline.New(database, cfg,
		stubTranscriber{},
		stubExtractor{err: errors.NewExtractionFailed("model refused")},
		stubGenerator{})
	h := NewHandlers(database, cfg, orch)

	res, err := h.HandleExtractNote(context.Background(), makeRequest(map[string]any{
		"transcript": "Paciente refiere tos seca.",
	}))
	if err != nil {
		t.Fatalf("HandleExtractNote: %v", err)
	}
	if code := errorCode(t, res); code != string(errors.ErrExtractionFailed) {
		t.Errorf("code = %q, want EXTRACTION_FAILED", code)
	}
}

func TestHandleGet(t *testing.T) {
	h := testSetup(t)
	id := seedSession(t, h)

	res, err := h.HandleGet(context.Background(), makeRequest(map[string]any{"id": id}))
	if err != nil {
		t.Fatalf("HandleGet: %v", err)
	}
	payload := resultJSON(t, res)
	if payload["id"] != id {
		t.Errorf("id = %v, want %v", payload["id"], id)
	}
	if payload["status"] != string(session.StatusCompleted) {
		t.Errorf("status = %v", payload["status"])
	}
}

func TestHandleGetNotFound(t *testing.T) {
	h := testSetup(t)

	res, err := h.HandleGet(context.Background(), makeRequest(map[string]any{"id": "missing"}))
	if err != nil {
		t.Fatalf("HandleGet: %v", err)
	}
	if code := errorCode(t, res); code != string(errors.ErrNotFound) {
		t.Errorf("code = %q, want NOT_FOUND", code)
	}
}

func TestHandleGetMissingID(t *testing.T) {
	h := testSetup(t)

	res, err := h.HandleGet(context.Background(), makeRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("HandleGet: %v", err)
	}
	if code := errorCode(t, res); code != string(errors.ErrInvalidRequest) {
		t.Errorf("code = %q, want INVALID_REQUEST", code)
	}
}

func TestHandleList(t *testing.T) {
	h := testSetup(t)
	seedSession(t, h)
	seedSession(t, h)

	res, err := h.HandleList(context.Background(), makeRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("HandleList: %v", err)
	}
	payload := resultJSON(t, res)
	if total, _ := payload["total"].(float64); total != 2 {
		t.Errorf("total = %v, want 2", payload["total"])
	}
	items, _ := payload["items"].([]any)
	if len(items) != 2 {
		t.Errorf("len(items) = %d, want 2", len(items))
	}
}

func TestHandleExport(t *testing.T) {
	h := testSetup(t)
	id := seedSession(t, h)

	res, err := h.HandleExport(context.Background(), makeRequest(map[string]any{"id": id}))
	if err != nil {
		t.Fatalf("HandleExport: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}

	var exported map[string]string
	if err := json.Unmarshal([]byte(resultText(t, res)), &exported); err != nil {
		t.Fatalf("export is not flat JSON: %v", err)
	}
	if len(exported) != 4 {
		t.Errorf("export has %d keys, want 4", len(exported))
	}
	if exported["plan"] != "Antitusivo" {
		t.Errorf("plan = %q", exported["plan"])
	}
}

func TestHandleExportNoNote(t *testing.T) {
	h := testSetup(t)

	asset, err := audio.Store(h.db, h.cfg, audio.StoreInput{Content: []byte("x"), DeclaredFormat: "wav"})
	if err != nil {
		t.Fatalf("store audio: %v", err)
	}
	s, err := h.orch.CreateSession(asset.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	res, err := h.HandleExport(context.Background(), makeRequest(map[string]any{"id": s.ID}))
	if err != nil {
		t.Fatalf("HandleExport: %v", err)
	}
	if code := errorCode(t, res); code != string(errors.ErrConflict) {
		t.Errorf("code = %q, want CONFLICT", code)
	}
}

func TestHandleResumeNotFailed(t *testing.T) {
	h := testSetup(t)
	id := seedSession(t, h)

	res, err := h.HandleResume(context.Background(), makeRequest(map[string]any{"id": id}))
	if err != nil {
		t.Fatalf("HandleResume: %v", err)
	}
	if code := errorCode(t, res); code != string(errors.ErrConflict) {
		t.Errorf("code = %q, want CONFLICT", code)
	}
}

func TestValidateDisabledTools(t *testing.T) {
	unknown := ValidateDisabledTools([]string{"session_get", "bogus_tool"})
	if len(unknown) != 1 || unknown[0] != "bogus_tool" {
		t.Errorf("unknown = %v, want [bogus_tool]", unknown)
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()
	if len(names) != len(toolRegistry) {
		t.Errorf("len(names) = %d, want %d", len(names), len(toolRegistry))
	}
	seen := make(map[string]bool)
	for _, n := range names {
		if seen[n] {
			t.Errorf("duplicate name %q", n)
		}
		seen[n] = true
	}
}
