package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/clinia-app/clinia/internal/config"
	"github.com/clinia-app/clinia/internal/db"
	"github.com/clinia-app/clinia/internal/errors"
	"github.com/clinia-app/clinia/internal/note"
	"github.com/clinia-app/clinia/internal/pipeline"
	"github.com/clinia-app/clinia/internal/session"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db   *sql.DB
	cfg  *config.Config
	orch *pipeline.Orchestrator
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(database *sql.DB, cfg *config.Config, orch *pipeline.Orchestrator) *Handlers {
	return &Handlers{db: database, cfg: cfg, orch: orch}
}

// Request types for each tool

// ExtractNoteRequest represents the arguments for note_extract.
type ExtractNoteRequest struct {
	Transcript string `json:"transcript"`
	CreateDoc  bool   `json:"create_doc,omitempty"`
}

// GetRequest represents the arguments for session_get.
type GetRequest struct {
	ID string `json:"id"`
}

// ListRequest represents the arguments for session_list.
type ListRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// ExportRequest represents the arguments for session_export.
type ExportRequest struct {
	ID string `json:"id"`
}

// ResumeRequest represents the arguments for session_resume.
type ResumeRequest struct {
	ID string `json:"id"`
}

// Handler implementations

// HandleExtractNote handles the note_extract tool call.
func (h *Handlers) HandleExtractNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExtractNoteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	n, doc, err := h.orch.ProcessTranscript(ctx, strings.TrimSpace(input.Transcript), input.CreateDoc)
	if err != nil && n == nil {
		return errorResult(err), nil
	}

	payload := map[string]any{"note": n}
	if doc != nil {
		payload["document"] = doc
	}
	if err != nil {
		pe, ok := err.(*errors.PipelineError)
		if !ok {
			pe = errors.NewInternal(err)
		}
		payload["document_error"] = map[string]any{
			"code":    string(pe.Code),
			"message": pe.Message,
		}
	}
	return successResult(payload)
}

// HandleGet handles the session_get tool call.
func (h *Handlers) HandleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.ID == "" {
		return errorResult(errors.NewInvalidRequest("id is required")), nil
	}

	s, err := db.GetSession(h.db, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(s)
}

// HandleList handles the session_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Limit <= 0 {
		input.Limit = 20
	}

	items, err := db.ListSessions(h.db, input.Limit, input.Offset)
	if err != nil {
		return errorResult(err), nil
	}
	total, err := db.CountSessions(h.db)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{
		"items":  items,
		"total":  total,
		"limit":  input.Limit,
		"offset": input.Offset,
	})
}

// HandleExport handles the session_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.ID == "" {
		return errorResult(errors.NewInvalidRequest("id is required")), nil
	}

	s, err := db.GetSession(h.db, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	if s.Note == nil {
		return errorResult(errors.NewConflict(
			fmt.Sprintf("session %s has no note yet (status %s)", input.ID, s.Status))), nil
	}

	data, err := note.ExportStructured(s.Note)
	if err != nil {
		return errorResult(err), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(data)}},
	}, nil
}

// HandleResume handles the session_resume tool call.
func (h *Handlers) HandleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ResumeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.ID == "" {
		return errorResult(errors.NewInvalidRequest("id is required")), nil
	}

	s, err := db.GetSession(h.db, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	if s.Status == session.StatusCompleted {
		return errorResult(errors.NewConflict(
			fmt.Sprintf("session %s is already completed", input.ID))), nil
	}

	s, runErr := h.orch.Run(ctx, input.ID)
	if s == nil {
		return errorResult(runErr), nil
	}
	return successResult(s)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if pe, ok := err.(*errors.PipelineError); ok {
		errorObj := map[string]any{
			"code":    pe.Code,
			"message": pe.Message,
			"status":  pe.Status,
		}
		if pe.Code != errors.ErrInternal && pe.Details != nil {
			errorObj["details"] = pe.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
