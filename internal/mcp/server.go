package mcp

import (
	"context"
	"database/sql"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/clinia-app/clinia/internal/config"
	"github.com/clinia-app/clinia/internal/pipeline"
)

var extractNoteToolDef = mcp.NewTool("note_extract",
	mcp.WithDescription("Extract a SOAP-structured clinical note from a Spanish consultation transcript. Optionally generates a shareable document."),
	mcp.WithString("transcript",
		mcp.Required(),
		mcp.Description("Consultation transcript text in Spanish."),
	),
	mcp.WithBoolean("create_doc",
		mcp.Description("Also generate an external document from the note."),
	),
)

var getToolDef = mcp.NewTool("session_get",
	mcp.WithDescription("Fetch a consultation session by ID, including its status, transcript, note, and document when present."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Session ULID."),
	),
)

var listToolDef = mcp.NewTool("session_list",
	mcp.WithDescription("List consultation sessions, newest first."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of sessions to return (default 20)."),
	),
	mcp.WithNumber("offset",
		mcp.Description("Number of sessions to skip."),
	),
)

var exportToolDef = mcp.NewTool("session_export",
	mcp.WithDescription("Export a session's clinical note as canonical JSON with the four SOAP section keys."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Session ULID."),
	),
)

var resumeToolDef = mcp.NewTool("session_resume",
	mcp.WithDescription("Run a stored or failed session to a terminal state. Failed sessions restart at the stage that failed; earlier successful stage results are kept."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Session ULID."),
	),
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"note_extract": {
		def:     extractNoteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExtractNote },
	},
	"session_get": {
		def:     getToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGet },
	},
	"session_list": {
		def:     listToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleList },
	},
	"session_export": {
		def:     exportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExport },
	},
	"session_resume": {
		def:     resumeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleResume },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with clinia tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(db *sql.DB, cfg *config.Config, orch *pipeline.Orchestrator, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"clinia",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(db, cfg, orch)

	disabled := make(map[string]bool)
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(db *sql.DB, cfg *config.Config, orch *pipeline.Orchestrator, version string) error {
	s := NewServer(db, cfg, orch, version)
	return server.ServeStdio(s)
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
