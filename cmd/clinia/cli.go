package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/clinia-app/clinia/internal/audio"
	"github.com/clinia-app/clinia/internal/config"
	"github.com/clinia-app/clinia/internal/db"
	"github.com/clinia-app/clinia/internal/errors"
	"github.com/clinia-app/clinia/internal/note"
	"github.com/clinia-app/clinia/internal/pipeline"
	"github.com/clinia-app/clinia/internal/provider/assemblyai"
	"github.com/clinia-app/clinia/internal/provider/gdocs"
	"github.com/clinia-app/clinia/internal/provider/gemini"
	"github.com/clinia-app/clinia/internal/session"
	"github.com/clinia-app/clinia/internal/web"
)

// buildOrchestrator wires the real provider clients into a pipeline.
func buildOrchestrator(database *sql.DB, cfg *config.Config) *pipeline.Orchestrator {
	return pipeline.New(database, cfg,
		assemblyai.New(cfg),
		gemini.New(cfg),
		gdocs.New(cfg),
	)
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(database *sql.DB, cfg *config.Config) *cli.App {
	app := &cli.App{
		Name:    "clinia",
		Usage:   "Consultation audio to SOAP clinical notes",
		Version: Version,
		Commands: []*cli.Command{
			storeCmd(database, cfg),
			processCmd(database, cfg),
			transcribeCmd(database, cfg),
			extractCmd(database, cfg),
			getCmd(database),
			listCmd(database),
			resumeCmd(database, cfg),
			exportCmd(database),
			serveCmd(database, cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// storeCmd creates the store command: ingest a recording without running
// the pipeline. The created session is picked up later with resume.
func storeCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "store",
		Usage:     "Store a recording and create a session without processing it",
		ArgsUsage: "<audio-file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "Audio format (defaults to the file extension)"},
		},
		Action: func(c *cli.Context) error {
			content, format, err := readAudioArg(c)
			if err != nil {
				return outputError(err)
			}

			asset, err := audio.Store(database, cfg, audio.StoreInput{
				Content:        content,
				DeclaredFormat: format,
			})
			if err != nil {
				return outputError(err)
			}

			orch := buildOrchestrator(database, cfg)
			s, err := orch.CreateSession(asset.ID)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{
				"asset":   asset,
				"session": s,
			})
		},
	}
}

// processCmd creates the process command: full pipeline over an audio file.
func processCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "process",
		Usage:     "Run the full pipeline on a consultation recording",
		ArgsUsage: "<audio-file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "Audio format (defaults to the file extension)"},
		},
		Action: func(c *cli.Context) error {
			content, format, err := readAudioArg(c)
			if err != nil {
				return outputError(err)
			}

			orch := buildOrchestrator(database, cfg)
			s, runErr := orch.ProcessAudio(c.Context, content, format)
			if s == nil {
				return outputError(runErr)
			}
			return outputJSON(s)
		},
	}
}

// transcribeCmd creates the transcribe command: transcription only.
func transcribeCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "transcribe",
		Usage:     "Transcribe a recording without creating a session",
		ArgsUsage: "<audio-file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "Audio format (defaults to the file extension)"},
		},
		Action: func(c *cli.Context) error {
			content, format, err := readAudioArg(c)
			if err != nil {
				return outputError(err)
			}

			orch := buildOrchestrator(database, cfg)
			tr, err := orch.TranscribeOnly(c.Context, content, format)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{
				"transcript": tr,
				"text":       tr.Text(),
				"word_count": tr.WordCount(),
			})
		},
	}
}

// extractCmd creates the extract command: transcript text to note.
func extractCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "extract",
		Usage: "Extract a SOAP note from transcript text (reads transcript from stdin)",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "doc", Usage: "Also generate an external document"},
		},
		Action: func(c *cli.Context) error {
			if !stdinHasData() {
				return outputError(errors.NewInvalidRequest("transcript must be piped via stdin"))
			}
			transcript, err := readStdin()
			if err != nil {
				return outputError(errors.NewInternal(err))
			}

			orch := buildOrchestrator(database, cfg)
			n, doc, err := orch.ProcessTranscript(c.Context, transcript, c.Bool("doc"))
			if err != nil && n == nil {
				return outputError(err)
			}

			out := map[string]any{"note": n}
			if doc != nil {
				out["document"] = doc
			}
			if err != nil {
				out["document_error"] = err.Error()
			}
			return outputJSON(out)
		},
	}
}

// getCmd creates the get command.
func getCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Fetch a session by ID",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("session ID is required"))
			}
			s, err := db.GetSession(database, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(s)
		},
	}
}

// listCmd creates the list command.
func listCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List sessions, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			items, err := db.ListSessions(database, c.Int("limit"), c.Int("offset"))
			if err != nil {
				return outputError(err)
			}
			total, err := db.CountSessions(database)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{
				"items":  items,
				"total":  total,
				"limit":  c.Int("limit"),
				"offset": c.Int("offset"),
			})
		},
	}
}

// resumeCmd creates the resume command: run a stored or failed session to a
// terminal state. Failed sessions restart at the stage that failed.
func resumeCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Usage:     "Run a stored or failed session; failed sessions restart at the failed stage",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("session ID is required"))
			}
			id := c.Args().First()

			s, err := db.GetSession(database, id)
			if err != nil {
				return outputError(err)
			}
			if s.Status == session.StatusCompleted {
				return outputError(errors.NewConflict(
					fmt.Sprintf("session %s is already completed", id)))
			}

			orch := buildOrchestrator(database, cfg)
			s, runErr := orch.Run(c.Context, id)
			if s == nil {
				return outputError(runErr)
			}
			return outputJSON(s)
		},
	}
}

// exportCmd creates the export command: canonical note JSON to stdout.
func exportCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Export a session's note as canonical JSON",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("session ID is required"))
			}
			id := c.Args().First()

			s, err := db.GetSession(database, id)
			if err != nil {
				return outputError(err)
			}
			if s.Note == nil {
				return outputError(errors.NewConflict(
					fmt.Sprintf("session %s has no note yet (status %s)", id, s.Status)))
			}

			data, err := note.ExportStructured(s.Note)
			if err != nil {
				return outputError(err)
			}
			fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
}

// serveCmd creates the serve command: HTTP API and web UI.
func serveCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and web UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Aliases: []string{"b"}, Value: "127.0.0.1", Usage: "Bind address"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8420, Usage: "Listen port"},
		},
		Action: func(c *cli.Context) error {
			orch := buildOrchestrator(database, cfg)
			srv := web.NewServer(database, cfg, orch, Version, c.String("bind"), c.Int("port"))
			return web.Run(srv)
		},
	}
}

// Helper functions

// readAudioArg reads the audio file named by the first positional argument
// and resolves its declared format.
func readAudioArg(c *cli.Context) ([]byte, string, error) {
	if c.NArg() < 1 {
		return nil, "", errors.NewInvalidRequest("audio file path is required")
	}
	path := c.Args().First()

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, "", errors.NewInvalidRequest(fmt.Sprintf("cannot read %s: %v", path, err))
	}

	format := c.String("format")
	if format == "" {
		if idx := strings.LastIndex(path, "."); idx >= 0 {
			format = path[idx+1:]
		}
	}
	return content, format, nil
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if pe, ok := err.(*errors.PipelineError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", pe.Code, pe.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
