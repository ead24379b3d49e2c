// Package gdocs renders clinical notes into Google Docs documents via
// the Docs REST API (documents.create + documents.batchUpdate).
package gdocs

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clinia-app/clinia/internal/config"
	"github.com/clinia-app/clinia/internal/errors"
	"github.com/clinia-app/clinia/internal/note"
	"github.com/clinia-app/clinia/internal/pipeline"
	"github.com/clinia-app/clinia/internal/session"
)

const defaultBaseURL = "https://docs.googleapis.com"

// Client creates and fills Google Docs from SOAP notes.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New builds a Client from configuration.
func New(cfg *config.Config) *Client {
	base := cfg.GoogleDocsBaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		token:   cfg.GoogleDocsToken,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

type createDocumentRequest struct {
	Title string `json:"title"`
}

type createDocumentResponse struct {
	DocumentID string `json:"documentId"`
}

type batchUpdateRequest struct {
	Requests []docRequest `json:"requests"`
}

type docRequest struct {
	InsertText      *insertTextRequest      `json:"insertText,omitempty"`
	UpdateTextStyle *updateTextStyleRequest `json:"updateTextStyle,omitempty"`
}

type insertTextRequest struct {
	Location location `json:"location"`
	Text     string   `json:"text"`
}

type updateTextStyleRequest struct {
	Range     docRange  `json:"range"`
	TextStyle textStyle `json:"textStyle"`
	Fields    string    `json:"fields"`
}

type location struct {
	Index int `json:"index"`
}

type docRange struct {
	StartIndex int `json:"startIndex"`
	EndIndex   int `json:"endIndex"`
}

type textStyle struct {
	Bold     bool      `json:"bold,omitempty"`
	FontSize *fontSize `json:"fontSize,omitempty"`
}

type fontSize struct {
	Magnitude float64 `json:"magnitude"`
	Unit      string  `json:"unit"`
}

// Generate creates a titled document and fills it with the note's four
// sections, section labels in bold, in the fixed S-O-A-P order.
func (c *Client) Generate(ctx context.Context, n *note.SOAPNote, meta pipeline.DocumentMeta) (*session.DocumentArtifact, error) {
	if c.token == "" {
		return nil, errors.NewInvalidRequest("GOOGLE_DOCS_TOKEN is not set")
	}

	docID, err := c.createDocument(ctx, meta.Title)
	if err != nil {
		return nil, err
	}
	if err := c.fillDocument(ctx, docID, n); err != nil {
		return nil, err
	}

	return &session.DocumentArtifact{
		DocumentID: docID,
		Link:       fmt.Sprintf("https://docs.google.com/document/d/%s/edit", docID),
		Title:      meta.Title,
		CreatedAt:  time.Now().UnixMilli(),
	}, nil
}

func (c *Client) createDocument(ctx context.Context, title string) (string, error) {
	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/v1/documents", createDocumentRequest{Title: title})
	if err != nil {
		return "", err
	}
	var resp createDocumentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.NewGenerationFailed(fmt.Sprintf("decode create response: %v", err))
	}
	if resp.DocumentID == "" {
		return "", errors.NewGenerationFailed("google docs returned no document id")
	}
	return resp.DocumentID, nil
}

func (c *Client) fillDocument(ctx context.Context, docID string, n *note.SOAPNote) error {
	reqs := buildDocumentRequests(n)
	if len(reqs) == 0 {
		return nil
	}
	url := fmt.Sprintf("%s/v1/documents/%s:batchUpdate", c.baseURL, docID)
	_, err := c.do(ctx, http.MethodPost, url, batchUpdateRequest{Requests: reqs})
	return err
}

// buildDocumentRequests emits one insertText per section plus an
// updateTextStyle bolding each label. Sections always appear, even when
// empty, so the document shape is stable.
func buildDocumentRequests(n *note.SOAPNote) []docRequest {
	var reqs []docRequest
	index := 1
	for _, s := range note.Sections {
		label := note.Heading(s) + "\n"
		body := strings.TrimSpace(n.Get(s))
		if body == "" {
			body = "Sin información registrada."
		}
		text := body + "\n\n"

		reqs = append(reqs, docRequest{
			InsertText: &insertTextRequest{
				Location: location{Index: index},
				Text:     label,
			},
		})
		reqs = append(reqs, docRequest{
			UpdateTextStyle: &updateTextStyleRequest{
				Range:     docRange{StartIndex: index, EndIndex: index + len([]rune(label)) - 1},
				TextStyle: textStyle{Bold: true, FontSize: &fontSize{Magnitude: 13, Unit: "PT"}},
				Fields:    "bold,fontSize",
			},
		})
		index += len([]rune(label))

		reqs = append(reqs, docRequest{
			InsertText: &insertTextRequest{
				Location: location{Index: index},
				Text:     text,
			},
		})
		index += len([]rune(text))
	}
	return reqs
}

func (c *Client) do(ctx context.Context, method, url string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if pe := mapContextError(err); pe != nil {
			return nil, pe
		}
		return nil, errors.NewProviderUnavailable("google docs", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.NewProviderUnavailable("google docs", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, errors.NewProviderUnavailable("google docs", fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200)))
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, errors.NewGenerationFailed(fmt.Sprintf("google docs authorization failed (status %d): %s", resp.StatusCode, truncate(body, 200)))
	case resp.StatusCode != http.StatusOK:
		return nil, errors.NewGenerationFailed(fmt.Sprintf("google docs returned status %d: %s", resp.StatusCode, truncate(body, 200)))
	}
	return body, nil
}

func mapContextError(err error) *errors.PipelineError {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewTimeout("google docs")
	case stderrors.Is(err, context.Canceled):
		return errors.NewCancelled("document generation cancelled")
	}
	return nil
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
