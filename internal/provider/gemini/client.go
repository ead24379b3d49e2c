// Package gemini extracts structured clinical notes from consultation
// transcripts via the Google Gemini generateContent API.
package gemini

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
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	modelName      = "gemini-flash-latest"
)

// Client calls the Gemini API to turn a transcript into a SOAP note.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New builds a Client from configuration. The base URL override is for
// tests pointing at a local server.
func New(cfg *config.Config) *Client {
	base := cfg.GeminiBaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  cfg.GeminiKey,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Extract submits the transcript and decodes the model's answer into a
// SOAP note.
func (c *Client) Extract(ctx context.Context, transcript string) (*note.SOAPNote, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, errors.NewInvalidRequest("transcript is empty")
	}
	if c.apiKey == "" {
		return nil, errors.NewInvalidRequest("GEMINI_API_KEY is not set")
	}

	reqBody := generateRequest{
		Contents: []content{{Parts: []part{{Text: BuildPrompt(transcript)}}}},
		GenerationConfig: generationConfig{
			Temperature:     0.1,
			TopP:            0.95,
			TopK:            40,
			MaxOutputTokens: 2048,
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("encode request: %w", err))
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, modelName, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if pe := mapContextError(err); pe != nil {
			return nil, pe
		}
		return nil, errors.NewProviderUnavailable("gemini", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.NewProviderUnavailable("gemini", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, errors.NewProviderUnavailable("gemini", fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200)))
	case resp.StatusCode != http.StatusOK:
		return nil, errors.NewExtractionFailed(fmt.Sprintf("gemini returned status %d: %s", resp.StatusCode, truncate(body, 200)))
	}

	var gr generateResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, errors.NewExtractionFailed(fmt.Sprintf("decode response: %v", err))
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return nil, errors.NewExtractionFailed("gemini returned no candidates")
	}

	var raw strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		raw.WriteString(p.Text)
	}
	return note.Decode(raw.String())
}

func mapContextError(err error) *errors.PipelineError {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewTimeout("gemini")
	case stderrors.Is(err, context.Canceled):
		return errors.NewCancelled("gemini call cancelled")
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
