// Package assemblyai implements the transcription capability against the
// AssemblyAI v2 REST API. The provider is asynchronous (submit then poll);
// this client hides that behind one bounded-wait call.
package assemblyai

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clinia-app/clinia/internal/audio"
	"github.com/clinia-app/clinia/internal/config"
	"github.com/clinia-app/clinia/internal/errors"
	"github.com/clinia-app/clinia/internal/session"
)

const defaultBaseURL = "https://api.assemblyai.com/v2"

const providerName = "assemblyai"

// Client talks to the AssemblyAI transcription API.
type Client struct {
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	httpClient   *http.Client
}

// New creates a Client from configuration.
func New(cfg *config.Config) *Client {
	baseURL := cfg.AssemblyAIBaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:      baseURL,
		apiKey:       cfg.AssemblyAIKey,
		pollInterval: cfg.PollInterval.Std(),
		httpClient:   &http.Client{},
	}
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type createRequest struct {
	AudioURL      string `json:"audio_url"`
	LanguageCode  string `json:"language_code"`
	Punctuate     bool   `json:"punctuate"`
	FormatText    bool   `json:"format_text"`
	SpeakerLabels bool   `json:"speaker_labels"`
}

type utterance struct {
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Start      int64   `json:"start"`
	End        int64   `json:"end"`
}

type transcriptResponse struct {
	ID            string      `json:"id"`
	Status        string      `json:"status"`
	Text          *string     `json:"text"`
	Confidence    float64     `json:"confidence"`
	AudioDuration float64     `json:"audio_duration"` // seconds
	Utterances    []utterance `json:"utterances"`
	Error         string      `json:"error"`
}

// Transcribe uploads the audio, creates a transcription job, and polls it
// to completion. The caller's context bounds the total wait.
func (c *Client) Transcribe(ctx context.Context, asset *audio.Asset, language string) (*session.Transcript, error) {
	uploadURL, err := c.upload(ctx, asset.Content)
	if err != nil {
		return nil, err
	}

	jobID, err := c.create(ctx, uploadURL, language)
	if err != nil {
		return nil, err
	}

	raw, err := c.poll(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return mapTranscript(raw, language)
}

func (c *Client) upload(ctx context.Context, content []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", bytes.NewReader(content))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	req.Header.Set("authorization", c.apiKey)
	req.Header.Set("content-type", "application/octet-stream")

	var out uploadResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.UploadURL == "" {
		return "", errors.NewTranscriptionFailed("upload accepted but no upload_url returned")
	}
	return out.UploadURL, nil
}

func (c *Client) create(ctx context.Context, audioURL, language string) (string, error) {
	body, err := json.Marshal(createRequest{
		AudioURL:      audioURL,
		LanguageCode:  language,
		Punctuate:     true,
		FormatText:    true,
		SpeakerLabels: true,
	})
	if err != nil {
		return "", errors.NewInternal(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcript", bytes.NewReader(body))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	req.Header.Set("authorization", c.apiKey)
	req.Header.Set("content-type", "application/json")

	var out transcriptResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.NewTranscriptionFailed("transcription job accepted but no id returned")
	}
	return out.ID, nil
}

// poll fetches job status until it is terminal. The context deadline bounds
// the wait; hitting it surfaces as a timeout.
func (c *Client) poll(ctx context.Context, jobID string) (*transcriptResponse, error) {
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/transcript/"+jobID, nil)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		req.Header.Set("authorization", c.apiKey)

		var out transcriptResponse
		if err := c.do(req, &out); err != nil {
			return nil, err
		}

		switch out.Status {
		case "completed":
			return &out, nil
		case "error":
			return nil, errors.NewTranscriptionFailed(fmt.Sprintf("provider reported error: %s", out.Error))
		}

		select {
		case <-time.After(c.pollInterval):
		case <-ctx.Done():
			return nil, mapContextError(ctx.Err())
		}
	}
}

// mapTranscript normalizes the provider result into ordered segments.
// Empty audio yields a zero-segment transcript; a completed job with no
// text field at all is a partial response and therefore a failure.
func mapTranscript(raw *transcriptResponse, language string) (*session.Transcript, error) {
	if raw.Text == nil {
		return nil, errors.NewTranscriptionFailed("provider returned a partial response (completed without text)")
	}

	tr := &session.Transcript{
		Language:        language,
		AudioDurationMS: int64(raw.AudioDuration * 1000),
	}

	if len(raw.Utterances) > 0 {
		tr.Segments = make([]session.Segment, 0, len(raw.Utterances))
		for _, u := range raw.Utterances {
			tr.Segments = append(tr.Segments, session.Segment{
				Text:       u.Text,
				Speaker:    u.Speaker,
				Confidence: u.Confidence,
				StartMS:    u.Start,
				EndMS:      u.End,
			})
		}
		return tr, nil
	}

	if *raw.Text != "" {
		tr.Segments = []session.Segment{{Text: *raw.Text, Confidence: raw.Confidence}}
	}
	return tr, nil
}

// do executes a request and decodes the JSON response, mapping transport
// and status failures into the pipeline taxonomy.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := mapContextError(err); ctxErr != nil {
			return ctxErr
		}
		return errors.NewProviderUnavailable(providerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return errors.NewProviderUnavailable(providerName, fmt.Errorf("http %d", resp.StatusCode))
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return errors.NewTranscriptionFailed(fmt.Sprintf("provider rejected request: http %d: %s", resp.StatusCode, truncate(string(b), 200)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewTranscriptionFailed(fmt.Sprintf("provider returned undecodable response: %v", err))
	}
	return nil
}

// mapContextError translates context termination into the taxonomy, or
// returns nil for unrelated errors.
func mapContextError(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewTimeout(providerName)
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.NewCancelled(providerName)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
