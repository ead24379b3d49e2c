package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/clinia-app/clinia/internal/config"
	"github.com/clinia-app/clinia/internal/errors"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.DefaultConfig()
	cfg.GeminiKey = "test-key"
	cfg.GeminiBaseURL = srv.URL
	return New(cfg)
}

func candidateResponse(text string) map[string]any {
	return map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]string{{"text": text}}}},
		},
	}
}

func TestExtract(t *testing.T) {
	var gotPath string
	var gotReq generateRequest
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("key query param = %q", r.URL.Query().Get("key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(candidateResponse(`{"subjetivo": "Dolor de cabeza desde hace dos días", "objetivo": "TA 120/80", "evaluacion": "Cefalea tensional", "plan": "Paracetamol 500mg cada 8 horas"}`))
	}))

	n, err := client.Extract(context.Background(), "Paciente refiere dolor de cabeza desde hace dos días.")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if gotPath != "/v1beta/models/gemini-flash-latest:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotReq.GenerationConfig.Temperature != 0.1 {
		t.Errorf("temperature = %v, want 0.1", gotReq.GenerationConfig.Temperature)
	}
	if len(gotReq.Contents) != 1 || len(gotReq.Contents[0].Parts) != 1 {
		t.Fatalf("unexpected request shape: %+v", gotReq)
	}
	if !strings.Contains(gotReq.Contents[0].Parts[0].Text, "dolor de cabeza") {
		t.Error("prompt does not contain the transcript")
	}
	if n.Assessment != "Cefalea tensional" {
		t.Errorf("Assessment = %q", n.Assessment)
	}
	if n.Plan != "Paracetamol 500mg cada 8 horas" {
		t.Errorf("Plan = %q", n.Plan)
	}
}

func TestExtractFencedAnswer(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(candidateResponse("```json\n{\"subjetivo\": \"Mareo ocasional\", \"objetivo\": \"\", \"evaluacion\": \"\", \"plan\": \"\"}\n```"))
	}))

	n, err := client.Extract(context.Background(), "El paciente menciona mareo ocasional.")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if n.Subjective != "Mareo ocasional" {
		t.Errorf("Subjective = %q", n.Subjective)
	}
}

func TestExtractMalformedAnswer(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(candidateResponse("Lo siento, no puedo procesar esta transcripción."))
	}))

	_, err := client.Extract(context.Background(), "Consulta de control.")
	if errors.CodeOf(err) != errors.ErrMalformedModelOutput {
		t.Fatalf("code = %v, want MALFORMED_MODEL_OUTPUT (err: %v)", errors.CodeOf(err), err)
	}
}

func TestExtractNoCandidates(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"candidates": []any{}})
	}))

	_, err := client.Extract(context.Background(), "Consulta de control.")
	if errors.CodeOf(err) != errors.ErrExtractionFailed {
		t.Fatalf("code = %v, want EXTRACTION_FAILED", errors.CodeOf(err))
	}
}

func TestExtractServerError(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": 503, "message": "overloaded"}}`, http.StatusServiceUnavailable)
	}))

	_, err := client.Extract(context.Background(), "Consulta de control.")
	if errors.CodeOf(err) != errors.ErrProviderUnavailable {
		t.Fatalf("code = %v, want PROVIDER_UNAVAILABLE", errors.CodeOf(err))
	}
	if !errors.IsTransient(err) {
		t.Error("5xx from gemini should be transient")
	}
}

func TestExtractClientError(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": 400, "message": "invalid key"}}`, http.StatusBadRequest)
	}))

	_, err := client.Extract(context.Background(), "Consulta de control.")
	if errors.CodeOf(err) != errors.ErrExtractionFailed {
		t.Fatalf("code = %v, want EXTRACTION_FAILED", errors.CodeOf(err))
	}
	if errors.IsTransient(err) {
		t.Error("4xx from gemini should not be transient")
	}
}

func TestExtractEmptyTranscript(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.GeminiKey = "test-key"
	client := New(cfg)

	_, err := client.Extract(context.Background(), "   ")
	if errors.CodeOf(err) != errors.ErrInvalidRequest {
		t.Fatalf("code = %v, want INVALID_REQUEST", errors.CodeOf(err))
	}
}

func TestExtractMissingKey(t *testing.T) {
	client := New(config.DefaultConfig())

	_, err := client.Extract(context.Background(), "Consulta de control.")
	if errors.CodeOf(err) != errors.ErrInvalidRequest {
		t.Fatalf("code = %v, want INVALID_REQUEST", errors.CodeOf(err))
	}
}
