package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// Config holds application configuration.
type Config struct {
	// Language is the consultation language sent to the transcription
	// provider. The pipeline is single-language.
	Language string `json:"language"`

	// MaxAudioBytes is the maximum accepted audio upload size.
	MaxAudioBytes int64 `json:"max_audio_bytes"`

	// StageTimeout bounds each external provider call. Exceeding it
	// surfaces as a timeout rather than hanging the session.
	StageTimeout Duration `json:"stage_timeout"`

	// StageRetries is how many times the orchestrator re-invokes a stage
	// after a transient failure before recording the session as failed.
	StageRetries int `json:"stage_retries"`

	// PollInterval is the delay between transcription status polls.
	PollInterval Duration `json:"poll_interval"`

	// Provider credentials. Normally supplied via environment variables
	// (ASSEMBLYAI_API_KEY, GEMINI_API_KEY, GOOGLE_DOCS_TOKEN); values in
	// config.json are overridden by the environment.
	AssemblyAIKey   string `json:"assemblyai_api_key,omitempty"`
	GeminiKey       string `json:"gemini_api_key,omitempty"`
	GoogleDocsToken string `json:"google_docs_token,omitempty"`

	// Provider endpoints, overridable for testing against local doubles.
	AssemblyAIBaseURL string `json:"assemblyai_base_url,omitempty"`
	GeminiBaseURL     string `json:"gemini_base_url,omitempty"`
	GoogleDocsBaseURL string `json:"google_docs_base_url,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// Duration wraps time.Duration with JSON string encoding ("90s", "2m").
type Duration time.Duration

// MarshalJSON encodes the duration in time.Duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string or nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Language:      "es",
		MaxAudioBytes: 50 * 1024 * 1024,
		StageTimeout:  Duration(2 * time.Minute),
		StageRetries:  1,
		PollInterval:  Duration(2 * time.Second),
	}
}

// Load loads configuration from baseDir/config.json, merged over defaults,
// with provider credentials overridable from the environment.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.clinia.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overrides provider credentials from environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ASSEMBLYAI_API_KEY"); v != "" {
		cfg.AssemblyAIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiKey = v
	}
	if v := os.Getenv("GOOGLE_DOCS_TOKEN"); v != "" {
		cfg.GoogleDocsToken = v
	}
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs. Overlay values take precedence
// for non-zero scalars; arrays are taken from the overlay when present.
func Merge(base, overlay *Config) *Config {
	result := *overlay

	if result.Language == "" {
		result.Language = base.Language
	}
	if result.MaxAudioBytes == 0 {
		result.MaxAudioBytes = base.MaxAudioBytes
	}
	if result.StageTimeout == 0 {
		result.StageTimeout = base.StageTimeout
	}
	if result.StageRetries == 0 {
		result.StageRetries = base.StageRetries
	}
	if result.PollInterval == 0 {
		result.PollInterval = base.PollInterval
	}
	if result.DBMaxOpenConns == 0 {
		result.DBMaxOpenConns = base.DBMaxOpenConns
	}
	if result.DBMaxIdleConns == 0 {
		result.DBMaxIdleConns = base.DBMaxIdleConns
	}
	if result.DisabledTools == nil {
		result.DisabledTools = base.DisabledTools
	}

	return &result
}

// BaseDir returns the clinia base directory (~/.clinia), creating nothing.
// CLINIA_HOME overrides it, which tests and containers rely on.
func BaseDir() (string, error) {
	if dir := os.Getenv("CLINIA_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".clinia"), nil
}
