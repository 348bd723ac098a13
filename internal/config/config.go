package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
	APIBind   string `toml:"api_bind"`
	APIToken  string `toml:"api_token"`
}

// Extraction contains configuration for the remote PDF extraction service.
type Extraction struct {
	Token                 string `toml:"token"`
	BaseURL               string `toml:"base_url"`
	ModelVersion          string `toml:"model_version"`
	IsOCR                 bool   `toml:"is_ocr"`
	PollIntervalSeconds   int    `toml:"poll_interval_seconds"`
	TimeoutSeconds        int    `toml:"timeout_seconds"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	UploadTimeoutSeconds  int    `toml:"upload_timeout_seconds"`
}

// LLM contains the text transformation provider settings shared by
// translation, analysis, prompt polishing, graphs, and reports.
type LLM struct {
	Provider       string  `toml:"provider"`
	APIKey         string  `toml:"api_key"`
	BaseURL        string  `toml:"base_url"`
	Model          string  `toml:"model"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	MaxAttempts    int     `toml:"max_attempts"`
	Temperature    float64 `toml:"temperature"`
}

// Vertex contains settings for the Vertex AI Gemini provider.
type Vertex struct {
	Project         string `toml:"project"`
	Region          string `toml:"region"`
	Model           string `toml:"model"`
	CredentialsFile string `toml:"credentials_file"`
}

// Storage contains settings for gs:// document sources.
type Storage struct {
	CredentialsFile string `toml:"credentials_file"`
}

// Translation contains Markdown translation settings.
type Translation struct {
	TargetLanguage   string `toml:"target_language"`
	MaxCharsPerChunk int    `toml:"max_chars_per_chunk"`
	Concurrency      int    `toml:"concurrency"`
}

// Analysis contains paper analysis settings.
type Analysis struct {
	MaxChars int `toml:"max_chars"`
}

// Draw contains configuration for the image generation service.
type Draw struct {
	APIKey              string `toml:"api_key"`
	BaseURL             string `toml:"base_url"`
	Model               string `toml:"model"`
	AspectRatio         string `toml:"aspect_ratio"`
	ImageSize           string `toml:"image_size"`
	UseAI               bool   `toml:"use_ai"`
	TimeoutSeconds      int    `toml:"timeout_seconds"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	DeadlineMinutes     int    `toml:"deadline_minutes"`
}

// Relationship contains relationship graph settings.
type Relationship struct {
	MaxPapers int `toml:"max_papers"`
}

// Workflow contains background execution settings.
type Workflow struct {
	MaxBackground int  `toml:"max_background"`
	Translate     bool `toml:"translate"`
	Analyze       bool `toml:"analyze"`
}

// Notifications contains ntfy settings for pipeline events.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for paperflow.
//
// Configuration sections by subsystem:
//   - Paths: output root, logs, and API bind address
//   - Extraction: remote PDF-to-Markdown service
//   - LLM / Vertex: text transformation providers
//   - Storage: gs:// document sources
//   - Translation / Analysis: per-stage tuning
//   - Draw: image generation service
//   - Relationship: cross-paper graph synthesis
//   - Workflow: background runner and default pipeline stages
//   - Notifications: ntfy alerts when pipelines finish
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Extraction    Extraction    `toml:"extraction"`
	LLM           LLM           `toml:"llm"`
	Vertex        Vertex        `toml:"vertex"`
	Storage       Storage       `toml:"storage"`
	Translation   Translation   `toml:"translation"`
	Analysis      Analysis      `toml:"analysis"`
	Draw          Draw          `toml:"draw"`
	Relationship  Relationship  `toml:"relationship"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("paperflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the output and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LogPath returns the stable pointer to the current daemon log.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "paperflow.log")
}

// IndexPath returns the location of the SQLite task index.
func (c *Config) IndexPath() string {
	return filepath.Join(c.Paths.OutputDir, "index.db")
}

// ExtractionPollInterval returns the extraction status polling cadence.
func (c *Config) ExtractionPollInterval() time.Duration {
	return time.Duration(c.Extraction.PollIntervalSeconds) * time.Second
}

// ExtractionTimeout returns the overall extraction deadline.
func (c *Config) ExtractionTimeout() time.Duration {
	return time.Duration(c.Extraction.TimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMConfig contains the resolved text transformation settings.
type LLMConfig struct {
	Provider       string
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
	MaxAttempts    int
	Temperature    float64
}

// GetLLM returns the shared LLM connection settings.
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		Provider:       strings.TrimSpace(c.LLM.Provider),
		APIKey:         strings.TrimSpace(c.LLM.APIKey),
		BaseURL:        strings.TrimSpace(c.LLM.BaseURL),
		Model:          strings.TrimSpace(c.LLM.Model),
		TimeoutSeconds: c.LLM.TimeoutSeconds,
		MaxAttempts:    c.LLM.MaxAttempts,
		Temperature:    c.LLM.Temperature,
	}
}
