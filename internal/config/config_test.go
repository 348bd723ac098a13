package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"paperflow/internal/config"
)

func clearCredentialEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"MINERU_TOKEN", "DEEPSEEK_API_KEY", "GRSAI_API_KEY", "GOOGLE_CLOUD_PROJECT", "PAPERFLOW_API_TOKEN"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultConfigUsesEnvKeysAndExpandsPaths(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("MINERU_TOKEN", "mineru-token")
	t.Setenv("DEEPSEEK_API_KEY", "deepseek-key")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantOutput := filepath.Join(tempHome, ".local", "share", "paperflow", "outputs")
	if cfg.Paths.OutputDir != wantOutput {
		t.Fatalf("unexpected output dir: got %q want %q", cfg.Paths.OutputDir, wantOutput)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7860" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Extraction.Token != "mineru-token" {
		t.Fatalf("expected extraction token from env, got %q", cfg.Extraction.Token)
	}
	if cfg.LLM.APIKey != "deepseek-key" {
		t.Fatalf("expected llm key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Extraction.PollIntervalSeconds != 3 || cfg.Extraction.TimeoutSeconds != 600 {
		t.Fatalf("unexpected extraction timing: %+v", cfg.Extraction)
	}
	if cfg.LLM.MaxAttempts != 1 {
		t.Fatalf("expected single llm attempt by default, got %d", cfg.LLM.MaxAttempts)
	}
	if cfg.Translation.MaxCharsPerChunk != 3500 || cfg.Analysis.MaxChars != 25000 {
		t.Fatalf("unexpected stage defaults: %+v %+v", cfg.Translation, cfg.Analysis)
	}
	if cfg.IndexPath() != filepath.Join(wantOutput, "index.db") {
		t.Fatalf("unexpected index path %q", cfg.IndexPath())
	}
}

func TestLoadCustomPath(t *testing.T) {
	clearCredentialEnv(t)
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "paperflow.toml")

	type payload struct {
		Paths struct {
			OutputDir string `toml:"output_dir"`
		} `toml:"paths"`
		LLM struct {
			APIKey  string `toml:"api_key"`
			BaseURL string `toml:"base_url"`
		} `toml:"llm"`
		Relationship struct {
			MaxPapers int `toml:"max_papers"`
		} `toml:"relationship"`
	}
	custom := payload{}
	custom.Paths.OutputDir = filepath.Join(tempDir, "out")
	custom.LLM.APIKey = "abc123"
	custom.LLM.BaseURL = "https://example.com/llm/"
	custom.Relationship.MaxPapers = 500
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.LLM.APIKey != "abc123" {
		t.Fatalf("expected llm key from file, got %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.BaseURL != "https://example.com/llm" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.LLM.BaseURL)
	}
	if cfg.Paths.OutputDir != filepath.Join(tempDir, "out") {
		t.Fatalf("unexpected output dir %q", cfg.Paths.OutputDir)
	}
	if cfg.Relationship.MaxPapers != 120 {
		t.Fatalf("expected max papers clamped to 120, got %d", cfg.Relationship.MaxPapers)
	}
	if cfg.Draw.Model != config.Default().Draw.Model {
		t.Fatalf("expected draw defaults to survive partial config, got %q", cfg.Draw.Model)
	}
}

func TestClampPapers(t *testing.T) {
	tests := map[int]int{0: 30, -5: 30, 1: 2, 2: 2, 50: 50, 120: 120, 121: 120}
	for in, want := range tests {
		if got := config.ClampPapers(in); got != want {
			t.Fatalf("ClampPapers(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "MINERU_TOKEN") {
		t.Fatalf("sample config missing env hints: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.OutputDir, "paperflow") {
		t.Fatalf("expected output dir to contain paperflow, got %q", cfg.Paths.OutputDir)
	}
	if cfg.Translation.MaxCharsPerChunk != 3500 {
		t.Fatalf("unexpected chunk size in sample: %d", cfg.Translation.MaxCharsPerChunk)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	cfg = config.Default()
	cfg.Extraction.TimeoutSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive timeout")
	}

	cfg = config.Default()
	cfg.LLM.Provider = "mystery"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown provider")
	}

	cfg = config.Default()
	cfg.LLM.Provider = "vertex"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for vertex without project")
	}

	cfg = config.Default()
	cfg.LLM.BaseURL = "ftp://example.com"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-http base url")
	}

	cfg = config.Default()
	cfg.Translation.MaxCharsPerChunk = 10
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for tiny chunk budget")
	}

	cfg = config.Default()
	cfg.Workflow.MaxBackground = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for max_background")
	}
}
