package testsupport

import (
	"path/filepath"
	"testing"

	"paperflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.OutputDir = filepath.Join(base, "outputs")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Extraction.Token = "test-token"
	cfgVal.LLM.APIKey = "test"
	cfgVal.Draw.APIKey = "test"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithLLMEndpoint points the text provider at a test server.
func WithLLMEndpoint(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LLM.BaseURL = baseURL
	}
}

// WithExtractionEndpoint points the extraction client at a test server.
func WithExtractionEndpoint(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Extraction.BaseURL = baseURL
		b.cfg.Extraction.PollIntervalSeconds = 1
	}
}

// WithDrawEndpoint points the image generation client at a test server.
func WithDrawEndpoint(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Draw.BaseURL = baseURL
	}
}

// WithAPIToken requires bearer authentication on the HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithoutCredentials clears every service credential.
func WithoutCredentials() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Extraction.Token = ""
		b.cfg.LLM.APIKey = ""
		b.cfg.Draw.APIKey = ""
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.OutputDir)
}
