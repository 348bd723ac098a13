package config

import (
	"fmt"
	"os"
	"strings"

	"paperflow/internal/language"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeExtraction()
	c.normalizeLLM()
	if err := c.normalizeVertex(); err != nil {
		return err
	}
	c.normalizeTranslation()
	c.normalizeDraw()
	c.normalizeRelationship()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		c.Paths.APIToken = envValue("PAPERFLOW_API_TOKEN")
	}
	return nil
}

func (c *Config) normalizeExtraction() {
	c.Extraction.Token = strings.TrimSpace(c.Extraction.Token)
	if c.Extraction.Token == "" {
		c.Extraction.Token = envValue("MINERU_TOKEN")
	}
	c.Extraction.BaseURL = strings.TrimRight(strings.TrimSpace(c.Extraction.BaseURL), "/")
	if c.Extraction.BaseURL == "" {
		c.Extraction.BaseURL = defaultExtractionBaseURL
	}
	c.Extraction.ModelVersion = strings.TrimSpace(c.Extraction.ModelVersion)
	if c.Extraction.ModelVersion == "" {
		c.Extraction.ModelVersion = defaultExtractionModelVersion
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = defaultLLMProvider
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = envValue("DEEPSEEK_API_KEY")
	}
	c.LLM.BaseURL = strings.TrimRight(strings.TrimSpace(c.LLM.BaseURL), "/")
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.MaxAttempts == 0 {
		c.LLM.MaxAttempts = defaultLLMMaxAttempts
	}
}

func (c *Config) normalizeVertex() error {
	c.Vertex.Project = strings.TrimSpace(c.Vertex.Project)
	if c.Vertex.Project == "" {
		c.Vertex.Project = envValue("GOOGLE_CLOUD_PROJECT")
	}
	c.Vertex.Region = strings.TrimSpace(c.Vertex.Region)
	if c.Vertex.Region == "" {
		c.Vertex.Region = defaultVertexRegion
	}
	c.Vertex.Model = strings.TrimSpace(c.Vertex.Model)
	if c.Vertex.Model == "" {
		c.Vertex.Model = defaultVertexModel
	}
	var err error
	if c.Vertex.CredentialsFile, err = expandPath(strings.TrimSpace(c.Vertex.CredentialsFile)); err != nil {
		return fmt.Errorf("vertex.credentials_file: %w", err)
	}
	if c.Storage.CredentialsFile, err = expandPath(strings.TrimSpace(c.Storage.CredentialsFile)); err != nil {
		return fmt.Errorf("storage.credentials_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeTranslation() {
	c.Translation.TargetLanguage = language.Canonical(c.Translation.TargetLanguage)
	if c.Translation.Concurrency <= 0 {
		c.Translation.Concurrency = defaultTranslationConcurrency
	}
}

func (c *Config) normalizeDraw() {
	c.Draw.APIKey = strings.TrimSpace(c.Draw.APIKey)
	if c.Draw.APIKey == "" {
		c.Draw.APIKey = envValue("GRSAI_API_KEY")
	}
	c.Draw.BaseURL = strings.TrimSpace(c.Draw.BaseURL)
	if c.Draw.BaseURL == "" {
		c.Draw.BaseURL = defaultDrawBaseURL
	}
	c.Draw.Model = strings.TrimSpace(c.Draw.Model)
	if c.Draw.Model == "" {
		c.Draw.Model = defaultDrawModel
	}
	c.Draw.AspectRatio = strings.TrimSpace(c.Draw.AspectRatio)
	if c.Draw.AspectRatio == "" {
		c.Draw.AspectRatio = defaultDrawAspectRatio
	}
	c.Draw.ImageSize = strings.TrimSpace(c.Draw.ImageSize)
	if c.Draw.ImageSize == "" {
		c.Draw.ImageSize = defaultDrawImageSize
	}
}

func (c *Config) normalizeRelationship() {
	c.Relationship.MaxPapers = ClampPapers(c.Relationship.MaxPapers)
}

// ClampPapers bounds a relationship graph paper count to the supported range;
// zero or negative selects the default.
func ClampPapers(n int) int {
	if n <= 0 {
		return defaultRelationshipMaxPapers
	}
	if n < minRelationshipPapers {
		return minRelationshipPapers
	}
	if n > maxRelationshipPapers {
		return maxRelationshipPapers
	}
	return n
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNotifyTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func envValue(key string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
