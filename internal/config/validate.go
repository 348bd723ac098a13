package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable. Missing service credentials
// are not an error here; the stages that need them report it and
// `paperflow status` lists them.
func (c *Config) Validate() error {
	if err := c.validateExtraction(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateTranslation(); err != nil {
		return err
	}
	if err := c.validateDraw(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if c.Notifications.NtfyTopic != "" {
		if err := validateURL("notifications.ntfy_topic", c.Notifications.NtfyTopic); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateExtraction() error {
	if err := validateURL("extraction.base_url", c.Extraction.BaseURL); err != nil {
		return err
	}
	return ensurePositiveMap(map[string]int{
		"extraction.poll_interval_seconds":   c.Extraction.PollIntervalSeconds,
		"extraction.timeout_seconds":         c.Extraction.TimeoutSeconds,
		"extraction.request_timeout_seconds": c.Extraction.RequestTimeoutSeconds,
		"extraction.upload_timeout_seconds":  c.Extraction.UploadTimeoutSeconds,
	})
}

func (c *Config) validateLLM() error {
	switch c.LLM.Provider {
	case "deepseek", "openai":
		if err := validateURL("llm.base_url", c.LLM.BaseURL); err != nil {
			return err
		}
	case "vertex":
		if c.Vertex.Project == "" {
			return errors.New("vertex.project must be set when llm.provider is vertex (or set GOOGLE_CLOUD_PROJECT)")
		}
	default:
		return fmt.Errorf("llm.provider: unsupported value %q (deepseek, openai, vertex)", c.LLM.Provider)
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return errors.New("llm.timeout_seconds must be positive")
	}
	if c.LLM.MaxAttempts < 1 || c.LLM.MaxAttempts > defaultMaxAttemptsUpperBound {
		return fmt.Errorf("llm.max_attempts must be between 1 and %d", defaultMaxAttemptsUpperBound)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return errors.New("llm.temperature must be between 0 and 2")
	}
	return nil
}

func (c *Config) validateTranslation() error {
	if c.Translation.MaxCharsPerChunk < 200 {
		return errors.New("translation.max_chars_per_chunk must be at least 200")
	}
	if c.Translation.Concurrency > defaultTranslationConcurrencyCap {
		return fmt.Errorf("translation.concurrency must not exceed %d", defaultTranslationConcurrencyCap)
	}
	if c.Analysis.MaxChars < 1000 {
		return errors.New("analysis.max_chars must be at least 1000")
	}
	return nil
}

func (c *Config) validateDraw() error {
	return ensurePositiveMap(map[string]int{
		"draw.timeout_seconds":       c.Draw.TimeoutSeconds,
		"draw.poll_interval_seconds": c.Draw.PollIntervalSeconds,
		"draw.deadline_minutes":      c.Draw.DeadlineMinutes,
	})
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.MaxBackground <= 0 {
		return errors.New("workflow.max_background must be positive")
	}
	return nil
}

func validateURL(key, value string) error {
	parsed, err := url.Parse(strings.TrimSpace(value))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("%s must be an http(s) URL, got %q", key, value)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
