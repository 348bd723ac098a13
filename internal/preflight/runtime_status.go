package preflight

import (
	"context"
	"strings"

	"paperflow/internal/config"
)

const providerVertex = "vertex"

// CheckExtractionFromConfig reports whether the extraction service has a
// token.
func CheckExtractionFromConfig(cfg *config.Config) Result {
	const name = "Extraction service"
	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.Extraction.Token) == "" {
		return Result{Name: name, Detail: "Missing token (set extraction.token or MINERU_TOKEN)"}
	}
	return Result{Name: name, Passed: true, Detail: cfg.Extraction.BaseURL}
}

// CheckDrawFromConfig reports whether the drawing service has an API key.
func CheckDrawFromConfig(cfg *config.Config) Result {
	const name = "Drawing service"
	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.Draw.APIKey) == "" {
		return Result{Name: name, Detail: "Missing API key (set draw.api_key or GRSAI_API_KEY)"}
	}
	return Result{Name: name, Passed: true, Detail: "Configured (" + cfg.Draw.Model + ")"}
}

// CheckLLMFromConfig checks the configured text provider. Vertex AI is
// validated from configuration only.
func CheckLLMFromConfig(ctx context.Context, cfg *config.Config) Result {
	const name = "Language model"
	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	llmCfg := cfg.GetLLM()
	if llmCfg.Provider == providerVertex {
		if strings.TrimSpace(cfg.Vertex.Project) == "" {
			return Result{Name: name, Detail: "Missing Vertex project"}
		}
		if cfg.Vertex.CredentialsFile != "" {
			if check := CheckCredentialsFile(name, cfg.Vertex.CredentialsFile); !check.Passed {
				return check
			}
		}
		return Result{Name: name, Passed: true, Detail: "Vertex AI " + cfg.Vertex.Model + " (" + cfg.Vertex.Project + ")"}
	}
	return CheckLLM(ctx, name, llmCfg)
}
