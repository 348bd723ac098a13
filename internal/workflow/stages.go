package workflow

import (
	"context"
	"strings"
	"time"

	"paperflow/internal/jobs"
	"paperflow/internal/services/llm"
	"paperflow/internal/stage"
)

// Stage names.
const (
	StageExtraction  = "extraction"
	StageTranslation = "translation"
	StageAnalysis    = "analysis"
)

// HealthChecker is implemented by collaborators that can probe themselves.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type extractionStage struct {
	jobs      *jobs.Manager
	timeout   time.Duration
	extractor jobs.Extractor
}

func (s *extractionStage) Name() string { return StageExtraction }

func (s *extractionStage) Execute(ctx context.Context, req stage.Request) error {
	return s.jobs.RunExtraction(ctx, req.Task, req.Source, s.timeout)
}

func (s *extractionStage) HealthCheck(ctx context.Context) stage.Health {
	if s.extractor == nil {
		return stage.Unhealthy(StageExtraction, "extraction client not configured")
	}
	return probe(ctx, StageExtraction, s.extractor)
}

type translationStage struct {
	jobs      *jobs.Manager
	language  string
	completer llm.Completer
}

func (s *translationStage) Name() string { return StageTranslation }

func (s *translationStage) Execute(ctx context.Context, req stage.Request) error {
	language := strings.TrimSpace(req.TargetLanguage)
	if language == "" {
		language = s.language
	}
	return s.jobs.RunTranslation(ctx, req.Task, language)
}

func (s *translationStage) HealthCheck(ctx context.Context) stage.Health {
	if s.completer == nil {
		return stage.Unhealthy(StageTranslation, "language model not configured")
	}
	return probe(ctx, StageTranslation, s.completer)
}

type analysisStage struct {
	jobs      *jobs.Manager
	maxChars  int
	completer llm.Completer
}

func (s *analysisStage) Name() string { return StageAnalysis }

func (s *analysisStage) Execute(ctx context.Context, req stage.Request) error {
	maxChars := req.MaxChars
	if maxChars <= 0 {
		maxChars = s.maxChars
	}
	return s.jobs.RunAnalysis(ctx, req.Task, maxChars)
}

func (s *analysisStage) HealthCheck(ctx context.Context) stage.Health {
	if s.completer == nil {
		return stage.Unhealthy(StageAnalysis, "language model not configured")
	}
	return probe(ctx, StageAnalysis, s.completer)
}

// probe runs a collaborator's own health check when it offers one.
func probe(ctx context.Context, name string, target any) stage.Health {
	checker, ok := target.(HealthChecker)
	if !ok {
		return stage.Healthy(name)
	}
	if err := checker.HealthCheck(ctx); err != nil {
		return stage.Unhealthy(name, err.Error())
	}
	return stage.Healthy(name)
}
