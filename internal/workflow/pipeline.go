package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"paperflow/internal/logging"
	"paperflow/internal/services"
	"paperflow/internal/stage"
)

// Plan selects which stages run for a request.
type Plan struct {
	Extract   bool
	Translate bool
	Analyze   bool
}

// Stages lists the stage names the plan enables, in execution order.
func (p Plan) Stages() []string {
	var out []string
	if p.Extract {
		out = append(out, StageExtraction)
	}
	if p.Translate {
		out = append(out, StageTranslation)
	}
	if p.Analyze {
		out = append(out, StageAnalysis)
	}
	return out
}

// stageError marks a failure the stage already recorded on the task.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }

func (e *stageError) Unwrap() error { return e.err }

// Pipeline executes stage handlers in a fixed order.
type Pipeline struct {
	handlers map[string]stage.Handler
	order    []string
	logger   *slog.Logger
}

// NewPipeline registers handlers in execution order.
func NewPipeline(logger *slog.Logger, handlers ...stage.Handler) *Pipeline {
	p := &Pipeline{
		handlers: make(map[string]stage.Handler, len(handlers)),
		logger:   logging.NewComponentLogger(logger, "workflow"),
	}
	for _, h := range handlers {
		if h == nil {
			continue
		}
		if _, dup := p.handlers[h.Name()]; !dup {
			p.order = append(p.order, h.Name())
		}
		p.handlers[h.Name()] = h
	}
	return p
}

// Run executes the stages plan enables and stops at the first failure.
func (p *Pipeline) Run(ctx context.Context, req stage.Request, plan Plan) error {
	for _, name := range plan.Stages() {
		if err := p.RunStage(ctx, name, req); err != nil {
			return err
		}
	}
	return nil
}

// RunStage executes one named stage with structured start/complete logs.
func (p *Pipeline) RunStage(ctx context.Context, name string, req stage.Request) error {
	handler, ok := p.handlers[name]
	if !ok {
		return services.Wrap(services.ErrConfiguration, "workflow", "run stage", fmt.Sprintf("Stage handler unavailable: %s", name), nil)
	}
	if _, ok := services.RequestIDFromContext(ctx); !ok {
		ctx = services.WithRequestID(ctx, uuid.NewString())
	}
	stageCtx := logging.WithStage(logging.WithTaskID(ctx, req.Task.ID), name)
	logger := logging.WithContext(stageCtx, p.logger)

	start := time.Now()
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("stage_label", stage.Label(name)),
		logging.String("source", strings.TrimSpace(req.Source)),
	)
	if err := handler.Execute(stageCtx, req); err != nil {
		details := services.Details(err)
		logger.Error("stage failed",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.String(logging.FieldErrorKind, details.Kind),
			logging.String("error_message", strings.TrimSpace(details.Message)),
			logging.Duration("stage_duration", time.Since(start)),
			logging.Error(err),
		)
		return &stageError{stage: name, err: err}
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", time.Since(start)),
	)
	return nil
}

// Health reports every registered stage's readiness in execution order.
func (p *Pipeline) Health(ctx context.Context) []stage.Health {
	out := make([]stage.Health, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.handlers[name].HealthCheck(ctx))
	}
	return out
}

// FailedStage returns the stage that produced err, if any.
func FailedStage(err error) (string, bool) {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage, true
	}
	return "", false
}
