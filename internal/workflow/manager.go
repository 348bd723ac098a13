package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"paperflow/internal/background"
	"paperflow/internal/jobs"
	"paperflow/internal/logging"
	"paperflow/internal/notifications"
	"paperflow/internal/services"
	"paperflow/internal/services/llm"
	"paperflow/internal/stage"
	"paperflow/internal/statestore"
)

// ErrTranslationRunning refuses a second translation of the same task.
var ErrTranslationRunning = errors.New("translation already running")

// Options tunes the manager's stage defaults.
type Options struct {
	ExtractionTimeout time.Duration
	TargetLanguage    string
	AnalysisMaxChars  int
	// DefaultPlan is used by Submit when the caller does not choose stages.
	DefaultPlan Plan
	// Notifier receives completion and failure events for queued work.
	Notifier notifications.Service
}

// Manager submits task work to the background runner and runs it in the
// foreground for one-shot commands.
type Manager struct {
	rootDir  string
	jobs     *jobs.Manager
	runner   *background.Runner
	pipeline *Pipeline
	opts     Options
	logger   *slog.Logger

	mu      sync.Mutex
	active  map[string]string
	lastErr error
	lastID  string
}

// NewManager wires the three stages around a jobs manager.
func NewManager(rootDir string, jm *jobs.Manager, extractor jobs.Extractor, completer llm.Completer, runner *background.Runner, logger *slog.Logger, opts Options) *Manager {
	if opts.ExtractionTimeout <= 0 {
		opts.ExtractionTimeout = jobs.DefaultExtractionTimeout
	}
	if opts.AnalysisMaxChars <= 0 {
		opts.AnalysisMaxChars = jobs.DefaultAnalysisMaxChars
	}
	pipeline := NewPipeline(logger,
		&extractionStage{jobs: jm, timeout: opts.ExtractionTimeout, extractor: extractor},
		&translationStage{jobs: jm, language: opts.TargetLanguage, completer: completer},
		&analysisStage{jobs: jm, maxChars: opts.AnalysisMaxChars, completer: completer},
	)
	return &Manager{
		rootDir:  rootDir,
		jobs:     jm,
		runner:   runner,
		pipeline: pipeline,
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "workflow"),
		active:   make(map[string]string),
	}
}

// Pipeline exposes the stage pipeline.
func (m *Manager) Pipeline() *Pipeline { return m.pipeline }

// CreateTask allocates a new task directory and indexes it.
func (m *Manager) CreateTask(ctx context.Context, hint string) (jobs.Task, error) {
	task, err := jobs.CreateTask(m.jobs.Store(), m.rootDir, hint)
	if err != nil {
		return jobs.Task{}, err
	}
	m.jobs.Mirror(ctx, task)
	return task, nil
}

// OpenTask resolves an existing task.
func (m *Manager) OpenTask(id string) (jobs.Task, error) {
	return jobs.OpenTask(m.rootDir, id)
}

// Run executes plan in the foreground.
func (m *Manager) Run(ctx context.Context, req stage.Request, plan Plan) error {
	if plan.Extract && strings.TrimSpace(req.Source) == "" {
		return services.Wrap(services.ErrValidation, "workflow", "run", "Source is required for extraction", nil)
	}
	err := m.pipeline.Run(ctx, req, plan)
	m.remember(req.Task.ID, err)
	return err
}

// Submit queues plan on the background runner. When the plan is empty the
// manager's default plan applies, with extraction enabled when a source is
// given.
func (m *Manager) Submit(ctx context.Context, req stage.Request, plan Plan) error {
	if plan == (Plan{}) {
		plan = m.opts.DefaultPlan
		plan.Extract = strings.TrimSpace(req.Source) != ""
	}
	if plan.Extract && strings.TrimSpace(req.Source) == "" {
		return services.Wrap(services.ErrValidation, "workflow", "submit", "Source is required for extraction", nil)
	}
	stages := plan.Stages()
	if len(stages) == 0 {
		return services.Wrap(services.ErrValidation, "workflow", "submit", "No stages selected", nil)
	}
	var initial statestore.M
	if plan.Extract {
		initial = statestore.M{"state": jobs.StateQueued, "error": ""}
	}
	if plan.Translate {
		if err := m.guardTranslation(req.Task, false); err != nil {
			return err
		}
	}
	return m.start(ctx, req, strings.Join(stages, "+"), initial, plan.Translate, func(ctx context.Context) error {
		return m.pipeline.Run(ctx, req, plan)
	})
}

// SubmitTranslation queues a translation. A translation already in flight
// is refused unless force is set.
func (m *Manager) SubmitTranslation(ctx context.Context, req stage.Request, force bool) error {
	if err := m.guardTranslation(req.Task, force); err != nil {
		return err
	}
	initial := statestore.M{"translate_state": jobs.StateTranslating, "translate_error": ""}
	return m.start(ctx, req, StageTranslation, initial, true, func(ctx context.Context) error {
		return m.pipeline.RunStage(ctx, StageTranslation, req)
	})
}

// SubmitAnalysis queues an analysis.
func (m *Manager) SubmitAnalysis(ctx context.Context, req stage.Request) error {
	return m.start(ctx, req, StageAnalysis, nil, false, func(ctx context.Context) error {
		return m.pipeline.RunStage(ctx, StageAnalysis, req)
	})
}

func (m *Manager) guardTranslation(task jobs.Task, force bool) error {
	if force {
		return nil
	}
	rec := m.jobs.Store().Read(task.StatePath)
	if rec.String("translate_state", "") == jobs.StateTranslating {
		return services.Wrap(services.ErrValidation, "workflow", "translate", "Translation already running for "+task.ID, ErrTranslationRunning)
	}
	return nil
}

func (m *Manager) start(ctx context.Context, req stage.Request, name string, initial statestore.M, translating bool, work func(context.Context) error) error {
	if m.runner == nil {
		return services.Wrap(services.ErrConfiguration, "workflow", "submit", "Background runner not configured", nil)
	}
	if _, err := jobs.OpenTask(m.rootDir, req.Task.ID); err != nil {
		return err
	}
	return m.runner.Start(logging.WithTaskID(ctx, req.Task.ID), background.Job{
		Name:      name,
		StatePath: req.Task.StatePath,
		Initial:   initial,
		Failure: func(err error, message string) statestore.M {
			if _, recorded := FailedStage(err); recorded {
				return nil
			}
			fields := statestore.M{"state": jobs.StateFailed, "error": message}
			if translating {
				fields["translate_state"] = jobs.StateFailed
				fields["translate_error"] = message
			}
			return fields
		},
		Work: func(ctx context.Context, _ *background.Progress) error {
			m.track(req.Task.ID, name)
			defer m.untrack(req.Task.ID)
			err := work(ctx)
			m.remember(req.Task.ID, err)
			m.jobs.Mirror(ctx, req.Task)
			m.notify(ctx, req.Task, name, err)
			return err
		},
	})
}

func (m *Manager) notify(ctx context.Context, task jobs.Task, name string, err error) {
	if m.opts.Notifier == nil || errors.Is(err, context.Canceled) {
		return
	}
	summary := jobs.Summarize(m.jobs.Store(), task)
	payload := notifications.Payload{"task_id": task.ID, "title": summary.Title, "stages": name}
	event := notifications.EventTaskCompleted
	if err != nil {
		event = notifications.EventTaskFailed
		payload["error"] = services.Message(err)
		if stageName, ok := FailedStage(err); ok {
			payload["stage"] = stageName
		}
	}
	if perr := m.opts.Notifier.Publish(ctx, event, payload); perr != nil {
		m.logger.Warn("notification failed",
			logging.String("task_id", task.ID),
			logging.String("event", string(event)),
			logging.Error(perr),
			logging.String(logging.FieldEventType, "notification_failed"),
		)
	}
}

func (m *Manager) track(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[id] = name
}

func (m *Manager) untrack(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, id)
}

func (m *Manager) remember(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastID = id
	m.lastErr = err
}

// Status summarizes the manager for the status command and API.
type Status struct {
	Active    map[string]string `json:"active" yaml:"active"`
	LastTask  string            `json:"last_task,omitempty" yaml:"last_task,omitempty"`
	LastError string            `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	Stages    []stage.Health    `json:"stages" yaml:"stages"`
}

// Status reports running work, the last outcome, and stage health.
func (m *Manager) Status(ctx context.Context) Status {
	m.mu.Lock()
	active := make(map[string]string, len(m.active))
	for id, name := range m.active {
		active[id] = name
	}
	st := Status{Active: active, LastTask: m.lastID}
	if m.lastErr != nil {
		st.LastError = services.Message(m.lastErr)
	}
	m.mu.Unlock()
	st.Stages = m.pipeline.Health(ctx)
	return st
}
