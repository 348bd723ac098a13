package api

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"paperflow/internal/background"
	"paperflow/internal/config"
	"paperflow/internal/draw"
	"paperflow/internal/jobs"
	"paperflow/internal/logging"
	"paperflow/internal/notifications"
	"paperflow/internal/relationship"
	"paperflow/internal/services"
	"paperflow/internal/services/grsai"
	"paperflow/internal/services/llm"
	"paperflow/internal/services/mineru"
	"paperflow/internal/services/vertex"
	"paperflow/internal/source"
	"paperflow/internal/statestore"
	"paperflow/internal/tags"
	"paperflow/internal/taskindex"
	"paperflow/internal/weekly"
	"paperflow/internal/workflow"
)

const providerVertex = "vertex"

// Services bundles every component built from one configuration.
type Services struct {
	Config       *config.Config
	Logger       *slog.Logger
	Store        *statestore.Store
	Runner       *background.Runner
	Completer    llm.Completer
	Extractor    jobs.Extractor
	Jobs         *jobs.Manager
	Workflow     *workflow.Manager
	Draw         *draw.Service
	Relationship *relationship.Service
	Weekly       *weekly.Service
	Tags         *tags.Catalog
	Index        *taskindex.Store
	Notifier     notifications.Service

	closers []func() error
}

// BuildOption overrides collaborators, mostly for tests.
type BuildOption func(*buildOptions)

type buildOptions struct {
	store     *statestore.Store
	completer llm.Completer
	extractor jobs.Extractor
	drawers   draw.DrawerFactory
	notifier  notifications.Service
	noIndex   bool
	poll      time.Duration
}

// WithStore shares a state store.
func WithStore(store *statestore.Store) BuildOption {
	return func(o *buildOptions) { o.store = store }
}

// WithCompleter replaces the configured language model.
func WithCompleter(c llm.Completer) BuildOption {
	return func(o *buildOptions) { o.completer = c }
}

// WithExtractor replaces the extraction client.
func WithExtractor(e jobs.Extractor) BuildOption {
	return func(o *buildOptions) { o.extractor = e }
}

// WithDrawerFactory replaces the image generation client factory.
func WithDrawerFactory(f draw.DrawerFactory) BuildOption {
	return func(o *buildOptions) { o.drawers = f }
}

// WithNotifier replaces the ntfy publisher.
func WithNotifier(n notifications.Service) BuildOption {
	return func(o *buildOptions) { o.notifier = n }
}

// WithoutIndex skips opening the SQLite task index.
func WithoutIndex() BuildOption {
	return func(o *buildOptions) { o.noIndex = true }
}

// WithPollInterval overrides the extraction and drawing poll cadence.
func WithPollInterval(d time.Duration) BuildOption {
	return func(o *buildOptions) { o.poll = d }
}

// Build constructs the service graph. Background jobs are cancelled when
// ctx is.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...BuildOption) (*Services, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "api", "build", "Configuration is required", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "api", "build", "Create directories", err)
	}

	s := &Services{Config: cfg, Logger: logger, Store: o.store}
	if s.Store == nil {
		s.Store = statestore.New()
	}

	completer, err := s.buildCompleter(ctx, o.completer)
	if err != nil {
		return nil, err
	}
	s.Completer = completer

	s.Extractor = o.extractor
	if s.Extractor == nil && strings.TrimSpace(cfg.Extraction.Token) != "" {
		s.Extractor = mineru.NewClient(mineru.Config{
			Token:          cfg.Extraction.Token,
			BaseURL:        cfg.Extraction.BaseURL,
			ModelVersion:   cfg.Extraction.ModelVersion,
			IsOCR:          cfg.Extraction.IsOCR,
			RequestTimeout: time.Duration(cfg.Extraction.RequestTimeoutSeconds) * time.Second,
			UploadTimeout:  time.Duration(cfg.Extraction.UploadTimeoutSeconds) * time.Second,
		})
	}

	if !o.noIndex {
		index, err := taskindex.Open(cfg.IndexPath())
		if err != nil {
			s.Close()
			return nil, services.Wrap(services.ErrConfiguration, "api", "build", "Open task index", err)
		}
		s.Index = index
		s.closers = append(s.closers, index.Close)
	}

	poll := o.poll
	if poll <= 0 {
		poll = cfg.ExtractionPollInterval()
	}
	jobOpts := []jobs.Option{
		jobs.WithStore(s.Store),
		jobs.WithResolver(source.NewResolver(logger, source.WithCredentialsFile(cfg.Storage.CredentialsFile))),
		jobs.WithPollInterval(poll),
		jobs.WithTranslationConcurrency(cfg.Translation.Concurrency),
		jobs.WithChunkBudget(cfg.Translation.MaxCharsPerChunk),
	}
	if s.Index != nil {
		jobOpts = append(jobOpts, jobs.WithIndex(s.Index))
	}
	s.Jobs = jobs.NewManager(s.Extractor, completer, logger, jobOpts...)
	s.Runner = background.NewRunner(ctx, s.Store, logger, cfg.Workflow.MaxBackground)
	s.Notifier = o.notifier
	if s.Notifier == nil {
		s.Notifier = notifications.NewService(cfg)
	}
	s.Workflow = workflow.NewManager(cfg.Paths.OutputDir, s.Jobs, s.Extractor, completer, s.Runner, logger, workflow.Options{
		ExtractionTimeout: cfg.ExtractionTimeout(),
		TargetLanguage:    cfg.Translation.TargetLanguage,
		AnalysisMaxChars:  cfg.Analysis.MaxChars,
		DefaultPlan:       workflow.Plan{Translate: cfg.Workflow.Translate, Analyze: cfg.Workflow.Analyze},
		Notifier:          s.Notifier,
	})

	drawers := o.drawers
	if drawers == nil && strings.TrimSpace(cfg.Draw.APIKey) != "" {
		drawers = func(host string) draw.Drawer {
			base := strings.TrimSpace(host)
			if base == "" {
				base = cfg.Draw.BaseURL
			}
			return grsai.NewClient(grsai.Config{
				APIKey:  cfg.Draw.APIKey,
				BaseURL: base,
				Timeout: time.Duration(cfg.Draw.TimeoutSeconds) * time.Second,
			})
		}
	}
	drawPoll := time.Duration(cfg.Draw.PollIntervalSeconds) * time.Second
	if o.poll > 0 {
		drawPoll = o.poll
	}
	s.Draw = draw.NewService(cfg.Paths.OutputDir, s.Runner, drawers, completer, logger,
		draw.WithStore(s.Store),
		draw.WithDefaults(draw.Defaults{
			Model:       cfg.Draw.Model,
			AspectRatio: cfg.Draw.AspectRatio,
			ImageSize:   cfg.Draw.ImageSize,
		}),
		draw.WithPolling(drawPoll, time.Duration(cfg.Draw.DeadlineMinutes)*time.Minute),
	)
	s.Relationship = relationship.NewService(cfg.Paths.OutputDir, s.Store, s.Runner, completer, logger)
	s.Weekly = weekly.NewService(cfg.Paths.OutputDir, s.Store, s.Runner, completer, logger)
	s.Weekly.SetNotifier(s.Notifier)
	s.Tags = tags.NewCatalog(s.Store, cfg.Paths.OutputDir)
	return s, nil
}

func (s *Services) buildCompleter(ctx context.Context, override llm.Completer) (llm.Completer, error) {
	if override != nil {
		return override, nil
	}
	llmCfg := s.Config.GetLLM()
	if llmCfg.Provider == providerVertex {
		client, err := vertex.NewClient(ctx, vertex.Config{
			Project:         s.Config.Vertex.Project,
			Region:          s.Config.Vertex.Region,
			Model:           s.Config.Vertex.Model,
			CredentialsFile: s.Config.Vertex.CredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, client.Close)
		return client, nil
	}
	if llmCfg.APIKey == "" {
		return nil, nil
	}
	return llm.NewClient(llm.Config{
		APIKey:         llmCfg.APIKey,
		BaseURL:        llmCfg.BaseURL,
		Model:          llmCfg.Model,
		TimeoutSeconds: llmCfg.TimeoutSeconds,
	}, llm.WithRetryMaxAttempts(llmCfg.MaxAttempts)), nil
}

// Close waits for background work and releases held resources.
func (s *Services) Close() error {
	if s == nil {
		return nil
	}
	if s.Runner != nil {
		s.Runner.Wait()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
