package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"paperflow/internal/archive"
	"paperflow/internal/fileutil"
	"paperflow/internal/language"
	"paperflow/internal/logging"
	"paperflow/internal/services"
	"paperflow/internal/services/llm"
	"paperflow/internal/services/mineru"
	"paperflow/internal/source"
	"paperflow/internal/statestore"
	"paperflow/internal/translation"
)

// ErrExpectedOutputMissing reports an extraction bundle without full.md.
var ErrExpectedOutputMissing = fmt.Errorf("%w: expected output missing", services.ErrProtocol)

const (
	// DefaultPollInterval is the delay between extraction status checks.
	DefaultPollInterval = 3 * time.Second
	// DefaultExtractionTimeout bounds how long extraction may run.
	DefaultExtractionTimeout = 600 * time.Second
)

// Extractor is the structural extraction service.
type Extractor interface {
	Submit(ctx context.Context, src mineru.Source) (mineru.Handle, error)
	Poll(ctx context.Context, handle mineru.Handle) (mineru.Status, error)
	Fetch(ctx context.Context, bundleURL, dst string) error
}

// Indexer mirrors task summaries into a secondary catalog.
type Indexer interface {
	Upsert(ctx context.Context, summary Summary) error
}

// Manager drives a task through extraction, translation, and analysis. Each
// stage checks its own precondition and can be re-run independently.
type Manager struct {
	store        *statestore.Store
	extractor    Extractor
	completer    llm.Completer
	resolver     *source.Resolver
	engine       *translation.Engine
	index        Indexer
	logger       *slog.Logger
	pollInterval time.Duration
	concurrency  int
	chunkBudget  int
	wait         func(ctx context.Context, d time.Duration) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore overrides the state store (tests use a fixed clock).
func WithStore(store *statestore.Store) Option {
	return func(m *Manager) {
		if store != nil {
			m.store = store
		}
	}
}

// WithResolver overrides the document source resolver.
func WithResolver(resolver *source.Resolver) Option {
	return func(m *Manager) {
		if resolver != nil {
			m.resolver = resolver
		}
	}
}

// WithIndex mirrors every state change into idx.
func WithIndex(idx Indexer) Option {
	return func(m *Manager) { m.index = idx }
}

// WithPollInterval sets the extraction poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithTranslationConcurrency bounds concurrent chunk translations.
func WithTranslationConcurrency(n int) Option {
	return func(m *Manager) { m.concurrency = n }
}

// WithChunkBudget sets the translation chunk size in runes.
func WithChunkBudget(n int) Option {
	return func(m *Manager) { m.chunkBudget = n }
}

// NewManager wires the orchestrator to its collaborators.
func NewManager(extractor Extractor, completer llm.Completer, logger *slog.Logger, opts ...Option) *Manager {
	logger = logging.NewComponentLogger(logger, "jobs")
	m := &Manager{
		store:        statestore.New(),
		extractor:    extractor,
		completer:    completer,
		logger:       logger,
		pollInterval: DefaultPollInterval,
		concurrency:  1,
		wait:         sleepContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.resolver == nil {
		m.resolver = source.NewResolver(logger)
	}
	m.engine = translation.NewEngine(completer, logger)
	return m
}

// Store exposes the state store used for task records.
func (m *Manager) Store() *statestore.Store {
	return m.store
}

// RunExtraction submits the document to the extraction service, waits for
// the bundle, and unpacks it into the task's result directory.
func (m *Manager) RunExtraction(ctx context.Context, task Task, sourceRef string, timeout time.Duration) error {
	ctx = logging.WithStage(logging.WithTaskID(ctx, task.ID), "extraction")
	logger := logging.WithContext(ctx, m.logger)
	if timeout <= 0 {
		timeout = DefaultExtractionTimeout
	}
	if m.extractor == nil {
		return m.failExtraction(ctx, task, services.Wrap(services.ErrConfiguration, "jobs", "extract", "Extraction service not configured", nil))
	}
	if err := m.patch(ctx, task, statestore.M{"job_id": task.ID, "state": StateParsing, "pdf": sourceRef}); err != nil {
		return err
	}

	doc, err := m.resolver.Resolve(ctx, sourceRef, task.Dir)
	if err != nil {
		return m.failExtraction(ctx, task, err)
	}
	if doc.Pages > 0 {
		if err := m.patch(ctx, task, statestore.M{"pages": doc.Pages}); err != nil {
			return err
		}
	}

	src := mineru.Source{URL: doc.URL, Path: doc.Path}
	handle, err := m.extractor.Submit(ctx, src)
	if err != nil {
		return m.failExtraction(ctx, task, err)
	}
	logger.Info("extraction submitted",
		logging.String(logging.FieldEventType, "extraction_submitted"),
		logging.String("remote_id", handle.ID),
		logging.Bool("upload", handle.Batch),
	)

	status, err := m.awaitExtraction(ctx, handle, timeout)
	if err != nil {
		return m.failExtraction(ctx, task, err)
	}
	if status.State == mineru.StateFailed {
		msg := strings.TrimSpace(status.Message)
		if msg == "" {
			msg = "extraction failed"
		}
		return m.failExtraction(ctx, task, services.Wrap(services.ErrExternalTool, "jobs", "extract", msg, nil))
	}
	if strings.TrimSpace(status.BundleURL) == "" {
		return m.failExtraction(ctx, task, services.Wrap(services.ErrProtocol, "jobs", "extract", "Extraction service did not provide a result bundle", nil))
	}

	bundle := filepath.Join(task.Dir, mineru.BundleName(src.Name()))
	if err := m.extractor.Fetch(ctx, status.BundleURL, bundle); err != nil {
		return m.failExtraction(ctx, task, err)
	}
	if err := m.patch(ctx, task, statestore.M{"state": StateParsed, "zip_path": bundle}); err != nil {
		return err
	}
	if err := archive.Extract(bundle, task.ResultDir); err != nil {
		return m.failExtraction(ctx, task, err)
	}
	if !fileutil.Exists(task.OriginalPath) {
		return m.failExtraction(ctx, task, services.Wrap(ErrExpectedOutputMissing, "jobs", "extract", "full.md not found in result", nil))
	}
	logger.Info("extraction completed",
		logging.String(logging.FieldEventType, "extraction_complete"),
		logging.String("bundle", bundle),
	)
	return nil
}

func (m *Manager) awaitExtraction(ctx context.Context, handle mineru.Handle, timeout time.Duration) (mineru.Status, error) {
	deadline := time.Now().Add(timeout)
	for {
		status, err := m.extractor.Poll(ctx, handle)
		if err != nil {
			return mineru.Status{}, err
		}
		if status.State == mineru.StateDone || status.State == mineru.StateFailed {
			return status, nil
		}
		if !time.Now().Before(deadline) {
			return mineru.Status{}, services.Wrap(services.ErrTimeout, "jobs", "extract",
				fmt.Sprintf("Extraction did not finish within %s", timeout), nil)
		}
		if err := m.wait(ctx, m.pollInterval); err != nil {
			return mineru.Status{}, services.Wrap(services.ErrTimeout, "jobs", "extract", "Extraction wait interrupted", err)
		}
	}
}

func (m *Manager) failExtraction(ctx context.Context, task Task, err error) error {
	m.recordFailure(ctx, task, "extraction", err, statestore.M{"state": StateFailed, "error": failureText(err)})
	return err
}

// RunTranslation translates full.md into translated.md, reusing the
// chunk cache beside the output.
func (m *Manager) RunTranslation(ctx context.Context, task Task, targetLanguage string) error {
	ctx = logging.WithStage(logging.WithTaskID(ctx, task.ID), "translation")
	targetLanguage = language.Canonical(targetLanguage)
	if !fileutil.Exists(task.OriginalPath) {
		err := services.Wrap(services.ErrValidation, "jobs", "translate", "missing original Markdown: "+task.OriginalPath, nil)
		msg := failureText(err)
		m.recordFailure(ctx, task, "translation", err, statestore.M{"error": msg, "translate_state": StateFailed, "translate_error": msg})
		return err
	}
	if err := m.patch(ctx, task, statestore.M{
		"state":              StateTranslating,
		"translate_state":    StateTranslating,
		"translate_language": targetLanguage,
		"translate_error":    "",
		"translate_progress": 0,
	}); err != nil {
		return err
	}

	var (
		mu   sync.Mutex
		last int
	)
	opts := translation.Options{
		TargetLanguage:   targetLanguage,
		MaxCharsPerChunk: m.chunkBudget,
		Concurrency:      m.concurrency,
		Progress: func(done, total int) {
			if total <= 0 {
				return
			}
			pct := done * 100 / total
			mu.Lock()
			defer mu.Unlock()
			if pct <= last {
				return
			}
			last = pct
			if _, err := m.store.Patch(task.StatePath, statestore.M{"translate_progress": pct}); err != nil {
				m.logger.Debug("translation progress not recorded", logging.Error(err))
			}
		},
	}
	stats, err := m.engine.TranslateFile(ctx, task.OriginalPath, task.TranslatedPath, opts)
	if err != nil {
		msg := failureText(err)
		m.recordFailure(ctx, task, "translation", err, statestore.M{
			"state":           StateFailed,
			"error":           msg,
			"translate_state": StateFailed,
			"translate_error": msg,
		})
		return err
	}
	return m.patch(ctx, task, statestore.M{
		"state":              StateTranslated,
		"translate_state":    StateTranslated,
		"translate_language": targetLanguage,
		"translate_progress": 100,
		"translate_chunks":   stats.Chunks,
		"translate_cached":   stats.CacheHits,
	})
}

// RunAnalysis asks the language model for structured reading notes and
// stores them as analysis.json.
func (m *Manager) RunAnalysis(ctx context.Context, task Task, maxChars int) error {
	ctx = logging.WithStage(logging.WithTaskID(ctx, task.ID), "analysis")
	if maxChars <= 0 {
		maxChars = DefaultAnalysisMaxChars
	}
	data, readErr := os.ReadFile(task.OriginalPath)
	if readErr != nil {
		err := services.Wrap(services.ErrValidation, "jobs", "analyze", "missing original Markdown: "+task.OriginalPath, nil)
		msg := failureText(err)
		m.recordFailure(ctx, task, "analysis", err, statestore.M{"state": StateFailed, "error": msg, "analysis_error": msg})
		return err
	}
	if err := m.patch(ctx, task, statestore.M{"state": StateAnalyzing, "analysis_error": ""}); err != nil {
		return err
	}

	fail := func(err error) error {
		msg := failureText(err)
		m.recordFailure(ctx, task, "analysis", err, statestore.M{"state": StateFailed, "error": msg, "analysis_error": msg})
		return err
	}
	if m.completer == nil {
		return fail(services.Wrap(services.ErrConfiguration, "jobs", "analyze", "Language model not configured", nil))
	}
	content := NormalizeForAnalysis(strings.ToValidUTF8(string(data), "\uFFFD"), maxChars)
	reply, err := m.completer.Complete(ctx, []llm.Message{
		llm.System(AnalysisSystemPrompt),
		llm.User(AnalysisUserPrompt(content)),
	}, analysisTemperature)
	if err != nil {
		return fail(err)
	}
	if err := fileutil.WriteJSON(task.AnalysisPath, llm.ExtractObject(reply)); err != nil {
		return fail(services.Wrap(services.ErrConfiguration, "jobs", "analyze", "Write analysis", err))
	}
	return m.patch(ctx, task, statestore.M{"state": StateAnalyzed})
}

func (m *Manager) patch(ctx context.Context, task Task, fields statestore.M) error {
	if _, err := m.store.Patch(task.StatePath, fields); err != nil {
		return services.Wrap(services.ErrConfiguration, "jobs", "patch", "Persist task state", err)
	}
	m.mirror(ctx, task)
	return nil
}

func (m *Manager) recordFailure(ctx context.Context, task Task, stage string, err error, fields statestore.M) {
	logger := logging.WithContext(ctx, m.logger)
	details := services.Details(err)
	logging.ErrorWithContext(logger, "stage failed", "stage_failure",
		logging.String("stage_name", stage),
		logging.String(logging.FieldErrorKind, details.Kind),
		logging.String("error_operation", details.Operation),
		logging.String("error_message", details.Message),
		logging.Error(err),
	)
	if _, perr := m.store.Patch(task.StatePath, fields); perr != nil {
		logger.Error("failed to persist stage failure",
			logging.String(logging.FieldEventType, "state_persist_failed"),
			logging.Error(perr),
		)
		return
	}
	m.mirror(ctx, task)
}

// Mirror refreshes a task's index entry. Index failures are logged only.
func (m *Manager) Mirror(ctx context.Context, task Task) {
	m.mirror(ctx, task)
}

func (m *Manager) mirror(ctx context.Context, task Task) {
	if m.index == nil {
		return
	}
	if err := m.index.Upsert(ctx, Summarize(m.store, task)); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, m.logger), "task index not updated", "index_update_failed",
			logging.String(logging.FieldErrorHint, "run `paperflow task reindex` to rebuild the index"),
			logging.String(logging.FieldImpact, "task listings may be stale"),
			logging.Error(err),
		)
	}
}

func failureText(err error) string {
	if msg := services.Message(err); msg != "" {
		return msg
	}
	return "unknown error"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
