package translation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"paperflow/internal/fileutil"
	"paperflow/internal/logging"
	"paperflow/internal/services"
	"paperflow/internal/services/llm"
)

const (
	DefaultTargetLanguage   = "zh-CN"
	DefaultMaxCharsPerChunk = 3500
	DefaultTemperature      = 0.2
)

// SystemPrompt instructs the model to translate without touching Markdown
// structure or placeholders.
const SystemPrompt = "You are a precise academic translator. Translate the provided Markdown into the target language.\n" +
	"Keep Markdown structure, links, image paths, bullets, and line breaks exactly.\n" +
	"Do not add explanations, prefixes, suffixes, or wrap the output in code fences.\n" +
	"If you see placeholders like [[[...]]], keep them unchanged."

// UserPrompt builds the per-chunk request.
func UserPrompt(targetLanguage, chunk string) string {
	return "Target language: " + targetLanguage + "\n\nTranslate the following content:\n\n" + chunk
}

// Options tunes a translation run.
type Options struct {
	TargetLanguage   string
	MaxCharsPerChunk int
	// Temperature is sent with every chunk; nil means DefaultTemperature.
	Temperature *float64
	// Concurrency bounds simultaneous transformation calls; <=1 is sequential.
	Concurrency int
	// Progress, when set, is called after each chunk resolves.
	Progress func(done, total int)
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.TargetLanguage) == "" {
		o.TargetLanguage = DefaultTargetLanguage
	}
	if o.MaxCharsPerChunk <= 0 {
		o.MaxCharsPerChunk = DefaultMaxCharsPerChunk
	}
	if o.Temperature == nil {
		t := DefaultTemperature
		o.Temperature = &t
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	return o
}

// Stats summarizes a translation run.
type Stats struct {
	Chunks    int
	CacheHits int
	Calls     int
}

// Engine translates Markdown chunk by chunk through a Completer.
type Engine struct {
	completer llm.Completer
	logger    *slog.Logger
}

// NewEngine constructs an Engine.
func NewEngine(completer llm.Completer, logger *slog.Logger) *Engine {
	return &Engine{
		completer: completer,
		logger:    logging.NewComponentLogger(logger, "translation"),
	}
}

// Translate protects code and tables, translates each uncached chunk, and
// restores the protected spans. When cachePath is set, previously translated
// chunks are reused and new ones are persisted.
func (e *Engine) Translate(ctx context.Context, markdown string, opts Options, cachePath string) (string, Stats, error) {
	opts = opts.withDefaults()
	text, protected := Protect(markdown)
	chunks := Chunk(SplitParagraphs(text), opts.MaxCharsPerChunk)
	stats := Stats{Chunks: len(chunks)}

	cache := loadCache(cachePath)
	keys := make([]string, len(chunks))
	pending := make(map[string]string)
	var order []string
	for i, chunk := range chunks {
		key := ChunkKey(chunk)
		keys[i] = key
		if _, ok := cache[key]; ok {
			stats.CacheHits++
			continue
		}
		if _, queued := pending[key]; queued {
			stats.CacheHits++
			continue
		}
		pending[key] = chunk
		order = append(order, key)
	}

	logger := logging.WithContext(ctx, e.logger)
	logger.Info("translation started",
		logging.String(logging.FieldEventType, "translation_start"),
		logging.String("target_language", opts.TargetLanguage),
		logging.Int("chunks", stats.Chunks),
		logging.Int("cached", stats.CacheHits),
	)

	var (
		mu   sync.Mutex
		done = stats.Chunks - len(order)
	)
	produced := make(map[string]string, len(order))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(opts.Concurrency)
	for _, key := range order {
		chunk := pending[key]
		group.Go(func() error {
			translated, err := e.translateChunk(gctx, chunk, opts)
			if err != nil {
				return err
			}
			mu.Lock()
			produced[key] = translated
			done++
			current := done
			mu.Unlock()
			if opts.Progress != nil {
				opts.Progress(current, stats.Chunks)
			}
			return nil
		})
	}
	runErr := group.Wait()
	stats.Calls = len(produced)

	for key, value := range produced {
		cache[key] = value
	}
	if cachePath != "" && len(produced) > 0 {
		if err := saveCache(cachePath, cache); err != nil {
			logger.Warn("translation cache not saved",
				logging.String(logging.FieldEventType, "translation_cache_write_failed"),
				logging.String(logging.FieldErrorHint, "check permissions on the task result directory"),
				logging.String("cache_path", cachePath),
				logging.Error(err),
			)
		}
	}
	if runErr != nil {
		return "", stats, runErr
	}

	out := make([]string, len(chunks))
	for i, key := range keys {
		out[i] = cache[key]
	}
	result := protected.Restore(strings.Join(out, "\n\n"))

	logger.Info("translation completed",
		logging.String(logging.FieldEventType, "translation_complete"),
		logging.Int("chunks", stats.Chunks),
		logging.Int("calls", stats.Calls),
		logging.Int("cache_hits", stats.CacheHits),
	)
	return result, stats, nil
}

func (e *Engine) translateChunk(ctx context.Context, chunk string, opts Options) (string, error) {
	messages := []llm.Message{
		llm.System(SystemPrompt),
		llm.User(UserPrompt(opts.TargetLanguage, chunk)),
	}
	out, err := e.completer.Complete(ctx, messages, *opts.Temperature)
	if err != nil {
		return "", services.Wrap(services.ErrExternalTool, "translation", "translate chunk", "Chunk translation failed", err)
	}
	return strings.TrimSpace(out), nil
}

// TranslateFile translates inputPath into outputPath using the cache that
// sits beside the output.
func (e *Engine) TranslateFile(ctx context.Context, inputPath, outputPath string, opts Options) (Stats, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return Stats{}, services.Wrap(services.ErrNotFound, "translation", "read input", fmt.Sprintf("Missing original Markdown: %s", inputPath), err)
	}
	text := strings.ToValidUTF8(string(data), "\uFFFD")
	translated, stats, err := e.Translate(ctx, text, opts, CachePath(outputPath))
	if err != nil {
		return stats, err
	}
	if err := fileutil.WriteFileAtomic(outputPath, []byte(translated), 0o644); err != nil {
		return stats, services.Wrap(services.ErrConfiguration, "translation", "write output", "Write translated Markdown", err)
	}
	return stats, nil
}
