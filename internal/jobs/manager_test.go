package jobs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"paperflow/internal/jobs"
	"paperflow/internal/logging"
	"paperflow/internal/services"
	"paperflow/internal/services/mineru"
	"paperflow/internal/testsupport"
)

const paperURL = "https://example.com/files/paper.pdf"

type recordingIndex struct {
	mu        sync.Mutex
	summaries []jobs.Summary
}

func (r *recordingIndex) Upsert(_ context.Context, s jobs.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
	return nil
}

func (r *recordingIndex) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.summaries))
	for i, s := range r.summaries {
		out[i] = s.State
	}
	return out
}

func newManager(t *testing.T, extractor jobs.Extractor, completer *testsupport.UpperCompleter, opts ...jobs.Option) (*jobs.Manager, string) {
	t.Helper()
	opts = append([]jobs.Option{
		jobs.WithStore(fixedStore()),
		jobs.WithPollInterval(time.Millisecond),
	}, opts...)
	return jobs.NewManager(extractor, completer, logging.NewNop(), opts...), t.TempDir()
}

func newTask(t *testing.T, m *jobs.Manager, root string) jobs.Task {
	t.Helper()
	task, err := jobs.CreateTask(m.Store(), root, "paper")
	if err != nil {
		t.Fatalf("CreateTask returned error: %v", err)
	}
	return task
}

func TestPipelineEndToEnd(t *testing.T) {
	bundle := testsupport.ZipBytes(t, map[string]string{
		"full.md":      "# Title\n\nSome prose here.\n\n```x\ny\n```\n\n![fig](images/a.png)",
		"images/a.png": "png",
	})
	extractor := &testsupport.FakeExtractor{
		Statuses: []mineru.Status{{State: mineru.StatePending}, testsupport.Done("https://cdn.example.com/bundle.zip")},
		Bundle:   bundle,
	}
	completer := &testsupport.UpperCompleter{Reply: "```json\n{\"标题\":\"A Paper\",\"作者\":\"Someone\"}\n```"}
	index := &recordingIndex{}
	m, root := newManager(t, extractor, completer, jobs.WithIndex(index))
	task := newTask(t, m, root)
	ctx := context.Background()

	if err := m.RunExtraction(ctx, task, paperURL, time.Minute); err != nil {
		t.Fatalf("RunExtraction returned error: %v", err)
	}
	rec := m.Store().Read(task.StatePath)
	if rec.String("state", "") != jobs.StateParsed {
		t.Fatalf("expected parsed, got %v", rec.Map())
	}
	if got := rec.String("zip_path", ""); got != filepath.Join(task.Dir, "paper_result.zip") {
		t.Fatalf("unexpected zip path %q", got)
	}
	if rec.String("pdf", "") != paperURL || rec.String("hint", "") != "paper" {
		t.Fatalf("expected earlier keys preserved, got %v", rec.Map())
	}
	if extractor.Polls() != 2 {
		t.Fatalf("expected two polls, got %d", extractor.Polls())
	}
	if submitted := extractor.Submitted(); len(submitted) != 1 || submitted[0].URL != paperURL {
		t.Fatalf("unexpected submission %+v", submitted)
	}

	if err := m.RunTranslation(ctx, task, "en"); err != nil {
		t.Fatalf("RunTranslation returned error: %v", err)
	}
	translated := testsupport.ReadFile(t, task.TranslatedPath)
	if !strings.Contains(translated, "# TITLE\n\nSOME PROSE HERE.") {
		t.Fatalf("expected prose uppercased, got %q", translated)
	}
	if !strings.Contains(translated, "```x\ny\n```") {
		t.Fatalf("expected fenced block preserved, got %q", translated)
	}
	rec = m.Store().Read(task.StatePath)
	if rec.String("state", "") != jobs.StateTranslated || rec.String("translate_state", "") != jobs.StateTranslated {
		t.Fatalf("unexpected translation record %v", rec.Map())
	}
	if rec.String("translate_language", "") != "en" || rec.Int("translate_progress", 0) != 100 {
		t.Fatalf("unexpected translation record %v", rec.Map())
	}

	if err := m.RunAnalysis(ctx, task, 0); err != nil {
		t.Fatalf("RunAnalysis returned error: %v", err)
	}
	analysis := jobs.ReadAnalysis(task)
	if analysis.String("标题", "") != "A Paper" {
		t.Fatalf("unexpected analysis %v", analysis.Map())
	}
	calls := completer.Calls()
	last := calls[len(calls)-1]
	if !strings.HasPrefix(last, "论文内容（可能被截断）：\n\n") || !strings.Contains(last, "[[IMAGE]]") {
		t.Fatalf("unexpected analysis prompt %q", last)
	}
	if got := m.Store().Read(task.StatePath).String("state", ""); got != jobs.StateAnalyzed {
		t.Fatalf("expected analyzed, got %q", got)
	}

	summary := jobs.Summarize(m.Store(), task)
	if summary.Title != "A Paper" || !summary.HasTranslation || !summary.HasAnalysis {
		t.Fatalf("unexpected summary %+v", summary)
	}
	states := index.states()
	if len(states) == 0 || states[len(states)-1] != jobs.StateAnalyzed {
		t.Fatalf("expected index to mirror final state, got %v", states)
	}
}

func TestRunExtractionIsIdempotent(t *testing.T) {
	extractor := &testsupport.FakeExtractor{
		Statuses: []mineru.Status{testsupport.Done("https://cdn.example.com/b.zip")},
		Bundle:   testsupport.ZipBytes(t, map[string]string{"full.md": "same", "images/x.png": "p"}),
	}
	m, root := newManager(t, extractor, &testsupport.UpperCompleter{})
	task := newTask(t, m, root)

	for i := range 2 {
		if err := m.RunExtraction(context.Background(), task, paperURL, time.Minute); err != nil {
			t.Fatalf("run %d: RunExtraction returned error: %v", i, err)
		}
	}
	if got := testsupport.ReadFile(t, task.OriginalPath); got != "same" {
		t.Fatalf("unexpected full.md %q", got)
	}
	entries, err := os.ReadDir(task.ResultDir)
	if err != nil {
		t.Fatalf("read result dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected result tree unchanged by re-run, got %d entries", len(entries))
	}
}

func TestRunExtractionFailures(t *testing.T) {
	goodBundle := testsupport.ZipBytes(t, map[string]string{"full.md": "ok"})
	tests := []struct {
		name      string
		extractor *testsupport.FakeExtractor
		timeout   time.Duration
		marker    error
		wantError string
	}{
		{
			name:      "remote failure",
			extractor: &testsupport.FakeExtractor{Statuses: []mineru.Status{{State: mineru.StateFailed, Message: "file too large"}}},
			marker:    services.ErrExternalTool,
			wantError: "file too large",
		},
		{
			name:      "done without bundle",
			extractor: &testsupport.FakeExtractor{Statuses: []mineru.Status{{State: mineru.StateDone}}},
			marker:    services.ErrProtocol,
			wantError: "did not provide a result bundle",
		},
		{
			name: "bundle without full.md",
			extractor: &testsupport.FakeExtractor{
				Statuses: []mineru.Status{testsupport.Done("https://cdn.example.com/b.zip")},
				Bundle:   testsupport.ZipBytes(t, map[string]string{"layout.json": "{}"}),
			},
			marker:    jobs.ErrExpectedOutputMissing,
			wantError: "full.md not found",
		},
		{
			name: "traversal entry",
			extractor: &testsupport.FakeExtractor{
				Statuses: []mineru.Status{testsupport.Done("https://cdn.example.com/b.zip")},
				Bundle:   testsupport.ZipBytes(t, map[string]string{"../escape.md": "x", "full.md": "ok"}),
			},
			marker: services.ErrSecurity,
		},
		{
			name:      "timeout",
			extractor: &testsupport.FakeExtractor{Statuses: []mineru.Status{{State: mineru.StatePending}}, Bundle: goodBundle},
			timeout:   5 * time.Millisecond,
			marker:    services.ErrTimeout,
			wantError: "did not finish",
		},
		{
			name:      "submit rejected",
			extractor: &testsupport.FakeExtractor{SubmitErr: services.Wrap(services.ErrConfiguration, "extraction", "submit", "Extraction token missing", nil)},
			marker:    services.ErrConfiguration,
			wantError: "Extraction token missing",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, root := newManager(t, tt.extractor, &testsupport.UpperCompleter{})
			task := newTask(t, m, root)
			timeout := tt.timeout
			if timeout == 0 {
				timeout = time.Minute
			}

			err := m.RunExtraction(context.Background(), task, paperURL, timeout)
			if !errors.Is(err, tt.marker) {
				t.Fatalf("expected %v, got %v", tt.marker, err)
			}
			rec := m.Store().Read(task.StatePath)
			if rec.String("state", "") != jobs.StateFailed {
				t.Fatalf("expected failed state, got %v", rec.Map())
			}
			if msg := rec.String("error", ""); msg == "" || !strings.Contains(msg, tt.wantError) {
				t.Fatalf("unexpected error text %q", msg)
			}
		})
	}
}

func TestRunExtractionMissingLocalFile(t *testing.T) {
	m, root := newManager(t, &testsupport.FakeExtractor{}, &testsupport.UpperCompleter{})
	task := newTask(t, m, root)

	err := m.RunExtraction(context.Background(), task, filepath.Join(root, "absent.pdf"), time.Minute)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if got := m.Store().Read(task.StatePath).String("state", ""); got != jobs.StateFailed {
		t.Fatalf("expected failed, got %q", got)
	}
}

func TestRunTranslationRequiresOriginal(t *testing.T) {
	m, root := newManager(t, nil, &testsupport.UpperCompleter{})
	task := newTask(t, m, root)

	err := m.RunTranslation(context.Background(), task, "")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	rec := m.Store().Read(task.StatePath)
	if rec.String("state", "") != jobs.StateQueued {
		t.Fatalf("expected state untouched, got %v", rec.Map())
	}
	if rec.String("translate_state", "") != jobs.StateFailed || !strings.Contains(rec.String("translate_error", ""), "missing original Markdown") {
		t.Fatalf("unexpected translation failure fields %v", rec.Map())
	}
	if rec.String("error", "") == "" {
		t.Fatalf("expected error recorded, got %v", rec.Map())
	}
}

func TestRunTranslationEngineFailure(t *testing.T) {
	completer := &testsupport.UpperCompleter{Err: errors.New("quota exhausted")}
	m, root := newManager(t, nil, completer)
	task := newTask(t, m, root)
	testsupport.WriteFile(t, task.OriginalPath, "Hello")

	err := m.RunTranslation(context.Background(), task, "zh-CN")
	if err == nil {
		t.Fatal("expected translation failure")
	}
	rec := m.Store().Read(task.StatePath)
	if rec.String("state", "") != jobs.StateFailed || rec.String("translate_state", "") != jobs.StateFailed {
		t.Fatalf("unexpected record %v", rec.Map())
	}
	if !strings.Contains(rec.String("translate_error", ""), "quota exhausted") {
		t.Fatalf("expected cause in translate_error, got %v", rec.Map())
	}
}

func TestRunAnalysis(t *testing.T) {
	t.Run("missing original fails task", func(t *testing.T) {
		m, root := newManager(t, nil, &testsupport.UpperCompleter{})
		task := newTask(t, m, root)
		if err := m.RunAnalysis(context.Background(), task, 0); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
		rec := m.Store().Read(task.StatePath)
		if rec.String("state", "") != jobs.StateFailed || rec.String("error", "") == "" || rec.String("analysis_error", "") == "" {
			t.Fatalf("unexpected record %v", rec.Map())
		}
	})

	t.Run("unparseable reply stored raw", func(t *testing.T) {
		m, root := newManager(t, nil, &testsupport.UpperCompleter{Reply: "  not json at all  "})
		task := newTask(t, m, root)
		testsupport.WriteFile(t, task.OriginalPath, "Body")
		if err := m.RunAnalysis(context.Background(), task, 0); err != nil {
			t.Fatalf("RunAnalysis returned error: %v", err)
		}
		if got := jobs.ReadAnalysis(task).String("raw", ""); got != "not json at all" {
			t.Fatalf("expected raw fallback, got %q", got)
		}
	})

	t.Run("completer failure", func(t *testing.T) {
		m, root := newManager(t, nil, &testsupport.UpperCompleter{Err: errors.New("offline")})
		task := newTask(t, m, root)
		testsupport.WriteFile(t, task.OriginalPath, "Body")
		if err := m.RunAnalysis(context.Background(), task, 0); err == nil {
			t.Fatal("expected failure")
		}
		rec := m.Store().Read(task.StatePath)
		if rec.String("state", "") != jobs.StateFailed || rec.String("error", "") != "offline" {
			t.Fatalf("unexpected record %v", rec.Map())
		}
	})
}
