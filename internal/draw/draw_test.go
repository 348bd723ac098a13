package draw_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"paperflow/internal/background"
	"paperflow/internal/draw"
	"paperflow/internal/logging"
	"paperflow/internal/services"
	"paperflow/internal/services/grsai"
	"paperflow/internal/services/llm"
	"paperflow/internal/statestore"
	"paperflow/internal/testsupport"
)

type fakeDrawer struct {
	mu        sync.Mutex
	submitErr error
	results   []grsai.Result
	requests  []grsai.DrawRequest
	polls     int
}

func (f *fakeDrawer) Draw(_ context.Context, req grsai.DrawRequest) (grsai.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.submitErr != nil {
		return grsai.Submission{}, f.submitErr
	}
	return grsai.Submission{ID: "remote-1", Raw: statestore.Object{"id": statestore.String("remote-1")}}, nil
}

func (f *fakeDrawer) Result(context.Context, string) (grsai.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := min(f.polls, len(f.results)-1)
	f.polls++
	return f.results[idx], nil
}

type harness struct {
	service *draw.Service
	runner  *background.Runner
	store   *statestore.Store
	drawer  *fakeDrawer
	hosts   []string
	output  string
}

func newHarness(t *testing.T, drawer *fakeDrawer, scripted *testsupport.ScriptedCompleter, opts ...draw.Option) *harness {
	t.Helper()
	h := &harness{drawer: drawer, output: t.TempDir(), store: statestore.New()}
	h.runner = background.NewRunner(context.Background(), h.store, logging.NewNop(), 2)
	factory := func(host string) draw.Drawer {
		h.hosts = append(h.hosts, host)
		return drawer
	}
	base := []draw.Option{
		draw.WithStore(h.store),
		draw.WithPolling(time.Millisecond, time.Second),
		draw.WithDefaults(draw.Defaults{Model: "nano-banana-fast", AspectRatio: "auto", ImageSize: "1K"}),
		draw.WithIDGenerator(func() string { return "d1" }),
	}
	var completer llm.Completer
	if scripted != nil {
		completer = scripted
	}
	h.service = draw.NewService(h.output, h.runner, factory, completer, logging.NewNop(), append(base, opts...)...)
	return h
}

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/img/one.png":
			_, _ = w.Write([]byte("PNGDATA"))
		case "/img/two":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte("JPEGDATA"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestCreateRunsDrawingToCompletion(t *testing.T) {
	server := imageServer(t)
	drawer := &fakeDrawer{results: []grsai.Result{
		{Status: "running", Progress: 40},
		{Status: "running", Progress: 20},
		{Status: grsai.StatusSucceeded, Progress: 90, Results: []grsai.ResultItem{
			{URL: server.URL + "/img/one.png?sig=abc", Content: "first"},
			{URL: server.URL + "/img/two"},
			{URL: server.URL + "/img/missing.webp"},
		}},
	}}
	completer := testsupport.NewScriptedCompleter(`  "a clean academic diagram"  `)
	h := newHarness(t, drawer, completer)

	id, err := h.service.Create(context.Background(), draw.Request{Prompt: "  cell diagram ", UseAI: true, Host: "global"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if id != "d1" {
		t.Fatalf("unexpected id %q", id)
	}
	h.runner.Wait()

	rec, err := h.service.Get(id)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if rec.String("state", "") != draw.StateSucceeded || rec.Int("progress", 0) != 100 {
		t.Fatalf("unexpected final state: %v", rec)
	}
	if rec.String("prompt_final", "") != "a clean academic diagram" || rec.String("prompt_polished", "") != "a clean academic diagram" {
		t.Fatalf("unexpected prompts: %v", rec)
	}
	if got := rec.Object("remote").String("id", ""); got != "remote-1" {
		t.Fatalf("unexpected remote id %q", got)
	}
	files := rec.Strings("files")
	want := []string{"/drawings/d1/result_1.png", "/drawings/d1/result_2.jpg"}
	if strings.Join(files, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected files %v", files)
	}
	data, err := os.ReadFile(filepath.Join(h.output, "drawings", "d1", "result_2.jpg"))
	if err != nil || string(data) != "JPEGDATA" {
		t.Fatalf("unexpected downloaded file: %q %v", data, err)
	}
	results := rec.Array("results")
	if len(results) != 3 {
		t.Fatalf("expected three result entries, got %d", len(results))
	}
	third, _ := results[2].(statestore.Object)
	if !strings.Contains(third.String("content", ""), "[download_failed]") || third.String("local_url", "") != "" {
		t.Fatalf("expected failed download note, got %v", third)
	}

	if len(drawer.requests) != 1 {
		t.Fatalf("expected single submission, got %d", len(drawer.requests))
	}
	sent := drawer.requests[0]
	if sent.Prompt != "a clean academic diagram" || sent.Model != "nano-banana-fast" || sent.AspectRatio != "auto" || sent.ImageSize != "1K" {
		t.Fatalf("unexpected submission %+v", sent)
	}
	if len(h.hosts) != 1 || h.hosts[0] != "global" {
		t.Fatalf("expected host override to reach factory, got %v", h.hosts)
	}
	msgs := completer.Messages()
	if len(msgs) != 1 || !strings.HasPrefix(msgs[0][1].Content, "原始提示词：\ncell diagram") {
		t.Fatalf("unexpected polish request %v", msgs)
	}
}

func TestCreateOverrideSkipsPolish(t *testing.T) {
	drawer := &fakeDrawer{results: []grsai.Result{{Status: grsai.StatusSucceeded}}}
	completer := testsupport.NewScriptedCompleter("should not be used")
	h := newHarness(t, drawer, completer)

	if _, err := h.service.Create(context.Background(), draw.Request{Prompt: "raw", PromptOverride: "exact prompt", UseAI: true}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	h.runner.Wait()
	rec, _ := h.service.Get("d1")
	if rec.String("prompt_final", "") != "exact prompt" || rec.String("prompt_polished", "") != "" {
		t.Fatalf("unexpected prompts: %v", rec)
	}
	if len(completer.Messages()) != 0 {
		t.Fatal("expected no polish call")
	}
}

func TestPolishFailureRecordsWarning(t *testing.T) {
	drawer := &fakeDrawer{results: []grsai.Result{{Status: grsai.StatusSucceeded}}}
	h := newHarness(t, drawer, nil)

	if _, err := h.service.Create(context.Background(), draw.Request{Prompt: "raw prompt", UseAI: true}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	h.runner.Wait()
	rec, _ := h.service.Get("d1")
	if !strings.HasPrefix(rec.String("warning", ""), "AI polish skipped: ") {
		t.Fatalf("expected polish warning, got %v", rec)
	}
	if rec.String("prompt_final", "") != "raw prompt" || rec.String("state", "") != draw.StateSucceeded {
		t.Fatalf("expected raw prompt to be used, got %v", rec)
	}
}

func TestRemoteFailureUsesFailureReason(t *testing.T) {
	drawer := &fakeDrawer{results: []grsai.Result{
		{Status: "running", Progress: 30},
		{Status: grsai.StatusFailed, Progress: 0, FailureReason: "content policy"},
	}}
	h := newHarness(t, drawer, nil)

	if _, err := h.service.Create(context.Background(), draw.Request{Prompt: "x"}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	h.runner.Wait()
	rec, _ := h.service.Get("d1")
	if rec.String("state", "") != draw.StateFailed || rec.String("error", "") != "content policy" {
		t.Fatalf("unexpected failure record: %v", rec)
	}
	if rec.Int("progress", 0) != 30 {
		t.Fatalf("expected progress to stay at 30, got %d", rec.Int("progress", 0))
	}
}

func TestSubmitErrorFailsDrawing(t *testing.T) {
	drawer := &fakeDrawer{submitErr: services.Wrap(services.ErrProtocol, "draw", "submit", "Unexpected nano-banana response: missing id", nil)}
	h := newHarness(t, drawer, nil)

	if _, err := h.service.Create(context.Background(), draw.Request{Prompt: "x"}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	h.runner.Wait()
	rec, _ := h.service.Get("d1")
	if rec.String("state", "") != draw.StateFailed || !strings.Contains(rec.String("error", ""), "missing id") {
		t.Fatalf("unexpected failure record: %v", rec)
	}
}

func TestDeadlineFailsDrawing(t *testing.T) {
	drawer := &fakeDrawer{results: []grsai.Result{{Status: "running", Progress: 5}}}
	h := newHarness(t, drawer, nil, draw.WithPolling(time.Millisecond, 20*time.Millisecond))

	if _, err := h.service.Create(context.Background(), draw.Request{Prompt: "x"}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	h.runner.Wait()
	rec, _ := h.service.Get("d1")
	if rec.String("state", "") != draw.StateFailed || !strings.Contains(rec.String("error", ""), "did not finish") {
		t.Fatalf("unexpected failure record: %v", rec)
	}
}

func TestCreateRequiresPrompt(t *testing.T) {
	h := newHarness(t, &fakeDrawer{}, nil)
	_, err := h.service.Create(context.Background(), draw.Request{Prompt: "   "})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(h.output, "drawings")); !os.IsNotExist(statErr) {
		t.Fatal("expected no drawing directory")
	}
}

func TestListAndDelete(t *testing.T) {
	h := newHarness(t, &fakeDrawer{}, nil)
	dir := filepath.Join(h.output, "drawings")
	for id, updated := range map[string]string{"old": "2025-01-01 00:00:00", "new": "2025-02-01 00:00:00", "mid": "2025-01-15 00:00:00"} {
		err := h.store.Write(filepath.Join(dir, id, "state.json"), statestore.FromMap(statestore.M{
			"id":         id,
			"state":      "succeeded",
			"updated_at": updated,
			"request":    statestore.M{"prompt": "p-" + id, "model": "m"},
			"files":      []string{"/drawings/" + id + "/result_1.png"},
		}))
		if err != nil {
			t.Fatalf("write record: %v", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "empty"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	items, err := h.service.List(0)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(items) != 3 || items[0].ID != "new" || items[1].ID != "mid" || items[2].ID != "old" {
		t.Fatalf("unexpected order %+v", items)
	}
	if items[0].Prompt != "p-new" || items[0].Model != "m" || len(items[0].Files) != 1 {
		t.Fatalf("unexpected summary %+v", items[0])
	}
	if limited, _ := h.service.List(1); len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}

	removed, err := h.service.Delete("mid")
	if err != nil || !removed {
		t.Fatalf("expected delete to succeed, got %v %v", removed, err)
	}
	removed, err = h.service.Delete("mid")
	if err != nil || removed {
		t.Fatalf("expected second delete to report false, got %v %v", removed, err)
	}
	if _, err := h.service.Delete("../outside"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := h.service.Get("mid"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListMissingDirectory(t *testing.T) {
	h := newHarness(t, &fakeDrawer{}, nil)
	items, err := h.service.List(10)
	if err != nil || len(items) != 0 {
		t.Fatalf("expected empty list, got %v %v", items, err)
	}
}

func TestSanitizeID(t *testing.T) {
	valid := []string{"abc123", "/abc/"}
	for _, id := range valid {
		if _, err := draw.SanitizeID(id); err != nil {
			t.Fatalf("SanitizeID(%q) returned error: %v", id, err)
		}
	}
	invalid := []string{"", "a/b", `a\b`, "..", "a..b", strings.Repeat("x", 81)}
	for _, id := range invalid {
		if _, err := draw.SanitizeID(id); !errors.Is(err, draw.ErrInvalidID) {
			t.Fatalf("SanitizeID(%q) expected ErrInvalidID, got %v", id, err)
		}
	}
}

func TestGuessExtension(t *testing.T) {
	tests := []struct {
		url, contentType, want string
	}{
		{"https://x/a.PNG", "", ".png"},
		{"https://x/a.webp?token=1", "image/png", ".webp"},
		{"https://x/a", "image/jpeg; charset=binary", ".jpg"},
		{"https://x/a.txt", "image/svg+xml", ".svg"},
		{"https://x/a", "application/octet-stream", ".png"},
	}
	for _, tc := range tests {
		if got := draw.GuessExtension(tc.url, tc.contentType); got != tc.want {
			t.Fatalf("GuessExtension(%q, %q) = %q, want %q", tc.url, tc.contentType, got, tc.want)
		}
	}
}

func TestPolishPrompt(t *testing.T) {
	completer := testsupport.NewScriptedCompleter(`"polished"`)
	got, err := draw.PolishPrompt(context.Background(), completer, "  raw ")
	if err != nil || got != "polished" {
		t.Fatalf("unexpected polish result %q %v", got, err)
	}
	msgs := completer.Messages()
	if msgs[0][0].Content != draw.PolishSystemPrompt {
		t.Fatal("expected polish system prompt")
	}
	empty, err := draw.PolishPrompt(context.Background(), completer, "   ")
	if err != nil || empty != "" {
		t.Fatalf("expected empty result for blank prompt, got %q %v", empty, err)
	}
	if len(completer.Messages()) != 1 {
		t.Fatal("expected blank prompt to skip the model")
	}
}
