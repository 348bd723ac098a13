package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"paperflow/internal/api"
	"paperflow/internal/config"
	"paperflow/internal/jobs"
	"paperflow/internal/logging"
	"paperflow/internal/services/mineru"
	"paperflow/internal/testsupport"
)

const paperURL = "https://example.com/files/paper.pdf"

func newTestDaemon(t *testing.T, opts ...testsupport.ConfigOption) (*Daemon, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	extractor := &testsupport.FakeExtractor{
		Statuses: []mineru.Status{testsupport.Done("https://cdn.example.com/bundle.zip")},
		Bundle:   testsupport.ZipBytes(t, map[string]string{"full.md": "# Title\n\nBody text."}),
	}
	svc, err := api.Build(context.Background(), cfg, logging.NewNop(),
		api.WithCompleter(&testsupport.UpperCompleter{Reply: `{"标题":"Indexed Paper"}`}),
		api.WithExtractor(extractor),
		api.WithPollInterval(time.Millisecond),
	)
	if err != nil {
		t.Fatalf("api.Build: %v", err)
	}
	d, err := New(cfg, svc, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d, cfg
}

func serve(t *testing.T, d *Daemon, token string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(d.server.handler(token))
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestDaemonStartStop(t *testing.T) {
	d, cfg := newTestDaemon(t)
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !d.Status(ctx).Running {
		t.Fatal("expected daemon to report running")
	}
	if d.Addr() == "" {
		t.Fatal("expected a bound API address")
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	svc, err := api.Build(ctx, cfg, logging.NewNop(), api.WithoutIndex())
	if err != nil {
		t.Fatalf("api.Build: %v", err)
	}
	other, err := New(cfg, svc, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := other.Start(ctx); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock contention, got %v", err)
	}
	_ = other.Close()

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestClientStatusAgainstRunningDaemon(t *testing.T) {
	d, _ := newTestDaemon(t, testsupport.WithAPIToken("secret"))
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	client, err := api.NewClient(d.Addr(), "secret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || len(status.Status.Workflow.Stages) != 3 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestAuthMiddleware(t *testing.T) {
	d, _ := newTestDaemon(t)
	srv := serve(t, d, "secret")

	if code := call(t, http.MethodGet, srv.URL+"/api/status", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestTaskLifecycle(t *testing.T) {
	d, _ := newTestDaemon(t)
	srv := serve(t, d, "")

	var created api.TaskResponse
	code := call(t, http.MethodPost, srv.URL+"/api/tasks", api.TaskRequest{Source: paperURL, Translate: true, Analyze: true}, &created)
	if code != http.StatusAccepted || created.JobID == "" || !created.Queued {
		t.Fatalf("unexpected create response %d %+v", code, created)
	}
	d.svc.Runner.Wait()

	var detail api.TaskDetail
	if code := call(t, http.MethodGet, srv.URL+"/api/tasks/"+created.JobID, nil, &detail); code != http.StatusOK {
		t.Fatalf("show returned %d", code)
	}
	if detail.Summary.State != jobs.StateAnalyzed || detail.Summary.Title != "Indexed Paper" || detail.Paths.Translated == "" {
		t.Fatalf("unexpected detail %+v", detail)
	}

	var tagged api.TagsResponse
	if code := call(t, http.MethodPatch, srv.URL+"/api/tasks/"+created.JobID+"/tags", api.TagsRequest{Add: "#catalysis"}, &tagged); code != http.StatusOK {
		t.Fatalf("tags returned %d", code)
	}
	if len(tagged.Tags) != 1 || tagged.Tags[0] != "catalysis" {
		t.Fatalf("unexpected tags %v", tagged.Tags)
	}

	var listed api.TaskListResponse
	call(t, http.MethodGet, srv.URL+"/api/tasks?tag=Catalysis", nil, &listed)
	if len(listed.Items) != 1 || listed.Items[0].ID != created.JobID {
		t.Fatalf("expected indexed task in listing, got %+v", listed.Items)
	}

	var translating api.TaskResponse
	if code := call(t, http.MethodPost, srv.URL+"/api/tasks/"+created.JobID+"/translate", api.StageRequest{Force: true}, &translating); code != http.StatusAccepted {
		t.Fatalf("translate returned %d", code)
	}
	d.svc.Runner.Wait()

	if code := call(t, http.MethodDelete, srv.URL+"/api/tasks/"+created.JobID, nil, nil); code != http.StatusOK {
		t.Fatalf("delete returned %d", code)
	}
	if code := call(t, http.MethodGet, srv.URL+"/api/tasks/"+created.JobID, nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", code)
	}
}

func TestErrorMapping(t *testing.T) {
	d, _ := newTestDaemon(t)
	srv := serve(t, d, "")

	var apiErr api.ErrorResponse
	if code := call(t, http.MethodPost, srv.URL+"/api/draw", map[string]string{"prompt": " "}, &apiErr); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty prompt, got %d", code)
	}
	if apiErr.Kind != "validation error" {
		t.Fatalf("unexpected error kind %+v", apiErr)
	}
	if code := call(t, http.MethodGet, srv.URL+"/api/draw/nope", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown drawing, got %d", code)
	}
	if code := call(t, http.MethodPost, srv.URL+"/api/weekly", map[string]string{"start_date": "2024-13-01", "end_date": "2024-01-01"}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad dates, got %d", code)
	}
}

func TestGraphBuildWithoutPapers(t *testing.T) {
	d, _ := newTestDaemon(t)
	srv := serve(t, d, "")

	if code := call(t, http.MethodPost, srv.URL+"/api/graph", api.GraphRequest{}, nil); code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}
	d.svc.Runner.Wait()

	var payload struct {
		Status map[string]any `json:"status"`
		Graph  *struct {
			PapersCount int `json:"papers_count"`
		} `json:"graph"`
	}
	call(t, http.MethodGet, srv.URL+"/api/graph", nil, &payload)
	if payload.Status["state"] != "succeeded" || payload.Graph == nil || payload.Graph.PapersCount != 0 {
		t.Fatalf("unexpected graph payload %+v", payload)
	}
}

func TestStatusFor(t *testing.T) {
	if statusFor(context.DeadlineExceeded) != http.StatusInternalServerError {
		t.Fatal("expected unmarked errors to map to 500")
	}
}

func TestLogsEndpoint(t *testing.T) {
	d, cfg := newTestDaemon(t)
	srv := serve(t, d, "")
	testsupport.WriteFile(t, cfg.LogPath(), "{\"task_id\":\"a\"}\n{\"task_id\":\"b\"}\n")

	client, err := api.NewClient(srv.URL, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	chunk, err := client.Logs(context.Background(), -1, 1, "")
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(chunk.Lines) != 1 || chunk.Lines[0] != `{"task_id":"b"}` {
		t.Fatalf("unexpected tail %+v", chunk)
	}

	chunk, err = client.Logs(context.Background(), 0, 0, `"a"`)
	if err != nil {
		t.Fatalf("Logs from offset: %v", err)
	}
	if len(chunk.Lines) != 1 || chunk.Lines[0] != `{"task_id":"a"}` {
		t.Fatalf("unexpected filtered lines %+v", chunk)
	}

	if code := call(t, http.MethodGet, srv.URL+"/api/logs?offset=abc", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad offset, got %d", code)
	}
}
