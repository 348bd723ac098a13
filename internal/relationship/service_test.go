package relationship_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"paperflow/internal/background"
	"paperflow/internal/logging"
	"paperflow/internal/relationship"
	"paperflow/internal/services"
	"paperflow/internal/statestore"
	"paperflow/internal/testsupport"
)

func writePaper(t *testing.T, root, id, analysis string) {
	t.Helper()
	testsupport.WriteFile(t, filepath.Join(root, id, "state.json"), `{"state":"analyzed","tags":["ml"]}`)
	testsupport.WriteFile(t, filepath.Join(root, id, "analysis.json"), analysis)
}

func TestCollectPapers(t *testing.T) {
	root := t.TempDir()
	long := strings.Repeat("x", 300)
	writePaper(t, root, "20240101_000000_a", `{"标题":"Alpha","年份":2023,"摘要":"`+long+`","主要结论":["c1","c2","c3","c4","c5","c6","c7"]}`)
	writePaper(t, root, "20240201_000000_b", `{"title":"Beta"}`)
	writePaper(t, root, "20240301_000000_c", `{}`)
	testsupport.WriteFile(t, filepath.Join(root, "weekly_reports", "analysis.json"), `{"title":"no"}`)

	papers, err := relationship.CollectPapers(statestore.New(), root, 30)
	if err != nil {
		t.Fatalf("CollectPapers returned error: %v", err)
	}
	if len(papers) != 2 {
		t.Fatalf("expected 2 papers, got %+v", papers)
	}
	if papers[0].Title != "Beta" || papers[1].Title != "Alpha" {
		t.Fatalf("expected newest first, got %s, %s", papers[0].Title, papers[1].Title)
	}
	alpha := papers[1]
	if alpha.Year != "2023" || len(alpha.MainConclusions) != 6 || len(alpha.Tags) != 1 {
		t.Fatalf("unexpected summary %+v", alpha)
	}
	if n := len([]rune(alpha.Abstract)); n != 260 || !strings.HasSuffix(alpha.Abstract, "…") {
		t.Fatalf("expected truncated abstract, got %d runes", n)
	}

	limited, err := relationship.CollectPapers(statestore.New(), root, 1)
	if err != nil {
		t.Fatalf("CollectPapers returned error: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected clamp to two dirs yielding one paper, got %d", len(limited))
	}
}

func newService(t *testing.T, root string, completer *testsupport.ScriptedCompleter) (*relationship.Service, *background.Runner) {
	t.Helper()
	store := statestore.New()
	runner := background.NewRunner(context.Background(), store, logging.NewNop(), 1)
	return relationship.NewService(root, store, runner, completer, logging.NewNop()), runner
}

func TestBuildTrivialSkipsModel(t *testing.T) {
	root := t.TempDir()
	writePaper(t, root, "20240101_000000_a", `{"title":"Only"}`)
	completer := testsupport.NewScriptedCompleter()
	svc, _ := newService(t, root, completer)

	g, err := svc.Build(context.Background(), 30)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if len(g.Nodes) != 1 || g.Nodes[0].Title != "Only" || len(g.Edges) != 0 {
		t.Fatalf("unexpected trivial graph %+v", g)
	}
	if len(completer.Messages()) != 0 {
		t.Fatal("expected no model call")
	}
}

func TestStartWritesGraph(t *testing.T) {
	root := t.TempDir()
	writePaper(t, root, "20240101_000000_a", `{"title":"Alpha"}`)
	writePaper(t, root, "20240201_000000_b", `{"title":"Beta"}`)
	reply := fmt.Sprintf("Here you go:\n```json\n%s\n```", `{"version":1,"nodes":[],"edges":[{"source":"20240101_000000_a","target":"20240201_000000_b","type":"same_topic","weight":4}],"clusters":[]}`)
	completer := testsupport.NewScriptedCompleter(reply)
	svc, runner := newService(t, root, completer)

	if _, ok, _ := svc.Graph(); ok {
		t.Fatal("expected no graph before first build")
	}
	if got := svc.Status().String("state", ""); got != relationship.StateIdle {
		t.Fatalf("expected idle status, got %q", got)
	}

	rec, err := svc.Start(context.Background(), 500, false)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if rec.Int("max_papers", 0) != 120 {
		t.Fatalf("expected clamped max_papers, got %v", rec)
	}
	runner.Wait()

	status := svc.Status()
	if status.String("state", "") != relationship.StateSucceeded || status.Int("papers_count", 0) != 2 {
		t.Fatalf("unexpected status %v", status)
	}
	g, ok, err := svc.Graph()
	if err != nil || !ok {
		t.Fatalf("expected graph, got %v %v", ok, err)
	}
	if len(g.Nodes) != 2 || len(g.Edges) != 1 || g.Edges[0].Type != "same_topic" || g.PapersCount != 2 || g.GeneratedAt == "" {
		t.Fatalf("unexpected graph %+v", g)
	}
	msgs := completer.Messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0][1].Content, `"max_edges": 6`) {
		t.Fatalf("unexpected model request %v", msgs)
	}
}

func TestStartRefusesWhileRunning(t *testing.T) {
	root := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(root, "relationship_graph", "state.json"), `{"state":"running"}`)
	svc, runner := newService(t, root, testsupport.NewScriptedCompleter())

	if _, err := svc.Start(context.Background(), 30, false); !errors.Is(err, relationship.ErrBuildRunning) || !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected running refusal, got %v", err)
	}
	if _, err := svc.Start(context.Background(), 30, true); err != nil {
		t.Fatalf("forced Start returned error: %v", err)
	}
	runner.Wait()
	if got := svc.Status().String("state", ""); got != relationship.StateSucceeded {
		t.Fatalf("expected forced build to succeed with no papers, got %q", got)
	}
}

func TestStartRecordsModelFailure(t *testing.T) {
	root := t.TempDir()
	writePaper(t, root, "20240101_000000_a", `{"title":"Alpha"}`)
	writePaper(t, root, "20240201_000000_b", `{"title":"Beta"}`)
	svc, runner := newService(t, root, testsupport.NewScriptedCompleter())

	if _, err := svc.Start(context.Background(), 30, false); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	runner.Wait()
	status := svc.Status()
	if status.String("state", "") != relationship.StateFailed || !strings.Contains(status.String("error", ""), "no scripted reply") {
		t.Fatalf("unexpected status %v", status)
	}
}
