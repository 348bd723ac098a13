package relationship

import (
	"encoding/json"
	"strings"
	"testing"
)

func decode(t *testing.T, text string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

func TestNormalizeFiltersAndFillsNodes(t *testing.T) {
	papers := []Paper{
		{ID: "a", Title: "Paper A", Authors: "Ann", Tags: []string{"ml"}},
		{ID: "b", Title: "Paper B", Year: "2024"},
		{ID: "c", Title: "Paper C"},
	}
	raw := decode(t, `{
		"version": 2,
		"节点": [
			{"job_id": "a", "标题": "A prime", "keywords": ["x"], "简介": "short"},
			{"id": "ghost", "title": "not a paper"},
			"junk"
		],
		"edges": [
			{"source": "a", "target": "b", "type": "extends", "weight": 9, "reason": "builds on"},
			{"from": "b", "to": "a", "relation": "extends", "weight": 4},
			{"source": "a", "target": "a"},
			{"source": "a", "target": "ghost"},
			{"src": "b", "dst": "c", "score": "2"},
			{"source": "c", "target": "a", "weight": "high"}
		],
		"clusters": [
			{"name": "Theme", "node_ids": ["a", "ghost", "b"], "keywords": ["k"]},
			{"id": "empty", "nodes": ["ghost"]},
			{"主题": "", "papers": ["c"]}
		],
		"说明": " note "
	}`)

	g := Normalize(raw, papers)
	if g.Version != 2 || g.Notes != "note" {
		t.Fatalf("unexpected header %+v", g)
	}
	if len(g.Nodes) != 3 {
		t.Fatalf("expected every paper as a node, got %+v", g.Nodes)
	}
	a := g.Nodes[0]
	if a.ID != "a" || a.Title != "A prime" || a.Authors != "Ann" || a.Summary != "short" || len(a.Tags) != 1 || a.Keywords[0] != "x" {
		t.Fatalf("unexpected node a %+v", a)
	}
	if g.Nodes[1].ID != "b" || g.Nodes[1].Title != "Paper B" || g.Nodes[1].Year != "2024" {
		t.Fatalf("expected filled node b, got %+v", g.Nodes[1])
	}

	if len(g.Edges) != 3 {
		t.Fatalf("expected 3 edges, got %+v", g.Edges)
	}
	if e := g.Edges[0]; e.Source != "a" || e.Target != "b" || e.Weight != 5 || e.Reason != "builds on" {
		t.Fatalf("unexpected first edge %+v", e)
	}
	if e := g.Edges[1]; e.Source != "b" || e.Target != "c" || e.Type != "related" || e.Weight != 2 {
		t.Fatalf("unexpected second edge %+v", e)
	}
	if e := g.Edges[2]; e.Weight != 3 {
		t.Fatalf("expected default weight, got %+v", e)
	}

	if len(g.Clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %+v", g.Clusters)
	}
	if c := g.Clusters[0]; c.ID != "c1" || c.Name != "Theme" || strings.Join(c.NodeIDs, ",") != "a,b" {
		t.Fatalf("unexpected first cluster %+v", c)
	}
	if c := g.Clusters[1]; c.ID != "c2" || c.Name != "c2" {
		t.Fatalf("unexpected second cluster %+v", c)
	}
}

func TestNormalizeHandlesUnparsedReply(t *testing.T) {
	g := Normalize(map[string]any{"raw": "not json"}, []Paper{{ID: "a"}, {ID: "b", Title: "B"}})
	if g.Version != 1 || len(g.Nodes) != 2 || len(g.Edges) != 0 || len(g.Clusters) != 0 {
		t.Fatalf("unexpected graph %+v", g)
	}
	if g.Nodes[0].Title != "a" {
		t.Fatalf("expected id as fallback title, got %q", g.Nodes[0].Title)
	}
}

func TestEllipsize(t *testing.T) {
	if got := ellipsize("short", 10); got != "short" {
		t.Fatalf("unexpected %q", got)
	}
	if got := ellipsize("abcd efgh", 6); got != "abcd…" {
		t.Fatalf("unexpected %q", got)
	}
	if got := ellipsize("一二三四五六", 4); got != "一二三…" {
		t.Fatalf("unexpected %q", got)
	}
}
