package relationship

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	defaultEdgeType   = "related"
	defaultEdgeWeight = 3
	minEdgeWeight     = 1
	maxEdgeWeight     = 5
)

// Node is one paper in the graph.
type Node struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Authors  string   `json:"authors"`
	Year     string   `json:"year"`
	Tags     []string `json:"tags"`
	Keywords []string `json:"keywords"`
	Summary  string   `json:"summary"`
}

// Edge is an undirected relation between two papers.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
	Weight int    `json:"weight"`
	Reason string `json:"reason"`
}

// Cluster groups papers under a shared theme.
type Cluster struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	NodeIDs  []string `json:"node_ids"`
	Keywords []string `json:"keywords"`
}

// Graph is the persisted relationship graph.
type Graph struct {
	Version     int       `json:"version"`
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	Clusters    []Cluster `json:"clusters"`
	Notes       string    `json:"notes"`
	GeneratedAt string    `json:"generated_at,omitempty"`
	PapersCount int       `json:"papers_count"`
}

// Trivial returns the graph used when there is nothing to relate.
func Trivial(papers []Paper) Graph {
	g := Graph{Version: 1, Nodes: make([]Node, 0, len(papers)), Edges: []Edge{}, Clusters: []Cluster{}}
	for _, p := range papers {
		g.Nodes = append(g.Nodes, nodeFromPaper(p))
	}
	return g
}

func nodeFromPaper(p Paper) Node {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return Node{
		ID:       p.ID,
		Title:    firstText(p.Title, p.ID),
		Authors:  p.Authors,
		Year:     p.Year,
		Tags:     tags,
		Keywords: []string{},
	}
}

// Normalize turns a model's loosely keyed graph into a Graph over papers.
// Nodes and edges naming unknown papers are dropped, every paper gets a
// node, edges are deduplicated regardless of direction, and clusters
// without known members are discarded.
func Normalize(raw map[string]any, papers []Paper) Graph {
	if raw == nil {
		raw = map[string]any{}
	}
	byID := make(map[string]Paper, len(papers))
	order := make([]string, 0, len(papers))
	for _, p := range papers {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			continue
		}
		if _, dup := byID[id]; !dup {
			order = append(order, id)
		}
		byID[id] = p
	}

	nodes := make(map[string]Node, len(byID))
	var nodeOrder []string
	for _, n := range objects(raw, "nodes", "节点") {
		id := textOf(first(n, "id", "job_id", "paper_id"))
		paper, ok := byID[id]
		if id == "" || !ok {
			continue
		}
		tags, ok := stringList(n["tags"])
		if !ok {
			tags = paper.Tags
		}
		keywords, _ := stringList(n["keywords"])
		if _, seen := nodes[id]; !seen {
			nodeOrder = append(nodeOrder, id)
		}
		nodes[id] = Node{
			ID:       id,
			Title:    firstText(textOf(first(n, "title", "标题", "name")), paper.Title, id),
			Authors:  firstText(textOf(first(n, "authors", "作者")), paper.Authors),
			Year:     firstText(textOf(first(n, "year", "年份")), paper.Year),
			Tags:     nonNil(tags),
			Keywords: nonNil(keywords),
			Summary:  textOf(first(n, "summary", "简介")),
		}
	}
	for _, id := range order {
		if _, ok := nodes[id]; ok {
			continue
		}
		nodes[id] = nodeFromPaper(byID[id])
		nodeOrder = append(nodeOrder, id)
	}

	g := Graph{
		Version:  versionOf(raw["version"]),
		Nodes:    make([]Node, 0, len(nodeOrder)),
		Edges:    []Edge{},
		Clusters: []Cluster{},
		Notes:    textOf(first(raw, "notes", "说明")),
	}
	for _, id := range nodeOrder {
		g.Nodes = append(g.Nodes, nodes[id])
	}

	seen := make(map[[3]string]bool)
	for _, e := range objects(raw, "edges", "边") {
		src := textOf(first(e, "source", "from", "src", "源"))
		dst := textOf(first(e, "target", "to", "dst", "目标"))
		if src == "" || dst == "" || src == dst {
			continue
		}
		if _, ok := nodes[src]; !ok {
			continue
		}
		if _, ok := nodes[dst]; !ok {
			continue
		}
		typ := firstText(textOf(first(e, "type", "relation", "关系")), defaultEdgeType)
		a, b := src, dst
		if b < a {
			a, b = b, a
		}
		key := [3]string{a, b, typ}
		if seen[key] {
			continue
		}
		seen[key] = true
		g.Edges = append(g.Edges, Edge{
			Source: src,
			Target: dst,
			Type:   typ,
			Weight: weightOf(first(e, "weight", "score", "强度")),
			Reason: textOf(first(e, "reason", "desc", "解释")),
		})
	}

	for _, c := range objects(raw, "clusters", "聚类") {
		members, _ := stringList(first(c, "node_ids", "nodes", "papers"))
		known := make([]string, 0, len(members))
		for _, id := range members {
			if _, ok := nodes[id]; ok {
				known = append(known, id)
			}
		}
		if len(known) == 0 {
			continue
		}
		id := textOf(first(c, "id", "cid", "cluster_id"))
		if id == "" {
			id = fmt.Sprintf("c%d", len(g.Clusters)+1)
		}
		keywords, _ := stringList(c["keywords"])
		g.Clusters = append(g.Clusters, Cluster{
			ID:       id,
			Name:     firstText(textOf(first(c, "name", "主题", "title")), id),
			NodeIDs:  known,
			Keywords: nonNil(keywords),
		})
	}
	return g
}

// objects returns the object elements of the first list found under keys.
func objects(m map[string]any, keys ...string) []map[string]any {
	for _, key := range keys {
		list, ok := m[key].([]any)
		if !ok {
			continue
		}
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			if obj, ok := item.(map[string]any); ok {
				out = append(out, obj)
			}
		}
		return out
	}
	return nil
}

// first returns the first truthy value under keys.
func first(m map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := m[key]; ok && truthy(v) {
			return v
		}
	}
	return nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case float64:
		return t != 0
	case bool:
		return t
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

func textOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func stringList(v any) ([]string, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s := textOf(item); s != "" {
			out = append(out, s)
		}
	}
	return out, true
}

func weightOf(v any) int {
	w := defaultEdgeWeight
	switch t := v.(type) {
	case float64:
		if !math.IsNaN(t) && !math.IsInf(t, 0) {
			w = int(t)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			w = n
		}
	case bool:
		w = 1
	}
	return max(minEdgeWeight, min(maxEdgeWeight, w))
}

func versionOf(v any) int {
	if f, ok := v.(float64); ok && f >= 1 {
		return int(f)
	}
	if s, ok := v.(string); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && n >= 1 {
			return n
		}
	}
	return 1
}

func firstText(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
