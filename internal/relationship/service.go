package relationship

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"paperflow/internal/background"
	"paperflow/internal/config"
	"paperflow/internal/fileutil"
	"paperflow/internal/logging"
	"paperflow/internal/services"
	"paperflow/internal/services/llm"
	"paperflow/internal/statestore"
)

// DirName holds the graph and its state under the output root.
const DirName = "relationship_graph"

// Build states.
const (
	StateIdle      = "idle"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

const (
	stateFileName = "state.json"
	graphFileName = "graph.json"
	temperature   = 0.2
	maxEdgesCap   = 80
)

// ErrBuildRunning rejects a new build while one is in flight.
var ErrBuildRunning = errors.New("relationship graph is running")

// SystemPrompt asks the model for a paper relationship graph as JSON.
const SystemPrompt = "你是一个学术知识图谱构建助手。你将收到多篇论文的结构化信息（标题/摘要/要点/方法/标签）。\n" +
	"任务：推断论文之间的内在关系，输出一个“文献关系图谱” JSON，用于前端可视化。\n" +
	"严格要求：\n" +
	"1) 只输出合法 JSON，不要输出任何额外文字。\n" +
	"2) 输出 schema 必须包含：version, nodes, edges, clusters。\n" +
	"3) nodes 必须覆盖输入的每篇论文（以 id 为准），每个 id 只出现一次。\n" +
	"4) edges 表示无向概念关系：不要自环，不要重复；只保留强相关（weight>=3）；总边数<=min(80, 3*N)。\n" +
	"5) clusters 用于主题聚类：每个 cluster 给 name、node_ids、keywords。\n" +
	"6) 不要编造论文中不存在的具体数值/数据集/参数；不确定用“未明确”。\n" +
	"字段约束：\n" +
	"- version: 1\n" +
	"- nodes: [{id,title,authors,year,tags,keywords,summary}]\n" +
	"- edges: [{source,target,type,weight,reason}]\n" +
	"- type 建议从：same_topic, method_similar, extends, contrasts, application, complementary, survey_relation 里选（也可自定义简短英文）。\n" +
	"- weight: 1-5 (只输出>=3)\n" +
	"- reason: 1 句话，<=50 字\n" +
	"- summary: <=80 字\n"

// Service builds and serves the cross-paper relationship graph.
type Service struct {
	outputDir string
	store     *statestore.Store
	runner    *background.Runner
	completer llm.Completer
	logger    *slog.Logger
}

// NewService constructs a Service.
func NewService(outputDir string, store *statestore.Store, runner *background.Runner, completer llm.Completer, logger *slog.Logger) *Service {
	if store == nil {
		store = statestore.New()
	}
	return &Service{
		outputDir: outputDir,
		store:     store,
		runner:    runner,
		completer: completer,
		logger:    logging.NewComponentLogger(logger, "relationship"),
	}
}

func (s *Service) statePath() string { return filepath.Join(s.outputDir, DirName, stateFileName) }

func (s *Service) graphPath() string { return filepath.Join(s.outputDir, DirName, graphFileName) }

// Status returns the build record; an absent record reads as idle.
func (s *Service) Status() statestore.Record {
	rec := s.store.Read(s.statePath())
	if len(rec) == 0 {
		return statestore.Record{"state": statestore.String(StateIdle), "updated_at": statestore.String("")}
	}
	if _, ok := rec["state"].(statestore.String); !ok {
		rec["state"] = statestore.String(StateIdle)
	}
	return rec
}

// Graph loads the last written graph. The boolean is false when no graph
// has been built yet.
func (s *Service) Graph() (Graph, bool, error) {
	data, err := os.ReadFile(s.graphPath())
	if err != nil {
		if os.IsNotExist(err) {
			return Graph{}, false, nil
		}
		return Graph{}, false, services.Wrap(services.ErrConfiguration, "relationship", "read graph", "Read relationship graph", err)
	}
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return Graph{}, false, services.Wrap(services.ErrProtocol, "relationship", "read graph", "Corrupt relationship graph", err)
	}
	return g, true, nil
}

// Build collects analyzed papers and asks the model to relate them. Fewer
// than two papers yield a trivial graph without a model call.
func (s *Service) Build(ctx context.Context, maxPapers int) (Graph, error) {
	papers, err := CollectPapers(s.store, s.outputDir, maxPapers)
	if err != nil {
		return Graph{}, err
	}
	if len(papers) < 2 {
		return Trivial(papers), nil
	}
	if s.completer == nil {
		return Graph{}, services.Wrap(services.ErrConfiguration, "relationship", "build", "LLM client not configured", nil)
	}
	payload, err := fileutil.MarshalIndent(map[string]any{
		"papers":      papers,
		"constraints": map[string]int{"max_edges": min(maxEdgesCap, 3*len(papers))},
	})
	if err != nil {
		return Graph{}, services.Wrap(services.ErrValidation, "relationship", "build", "Encode papers", err)
	}
	out, err := s.completer.Complete(ctx, []llm.Message{
		llm.System(SystemPrompt),
		llm.User("输入 JSON：\n\n" + strings.TrimSpace(string(payload))),
	}, temperature)
	if err != nil {
		return Graph{}, err
	}
	return Normalize(llm.ExtractObject(out), papers), nil
}

// Start records a running build and runs it in the background. A build
// already in flight is refused unless force is set.
func (s *Service) Start(ctx context.Context, maxPapers int, force bool) (statestore.Record, error) {
	if s.runner == nil {
		return nil, services.Wrap(services.ErrConfiguration, "relationship", "start", "Background runner not configured", nil)
	}
	if s.Status().String("state", "") == StateRunning && !force {
		return nil, services.Wrap(services.ErrValidation, "relationship", "start", "Relationship graph build already running", ErrBuildRunning)
	}
	maxPapers = config.ClampPapers(maxPapers)
	err := s.runner.Start(ctx, background.Job{
		Name:      "relationship",
		StatePath: s.statePath(),
		Initial:   statestore.M{"state": StateRunning, "error": "", "max_papers": maxPapers},
		Work: func(ctx context.Context, progress *background.Progress) error {
			g, err := s.Build(ctx, maxPapers)
			if err != nil {
				return err
			}
			g.GeneratedAt = s.store.Now()
			g.PapersCount = len(g.Nodes)
			if err := fileutil.WriteJSON(s.graphPath(), g); err != nil {
				return services.Wrap(services.ErrConfiguration, "relationship", "write graph", "Write relationship graph", err)
			}
			logging.WithContext(ctx, s.logger).Info("relationship graph written",
				logging.String(logging.FieldEventType, "relationship_graph_written"),
				logging.Int("papers", g.PapersCount),
				logging.Int("edges", len(g.Edges)),
				logging.Int("clusters", len(g.Clusters)),
			)
			return progress.Patch(statestore.M{"state": StateSucceeded, "error": "", "papers_count": g.PapersCount})
		},
	})
	if err != nil {
		return nil, err
	}
	return s.Status(), nil
}
