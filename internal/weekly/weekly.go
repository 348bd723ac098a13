package weekly

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"paperflow/internal/background"
	"paperflow/internal/fields"
	"paperflow/internal/fileutil"
	"paperflow/internal/jobs"
	"paperflow/internal/logging"
	"paperflow/internal/notifications"
	"paperflow/internal/services"
	"paperflow/internal/services/llm"
	"paperflow/internal/statestore"
)

// DirName holds reports under the output root.
const DirName = "weekly_reports"

const (
	dateLayout        = "2006-01-02"
	idDateLayout      = "20060102"
	idTimeLayout      = "20060102_150405"
	stateFileName     = "state.json"
	polishTemperature = 0.2
)

// SystemPrompt asks the model to write the report from structured input.
const SystemPrompt = "你是一个专业的科研周报写作助手。\n" +
	"请基于用户提供的结构化信息，输出一份中文周报（Markdown 格式）。\n" +
	"要求：\n" +
	"1) 只输出 Markdown，不要输出解释。\n" +
	"2) 结构包含：标题、【本周阅读文献】、【本周完成工作】、【遇到的问题与解决方案】、【下周计划】。\n" +
	"3) 文献部分：每篇控制在 8-12 行内，突出主要结论/创新点/不足/启发。\n" +
	"4) 不要捏造论文中不存在的事实或数值；不确定写“文中未明确”。\n"

// ErrInvalidReportID rejects ids that are not a single file name.
var ErrInvalidReportID = errors.New("invalid report id")

// Request describes the report to write.
type Request struct {
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	TaskIDs   []string `json:"job_ids"`
	ExtraWork string   `json:"extra_work"`
	Problems  string   `json:"problems"`
	NextPlan  string   `json:"next_plan"`
	UseAI     bool     `json:"use_ai"`
}

// Meta is the sidecar record written next to each report.
type Meta struct {
	ReportID     string   `json:"report_id" yaml:"report_id"`
	StartDate    string   `json:"start_date" yaml:"start_date"`
	EndDate      string   `json:"end_date" yaml:"end_date"`
	TaskIDs      []string `json:"job_ids" yaml:"job_ids"`
	CreatedAt    string   `json:"created_at" yaml:"created_at"`
	UseAI        bool     `json:"use_ai" yaml:"use_ai"`
	MarkdownPath string   `json:"markdown_path" yaml:"markdown_path"`
}

// Report is a stored report.
type Report struct {
	Meta     Meta
	Markdown string
}

// Summary is the listing view of a report.
type Summary struct {
	ReportID  string `json:"report_id" yaml:"report_id"`
	StartDate string `json:"start_date" yaml:"start_date"`
	EndDate   string `json:"end_date" yaml:"end_date"`
	CreatedAt string `json:"created_at" yaml:"created_at"`
	UseAI     bool   `json:"use_ai" yaml:"use_ai"`
}

// Service writes and reads weekly reports.
type Service struct {
	outputDir string
	store     *statestore.Store
	runner    *background.Runner
	completer llm.Completer
	notifier  notifications.Service
	logger    *slog.Logger
}

// NewService constructs a Service. runner may be nil when only synchronous
// Create is used.
func NewService(outputDir string, store *statestore.Store, runner *background.Runner, completer llm.Completer, logger *slog.Logger) *Service {
	if store == nil {
		store = statestore.New()
	}
	return &Service{
		outputDir: outputDir,
		store:     store,
		runner:    runner,
		completer: completer,
		logger:    logging.NewComponentLogger(logger, "weekly"),
	}
}

// SetNotifier publishes report_ready after background generation.
func (s *Service) SetNotifier(n notifications.Service) {
	s.notifier = n
}

// Dir returns the reports directory.
func (s *Service) Dir() string {
	return filepath.Join(s.outputDir, DirName)
}

type plan struct {
	id    string
	start time.Time
	end   time.Time
	req   Request
}

func (s *Service) prepare(req Request) (plan, error) {
	start, err := time.Parse(dateLayout, strings.TrimSpace(req.StartDate))
	if err != nil {
		return plan{}, services.Wrap(services.ErrValidation, "weekly", "create", "start_date must be YYYY-MM-DD", err)
	}
	end, err := time.Parse(dateLayout, strings.TrimSpace(req.EndDate))
	if err != nil {
		return plan{}, services.Wrap(services.ErrValidation, "weekly", "create", "end_date must be YYYY-MM-DD", err)
	}
	if start.After(end) {
		return plan{}, services.Wrap(services.ErrValidation, "weekly", "create", "start_date must be <= end_date", nil)
	}
	ids := make([]string, 0, len(req.TaskIDs))
	for _, id := range req.TaskIDs {
		clean, err := jobs.SanitizeID(id)
		if err != nil {
			return plan{}, services.Wrap(services.ErrValidation, "weekly", "create", "Invalid task id", err)
		}
		ids = append(ids, clean)
	}
	req.TaskIDs = ids
	id := start.Format(idDateLayout) + "_" + end.Format(idDateLayout) + "_" + s.store.Time().Format(idTimeLayout)
	return plan{id: id, start: start, end: end, req: req}, nil
}

// Create writes a report synchronously.
func (s *Service) Create(ctx context.Context, req Request) (Report, error) {
	p, err := s.prepare(req)
	if err != nil {
		return Report{}, err
	}
	return s.generate(ctx, p)
}

// Start validates req, then writes the report on the background runner.
// Progress is tracked in <reports>/<id>/state.json.
func (s *Service) Start(ctx context.Context, req Request) (string, error) {
	if s.runner == nil {
		return "", services.Wrap(services.ErrConfiguration, "weekly", "start", "Background runner not configured", nil)
	}
	p, err := s.prepare(req)
	if err != nil {
		return "", err
	}
	err = s.runner.Start(services.WithTaskID(ctx, p.id), background.Job{
		Name:           "weekly",
		StatePath:      s.statePath(p.id),
		Initial:        statestore.M{"report_id": p.id, "state": "running", "error": "", "progress": 0},
		SucceededState: "succeeded",
		Work: func(ctx context.Context, _ *background.Progress) error {
			if _, err := s.generate(ctx, p); err != nil {
				return err
			}
			s.announce(ctx, p.id)
			return nil
		},
	})
	if err != nil {
		return "", err
	}
	return p.id, nil
}

func (s *Service) announce(ctx context.Context, id string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, notifications.EventReportReady, notifications.Payload{"report_id": id}); err != nil {
		s.logger.Warn("report notification failed", logging.String("report_id", id), logging.Error(err))
	}
}

// Status returns the background generation record for id.
func (s *Service) Status(id string) (statestore.Record, error) {
	clean, err := sanitizeReportID(id)
	if err != nil {
		return nil, err
	}
	return s.store.Read(s.statePath(clean)), nil
}

func (s *Service) statePath(id string) string {
	return filepath.Join(s.Dir(), id, stateFileName)
}

func (s *Service) generate(ctx context.Context, p plan) (Report, error) {
	papers := make([]Entry, 0, len(p.req.TaskIDs))
	for _, id := range p.req.TaskIDs {
		analysis := statestore.Object{}
		if task, err := jobs.OpenTask(s.outputDir, id); err == nil {
			analysis = jobs.ReadAnalysis(task)
		}
		papers = append(papers, Entry{Paper: fields.Resolve(analysis), TaskID: id, Link: TaskLink(id)})
	}
	start, end := p.start.Format(dateLayout), p.end.Format(dateLayout)

	var markdown string
	if p.req.UseAI {
		out, err := s.polish(ctx, map[string]any{
			"start_date": start,
			"end_date":   end,
			"papers":     papers,
			"extra_work": p.req.ExtraWork,
			"problems":   p.req.Problems,
			"next_plan":  p.req.NextPlan,
		})
		if err != nil {
			return Report{}, err
		}
		markdown = out
	} else {
		markdown = RenderMarkdown(start, end, papers, p.req.ExtraWork, p.req.Problems, p.req.NextPlan)
	}

	meta := Meta{
		ReportID:     p.id,
		StartDate:    start,
		EndDate:      end,
		TaskIDs:      p.req.TaskIDs,
		CreatedAt:    s.store.Now(),
		UseAI:        p.req.UseAI,
		MarkdownPath: p.id + ".md",
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(s.Dir(), meta.MarkdownPath), []byte(markdown), 0o644); err != nil {
		return Report{}, services.Wrap(services.ErrConfiguration, "weekly", "write", "Write report Markdown", err)
	}
	if err := fileutil.WriteJSON(filepath.Join(s.Dir(), p.id+".json"), meta); err != nil {
		return Report{}, services.Wrap(services.ErrConfiguration, "weekly", "write", "Write report metadata", err)
	}
	logging.WithContext(ctx, s.logger).Info("weekly report written",
		logging.String(logging.FieldEventType, "weekly_report_written"),
		logging.String("report_id", p.id),
		logging.Int("papers", len(papers)),
		logging.Bool("use_ai", p.req.UseAI),
	)
	return Report{Meta: meta, Markdown: markdown}, nil
}

func (s *Service) polish(ctx context.Context, payload map[string]any) (string, error) {
	if s.completer == nil {
		return "", services.Wrap(services.ErrConfiguration, "weekly", "polish", "LLM client not configured", nil)
	}
	encoded, err := fileutil.MarshalIndent(payload)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "weekly", "polish", "Encode report input", err)
	}
	out, err := s.completer.Complete(ctx, []llm.Message{
		llm.System(SystemPrompt),
		llm.User("输入 JSON：\n\n" + strings.TrimSpace(string(encoded))),
	}, polishTemperature)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// List returns stored reports, most recently written first.
func (s *Service) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		if os.IsNotExist(err) {
			return []Summary{}, nil
		}
		return nil, services.Wrap(services.ErrConfiguration, "weekly", "list", "Read reports directory", err)
	}
	type item struct {
		summary Summary
		mtime   time.Time
	}
	items := make([]item, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		meta, _ := readMeta(filepath.Join(s.Dir(), entry.Name()))
		id := meta.ReportID
		if id == "" {
			id = strings.TrimSuffix(entry.Name(), ".json")
		}
		items = append(items, item{
			summary: Summary{ReportID: id, StartDate: meta.StartDate, EndDate: meta.EndDate, CreatedAt: meta.CreatedAt, UseAI: meta.UseAI},
			mtime:   info.ModTime(),
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].mtime.After(items[j].mtime) })
	out := make([]Summary, len(items))
	for i, it := range items {
		out[i] = it.summary
	}
	return out, nil
}

// Get loads a report's metadata and Markdown.
func (s *Service) Get(id string) (Report, error) {
	clean, err := sanitizeReportID(id)
	if err != nil {
		return Report{}, err
	}
	meta, err := readMeta(filepath.Join(s.Dir(), clean+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Report{}, services.Wrap(services.ErrNotFound, "weekly", "get", "Report not found: "+clean, nil)
		}
		return Report{}, services.Wrap(services.ErrProtocol, "weekly", "get", "Corrupt report metadata", err)
	}
	if meta.ReportID == "" {
		meta.ReportID = clean
	}
	data, err := os.ReadFile(filepath.Join(s.Dir(), clean+".md"))
	if err != nil && !os.IsNotExist(err) {
		return Report{}, services.Wrap(services.ErrConfiguration, "weekly", "get", "Read report Markdown", err)
	}
	return Report{Meta: meta, Markdown: strings.ToValidUTF8(string(data), "\uFFFD")}, nil
}

func readMeta(path string) (Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, err
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

func sanitizeReportID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", services.Wrap(services.ErrValidation, "weekly", "get", "Invalid report id", ErrInvalidReportID)
	}
	return id, nil
}
