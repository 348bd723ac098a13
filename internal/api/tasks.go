package api

import (
	"context"
	"strings"

	"paperflow/internal/fileutil"
	"paperflow/internal/jobs"
	"paperflow/internal/logging"
	"paperflow/internal/services"
	"paperflow/internal/source"
	"paperflow/internal/stage"
	"paperflow/internal/tags"
	"paperflow/internal/taskindex"
	"paperflow/internal/workflow"
)

// SubmitTask creates a task for req.Source (when given) and queues the
// requested stages. A blank plan uses the configured defaults.
func (s *Services) SubmitTask(ctx context.Context, req TaskRequest) (jobs.Task, error) {
	src := source.Clean(req.Source)
	hint := strings.TrimSpace(req.Hint)
	if hint == "" {
		hint = source.Hint(src)
	}
	task, err := s.Workflow.CreateTask(ctx, hint)
	if err != nil {
		return jobs.Task{}, err
	}
	plan := req.Plan()
	if plan == (workflow.Plan{}) {
		if src == "" {
			return task, nil
		}
	} else {
		plan.Extract = src != ""
	}
	stageReq := stage.Request{Task: task, Source: src, TargetLanguage: req.TargetLanguage, MaxChars: req.MaxChars}
	if err := s.Workflow.Submit(ctx, stageReq, plan); err != nil {
		return task, err
	}
	return task, nil
}

// RunTask is the foreground form of SubmitTask.
func (s *Services) RunTask(ctx context.Context, req TaskRequest) (jobs.Task, error) {
	src := source.Clean(req.Source)
	if src == "" {
		return jobs.Task{}, services.Wrap(services.ErrValidation, "api", "run", "Source is required", nil)
	}
	hint := strings.TrimSpace(req.Hint)
	if hint == "" {
		hint = source.Hint(src)
	}
	task, err := s.Workflow.CreateTask(ctx, hint)
	if err != nil {
		return jobs.Task{}, err
	}
	plan := req.Plan()
	plan.Extract = true
	if !req.Translate && !req.Analyze {
		plan.Translate = s.Config.Workflow.Translate
		plan.Analyze = s.Config.Workflow.Analyze
	}
	err = s.Workflow.Run(ctx, stage.Request{Task: task, Source: src, TargetLanguage: req.TargetLanguage, MaxChars: req.MaxChars}, plan)
	return task, err
}

// DescribeTask returns a task's summary, raw record and analysis.
func (s *Services) DescribeTask(id string) (TaskDetail, error) {
	task, err := s.Workflow.OpenTask(id)
	if err != nil {
		return TaskDetail{}, err
	}
	detail := TaskDetail{
		Summary: jobs.Summarize(s.Store, task),
		Record:  s.Store.Read(task.StatePath).Map(),
		Paths: TaskPaths{
			Dir:        task.Dir,
			Original:   existing(task.OriginalPath),
			Translated: existing(task.TranslatedPath),
			Analysis:   existing(task.AnalysisPath),
		},
	}
	if detail.Summary.HasAnalysis {
		detail.Analysis = jobs.ReadAnalysis(task).Map()
	}
	return detail, nil
}

func existing(path string) string {
	if fileutil.Exists(path) {
		return path
	}
	return ""
}

// ListTasks lists tasks from the index, falling back to a directory scan
// when the index is unavailable.
func (s *Services) ListTasks(ctx context.Context, filter taskindex.Filter) ([]jobs.Summary, error) {
	if s.Index != nil {
		return s.Index.List(ctx, filter)
	}
	all, err := jobs.ListTasks(s.Store, s.Config.Paths.OutputDir, jobs.Filter{})
	if err != nil {
		return nil, err
	}
	out := make([]jobs.Summary, 0, len(all))
	for _, summary := range all {
		if !matches(summary, filter) {
			continue
		}
		out = append(out, summary)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func matches(summary jobs.Summary, filter taskindex.Filter) bool {
	if state := strings.TrimSpace(filter.State); state != "" && summary.State != state {
		return false
	}
	if tag := strings.TrimSpace(filter.Tag); tag != "" {
		found := false
		for _, t := range summary.Tags {
			if tags.Key(t) == tags.Key(tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if query := strings.ToLower(strings.TrimSpace(filter.Query)); query != "" {
		haystack := strings.ToLower(summary.Title + "\n" + summary.Authors + "\n" + summary.ID)
		if !strings.Contains(haystack, query) {
			return false
		}
	}
	return true
}

// DeleteTask removes a task directory and its index row.
func (s *Services) DeleteTask(ctx context.Context, id string) error {
	task, err := s.Workflow.OpenTask(id)
	if err != nil {
		return err
	}
	if err := jobs.DeleteTask(s.Config.Paths.OutputDir, task.ID); err != nil {
		return err
	}
	if s.Index != nil {
		if err := s.Index.Delete(ctx, task.ID); err != nil {
			logging.WarnWithContext(s.Logger, "index delete failed", "index_delete_failed",
				logging.String(logging.FieldTaskID, task.ID),
				logging.Error(err),
			)
		}
	}
	return nil
}

// UpdateTaskTags edits one task's tags, records new tags in the catalog and
// refreshes the index.
func (s *Services) UpdateTaskTags(ctx context.Context, id string, patch tags.Patch) ([]string, error) {
	task, err := s.Workflow.OpenTask(id)
	if err != nil {
		return nil, err
	}
	next, err := tags.ApplyPatch(s.Store, task.StatePath, patch)
	if err != nil {
		return nil, err
	}
	if len(next) > 0 {
		if _, err := s.Tags.Ensure(next); err != nil {
			return nil, err
		}
	}
	s.Jobs.Mirror(ctx, task)
	return next, nil
}

// Reindex rebuilds the task index from the output directory.
func (s *Services) Reindex(ctx context.Context) (int, error) {
	if s.Index == nil {
		return 0, services.Wrap(services.ErrConfiguration, "api", "reindex", "Task index not open", nil)
	}
	return s.Index.Rebuild(ctx, s.Store, s.Config.Paths.OutputDir)
}

// Status gathers the workflow snapshot and index counts.
func (s *Services) Status(ctx context.Context) WorkflowStatus {
	st := WorkflowStatus{Workflow: s.Workflow.Status(ctx)}
	if s.Index != nil {
		if stats, err := s.Index.Stats(ctx); err == nil {
			st.TaskStats = stats
		}
	}
	st.Graph = s.Relationship.Status().Map()
	return st
}
