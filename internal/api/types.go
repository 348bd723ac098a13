package api

import (
	"paperflow/internal/jobs"
	"paperflow/internal/preflight"
	"paperflow/internal/workflow"
)

// TaskRequest creates a task and optionally queues stages.
type TaskRequest struct {
	Source         string `json:"source"`
	Hint           string `json:"hint,omitempty"`
	Translate      bool   `json:"translate,omitempty"`
	Analyze        bool   `json:"analyze,omitempty"`
	TargetLanguage string `json:"target_language,omitempty"`
	MaxChars       int    `json:"max_chars,omitempty"`
}

// Plan returns the explicitly requested post-extraction stages.
func (r TaskRequest) Plan() workflow.Plan {
	return workflow.Plan{Translate: r.Translate, Analyze: r.Analyze}
}

// StageRequest re-runs one stage of an existing task.
type StageRequest struct {
	Source         string `json:"source,omitempty"`
	TargetLanguage string `json:"target_language,omitempty"`
	MaxChars       int    `json:"max_chars,omitempty"`
	Force          bool   `json:"force,omitempty"`
}

// TaskResponse acknowledges a created or queued task.
type TaskResponse struct {
	JobID  string `json:"job_id" yaml:"job_id"`
	Queued bool   `json:"queued" yaml:"queued"`
}

// TaskPaths lists the artifacts a task has produced; empty means absent.
type TaskPaths struct {
	Dir        string `json:"dir" yaml:"dir"`
	Original   string `json:"original,omitempty" yaml:"original,omitempty"`
	Translated string `json:"translated,omitempty" yaml:"translated,omitempty"`
	Analysis   string `json:"analysis,omitempty" yaml:"analysis,omitempty"`
}

// TaskDetail is the full view of one task.
type TaskDetail struct {
	Summary  jobs.Summary   `json:"summary" yaml:"summary"`
	Record   map[string]any `json:"record" yaml:"record"`
	Analysis map[string]any `json:"analysis,omitempty" yaml:"analysis,omitempty"`
	Paths    TaskPaths      `json:"paths" yaml:"paths"`
}

// TaskListResponse wraps a task listing.
type TaskListResponse struct {
	Items []jobs.Summary `json:"items" yaml:"items"`
}

// TagsRequest edits a task's tags or the catalog.
type TagsRequest struct {
	Add     string   `json:"add,omitempty"`
	Remove  string   `json:"remove,omitempty"`
	Replace bool     `json:"replace,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// TagsResponse carries a resulting tag list.
type TagsResponse struct {
	Tags []string `json:"tags" yaml:"tags"`
}

// DrawResponse acknowledges a queued drawing.
type DrawResponse struct {
	ID string `json:"id" yaml:"id"`
}

// GraphRequest starts a relationship graph build.
type GraphRequest struct {
	MaxPapers int  `json:"max_papers,omitempty"`
	Force     bool `json:"force,omitempty"`
}

// ReportResponse acknowledges a queued weekly report.
type ReportResponse struct {
	ReportID string `json:"report_id" yaml:"report_id"`
}

// WorkflowStatus summarizes background work and the task catalog.
type WorkflowStatus struct {
	Workflow  workflow.Status `json:"workflow" yaml:"workflow"`
	TaskStats map[string]int  `json:"task_stats,omitempty" yaml:"task_stats,omitempty"`
	Graph     map[string]any  `json:"graph,omitempty" yaml:"graph,omitempty"`
}

// DaemonStatus is the payload of GET /api/status.
type DaemonStatus struct {
	Running      bool               `json:"running" yaml:"running"`
	PID          int                `json:"pid" yaml:"pid"`
	StartedAt    string             `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	LockFilePath string             `json:"lock_file" yaml:"lock_file"`
	OutputDir    string             `json:"output_dir" yaml:"output_dir"`
	IndexPath    string             `json:"index_path,omitempty" yaml:"index_path,omitempty"`
	Status       WorkflowStatus     `json:"status" yaml:"status"`
	Preflight    []preflight.Result `json:"preflight,omitempty" yaml:"preflight,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
