package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"paperflow/internal/api"
	"paperflow/internal/config"
	"paperflow/internal/draw"
	"paperflow/internal/jobs"
	"paperflow/internal/logging"
	"paperflow/internal/logs"
	"paperflow/internal/services"
	"paperflow/internal/stage"
	"paperflow/internal/tags"
	"paperflow/internal/taskindex"
	"paperflow/internal/weekly"
	"paperflow/internal/workflow"
)

const (
	maxRequestBody  = 1 << 20
	defaultLogLines = 200
	maxLogLines     = 5000
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon
	svc    *api.Services

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	s := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
		svc:    d.svc,
	}
	s.server = &http.Server{
		Handler:           s.handler(cfg.Paths.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *apiServer) handler(token string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("POST /api/reindex", s.handleReindex)

	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleShowTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	mux.HandleFunc("GET /api/tasks/{id}/markdown", s.handleTaskMarkdown)
	mux.HandleFunc("POST /api/tasks/{id}/extract", s.handleExtract)
	mux.HandleFunc("POST /api/tasks/{id}/translate", s.handleTranslate)
	mux.HandleFunc("POST /api/tasks/{id}/analyze", s.handleAnalyze)
	mux.HandleFunc("PATCH /api/tasks/{id}/tags", s.handleTaskTags)

	mux.HandleFunc("GET /api/draw", s.handleListDrawings)
	mux.HandleFunc("POST /api/draw", s.handleCreateDrawing)
	mux.HandleFunc("GET /api/draw/{id}", s.handleShowDrawing)
	mux.HandleFunc("DELETE /api/draw/{id}", s.handleDeleteDrawing)

	mux.HandleFunc("GET /api/graph", s.handleGraph)
	mux.HandleFunc("POST /api/graph", s.handleBuildGraph)

	mux.HandleFunc("GET /api/weekly", s.handleListReports)
	mux.HandleFunc("POST /api/weekly", s.handleCreateReport)
	mux.HandleFunc("GET /api/weekly/{id}", s.handleShowReport)
	mux.HandleFunc("GET /api/weekly/{id}/status", s.handleReportStatus)

	mux.HandleFunc("GET /api/tags", s.handleListTags)
	mux.HandleFunc("POST /api/tags", s.handleAddTag)
	mux.HandleFunc("DELETE /api/tags/{tag}", s.handleRemoveTag)

	drawings := filepath.Join(s.svc.Config.Paths.OutputDir, draw.DirName)
	mux.Handle("GET /"+draw.DirName+"/", http.StripPrefix("/"+draw.DirName+"/", http.FileServer(http.Dir(drawings))))

	return authMiddleware(token, mux)
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listen"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

func (s *apiServer) stop() {
	s.shutdown()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	path := s.svc.Config.LogPath()
	var (
		chunk logs.Chunk
		err   error
	)
	if raw := query.Get("offset"); raw != "" {
		offset, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			s.writeError(w, services.Wrap(services.ErrValidation, "api", "logs", "offset must be an integer", perr))
			return
		}
		chunk, err = logs.Since(path, offset)
	} else {
		lines, _ := strconv.Atoi(query.Get("lines"))
		if lines <= 0 {
			lines = defaultLogLines
		}
		chunk, err = logs.Last(path, min(lines, maxLogLines))
	}
	if err != nil {
		s.writeError(w, services.Wrap(services.ErrConfiguration, "api", "logs", "Read daemon log", err))
		return
	}
	chunk.Lines = logs.Filter(chunk.Lines, query.Get("task"))
	if chunk.Lines == nil {
		chunk.Lines = []string{}
	}
	writeJSON(w, http.StatusOK, chunk)
}

func (s *apiServer) handleReindex(w http.ResponseWriter, r *http.Request) {
	count, err := s.svc.Reindex(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"indexed": count})
}

func (s *apiServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	items, err := s.svc.ListTasks(r.Context(), taskindex.Filter{
		State: query.Get("state"),
		Tag:   query.Get("tag"),
		Query: query.Get("q"),
		Limit: limit,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.TaskListResponse{Items: items})
}

func (s *apiServer) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req api.TaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	task, err := s.svc.SubmitTask(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, api.TaskResponse{JobID: task.ID, Queued: strings.TrimSpace(req.Source) != ""})
}

func (s *apiServer) handleShowTask(w http.ResponseWriter, r *http.Request) {
	detail, err := s.svc.DescribeTask(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *apiServer) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteTask(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *apiServer) handleTaskMarkdown(w http.ResponseWriter, r *http.Request) {
	task, err := s.svc.Workflow.OpenTask(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	path := task.OriginalPath
	if r.URL.Query().Get("kind") == "translated" {
		path = task.TranslatedPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		s.writeError(w, services.Wrap(services.ErrNotFound, "api", "markdown", "Markdown not available", err))
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *apiServer) stageRequest(w http.ResponseWriter, r *http.Request) (jobs.Task, api.StageRequest, bool) {
	var req api.StageRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return jobs.Task{}, req, false
	}
	task, err := s.svc.Workflow.OpenTask(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return jobs.Task{}, req, false
	}
	return task, req, true
}

func (s *apiServer) handleExtract(w http.ResponseWriter, r *http.Request) {
	task, req, ok := s.stageRequest(w, r)
	if !ok {
		return
	}
	src := strings.TrimSpace(req.Source)
	if src == "" {
		src = s.svc.Store.Read(task.StatePath).String("pdf", "")
	}
	err := s.svc.Workflow.Submit(r.Context(), stage.Request{Task: task, Source: src}, workflow.Plan{Extract: true})
	s.writeQueued(w, task, err)
}

func (s *apiServer) handleTranslate(w http.ResponseWriter, r *http.Request) {
	task, req, ok := s.stageRequest(w, r)
	if !ok {
		return
	}
	err := s.svc.Workflow.SubmitTranslation(r.Context(), stage.Request{Task: task, TargetLanguage: req.TargetLanguage}, req.Force)
	s.writeQueued(w, task, err)
}

func (s *apiServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	task, req, ok := s.stageRequest(w, r)
	if !ok {
		return
	}
	err := s.svc.Workflow.SubmitAnalysis(r.Context(), stage.Request{Task: task, MaxChars: req.MaxChars})
	s.writeQueued(w, task, err)
}

func (s *apiServer) writeQueued(w http.ResponseWriter, task jobs.Task, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, api.TaskResponse{JobID: task.ID, Queued: true})
}

func (s *apiServer) handleTaskTags(w http.ResponseWriter, r *http.Request) {
	var req api.TagsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	next, err := s.svc.UpdateTaskTags(r.Context(), r.PathValue("id"), tags.Patch{
		Add:     req.Add,
		Remove:  req.Remove,
		Replace: req.Replace,
		Tags:    req.Tags,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.TagsResponse{Tags: next})
}

func (s *apiServer) handleListDrawings(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.svc.Draw.List(limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *apiServer) handleCreateDrawing(w http.ResponseWriter, r *http.Request) {
	var req draw.Request
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.svc.Draw.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, api.DrawResponse{ID: id})
}

func (s *apiServer) handleShowDrawing(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Draw.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Map())
}

func (s *apiServer) handleDeleteDrawing(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.svc.Draw.Delete(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !deleted {
		s.writeError(w, services.Wrap(services.ErrNotFound, "api", "draw delete", "Drawing not found", nil))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *apiServer) handleGraph(w http.ResponseWriter, _ *http.Request) {
	graph, ok, err := s.svc.Relationship.Graph()
	if err != nil {
		s.writeError(w, err)
		return
	}
	payload := map[string]any{"status": s.svc.Relationship.Status().Map()}
	if ok {
		payload["graph"] = graph
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleBuildGraph(w http.ResponseWriter, r *http.Request) {
	var req api.GraphRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	if req.MaxPapers <= 0 {
		req.MaxPapers = s.svc.Config.Relationship.MaxPapers
	}
	rec, err := s.svc.Relationship.Start(r.Context(), req.MaxPapers, req.Force)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec.Map())
}

func (s *apiServer) handleListReports(w http.ResponseWriter, _ *http.Request) {
	items, err := s.svc.Weekly.List()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *apiServer) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var req weekly.Request
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.svc.Weekly.Start(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, api.ReportResponse{ReportID: id})
}

func (s *apiServer) handleShowReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Weekly.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"meta": report.Meta, "markdown": report.Markdown})
}

func (s *apiServer) handleReportStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Weekly.Status(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Map())
}

func (s *apiServer) handleListTags(w http.ResponseWriter, _ *http.Request) {
	usage, err := tags.List(s.svc.Store, s.svc.Config.Paths.OutputDir)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": usage})
}

func (s *apiServer) handleAddTag(w http.ResponseWriter, r *http.Request) {
	var req api.TagsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if tags.Normalize(req.Add) == "" {
		s.writeError(w, services.Wrap(services.ErrValidation, "api", "tags", "Tag is required", nil))
		return
	}
	next, err := s.svc.Tags.Add(req.Add)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.TagsResponse{Tags: next})
}

func (s *apiServer) handleRemoveTag(w http.ResponseWriter, r *http.Request) {
	next, err := s.svc.Tags.Remove(r.PathValue("tag"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.TagsResponse{Tags: next})
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(target); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body: "+err.Error(), services.ErrValidation.Error()))
		return false
	}
	return true
}

// statusFor maps error markers to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrSecurity):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, services.ErrExternalTool), errors.Is(err, services.ErrProtocol), errors.Is(err, services.ErrTransient):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("api request failed",
			logging.String(logging.FieldEventType, "api_error"),
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.Error(err),
		)
	}
	message := services.Message(err)
	if message == "" {
		message = err.Error()
	}
	writeJSON(w, status, errorBody(message, services.Kind(err)))
}

func errorBody(message, kind string) api.ErrorResponse {
	return api.ErrorResponse{Error: message, Kind: kind}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
