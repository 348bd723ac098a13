package draw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"paperflow/internal/background"
	"paperflow/internal/logging"
	"paperflow/internal/services"
	"paperflow/internal/services/grsai"
	"paperflow/internal/services/llm"
	"paperflow/internal/statestore"
)

// DirName is the drawings directory under the output root.
const DirName = "drawings"

// Drawing states.
const (
	StateQueued     = "queued"
	StateRunning    = "running"
	StatePolishing  = "polishing"
	StateSubmitting = "submitting"
	StateSucceeded  = "succeeded"
	StateFailed     = "failed"
)

const (
	stateFileName       = "state.json"
	maxIDLength         = 80
	defaultListLimit    = 50
	defaultPollInterval = 2 * time.Second
	defaultDeadline     = 20 * time.Minute
	downloadTimeout     = 60 * time.Second
)

// ErrInvalidID rejects drawing ids that could escape the drawings directory.
var ErrInvalidID = errors.New("invalid drawing id")

// Drawer is the remote image generation service.
type Drawer interface {
	Draw(ctx context.Context, req grsai.DrawRequest) (grsai.Submission, error)
	Result(ctx context.Context, id string) (grsai.Result, error)
}

// DrawerFactory returns a Drawer for a per-request host override; an empty
// host selects the configured default.
type DrawerFactory func(host string) Drawer

// Request describes one drawing.
type Request struct {
	Prompt         string   `json:"prompt"`
	PromptOverride string   `json:"prompt_override"`
	Model          string   `json:"model"`
	AspectRatio    string   `json:"aspectRatio"`
	ImageSize      string   `json:"imageSize"`
	URLs           []string `json:"urls"`
	Host           string   `json:"host"`
	UseAI          bool     `json:"use_ai"`
}

// Defaults fill empty Request fields.
type Defaults struct {
	Model       string
	AspectRatio string
	ImageSize   string
}

// Service creates drawings and runs them through the background runner.
type Service struct {
	outputDir    string
	store        *statestore.Store
	runner       *background.Runner
	factory      DrawerFactory
	completer    llm.Completer
	httpClient   *http.Client
	defaults     Defaults
	pollInterval time.Duration
	deadline     time.Duration
	logger       *slog.Logger
	newID        func() string
}

// Option configures a Service.
type Option func(*Service)

// WithStore overrides the state store.
func WithStore(store *statestore.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithHTTPClient overrides the client used to download results.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// WithDefaults sets the request defaults.
func WithDefaults(d Defaults) Option {
	return func(s *Service) { s.defaults = d }
}

// WithPolling sets the result poll interval and overall deadline.
func WithPolling(interval, deadline time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.pollInterval = interval
		}
		if deadline > 0 {
			s.deadline = deadline
		}
	}
}

// WithIDGenerator overrides drawing id generation (tests).
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewService constructs a Service. completer may be nil, in which case
// prompt polishing is skipped with a warning.
func NewService(outputDir string, runner *background.Runner, factory DrawerFactory, completer llm.Completer, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		outputDir:    outputDir,
		store:        statestore.New(),
		runner:       runner,
		factory:      factory,
		completer:    completer,
		httpClient:   &http.Client{Timeout: downloadTimeout},
		pollInterval: defaultPollInterval,
		deadline:     defaultDeadline,
		logger:       logging.NewComponentLogger(logger, "draw"),
		newID: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the drawings directory.
func (s *Service) Dir() string {
	return filepath.Join(s.outputDir, DirName)
}

func (s *Service) statePath(id string) string {
	return filepath.Join(s.Dir(), id, stateFileName)
}

// SanitizeID trims id and rejects path separators, parent references, and
// overlong ids.
func SanitizeID(id string) (string, error) {
	id = strings.Trim(strings.TrimSpace(id), "/")
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") || len(id) > maxIDLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return id, nil
}

// Create records a new drawing and starts generating it in the background.
func (s *Service) Create(ctx context.Context, req Request) (string, error) {
	req = s.normalize(req)
	if req.Prompt == "" && req.PromptOverride == "" {
		return "", services.Wrap(services.ErrValidation, "draw", "create", "Prompt is required", nil)
	}
	if s.runner == nil || s.factory == nil {
		return "", services.Wrap(services.ErrConfiguration, "draw", "create", "Drawing service not configured", nil)
	}
	id := s.newID()
	now := s.store.Now()
	initial := statestore.M{
		"id":             id,
		"created_at":     now,
		"updated_at":     now,
		"state":          StateQueued,
		"progress":       0,
		"status":         "",
		"failure_reason": "",
		"error":          "",
		"warning":        "",
		"request": statestore.M{
			"prompt":          req.Prompt,
			"prompt_override": req.PromptOverride,
			"model":           req.Model,
			"aspectRatio":     req.AspectRatio,
			"imageSize":       req.ImageSize,
			"urls":            req.URLs,
			"host":            req.Host,
			"use_ai":          req.UseAI,
		},
		"remote":          statestore.M{"id": "", "raw": statestore.M{}},
		"results":         []any{},
		"files":           []string{},
		"prompt_polished": "",
		"prompt_final":    "",
	}
	err := s.runner.Start(services.WithTaskID(ctx, id), background.Job{
		Name:      "draw",
		StatePath: s.statePath(id),
		Initial:   initial,
		Work: func(ctx context.Context, progress *background.Progress) error {
			return s.run(ctx, id, req, progress)
		},
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Service) normalize(req Request) Request {
	req.Prompt = strings.TrimSpace(req.Prompt)
	req.PromptOverride = strings.TrimSpace(req.PromptOverride)
	req.Model = firstNonEmpty(req.Model, s.defaults.Model)
	req.AspectRatio = firstNonEmpty(req.AspectRatio, s.defaults.AspectRatio)
	req.ImageSize = firstNonEmpty(req.ImageSize, s.defaults.ImageSize)
	req.Host = strings.TrimSpace(req.Host)
	urls := make([]string, 0, len(req.URLs))
	for _, u := range req.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	req.URLs = urls
	return req
}

// Get returns a drawing record.
func (s *Service) Get(id string) (statestore.Record, error) {
	clean, err := SanitizeID(id)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "draw", "get", "Invalid drawing id", err)
	}
	rec := s.store.Read(s.statePath(clean))
	if len(rec) == 0 {
		return nil, services.Wrap(services.ErrNotFound, "draw", "get", "Drawing not found: "+clean, nil)
	}
	return rec, nil
}

// Summary is the listing view of a drawing.
type Summary struct {
	ID          string   `json:"id" yaml:"id"`
	State       string   `json:"state" yaml:"state"`
	Progress    int      `json:"progress" yaml:"progress"`
	UpdatedAt   string   `json:"updated_at" yaml:"updated_at"`
	Model       string   `json:"model" yaml:"model"`
	Prompt      string   `json:"prompt" yaml:"prompt"`
	PromptFinal string   `json:"prompt_final" yaml:"prompt_final"`
	Files       []string `json:"files" yaml:"files"`
}

// List returns drawings, most recently updated first. limit <= 0 means 50.
func (s *Service) List(limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		if os.IsNotExist(err) {
			return []Summary{}, nil
		}
		return nil, services.Wrap(services.ErrConfiguration, "draw", "list", "Read drawings directory", err)
	}
	out := make([]Summary, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rec := s.store.Read(s.statePath(entry.Name()))
		if len(rec) == 0 {
			continue
		}
		request := rec.Object("request")
		out = append(out, Summary{
			ID:          rec.String("id", entry.Name()),
			State:       rec.String("state", ""),
			Progress:    rec.Int("progress", 0),
			UpdatedAt:   rec.String("updated_at", ""),
			Model:       request.String("model", ""),
			Prompt:      request.String("prompt", ""),
			PromptFinal: rec.String("prompt_final", ""),
			Files:       rec.Strings("files"),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes a drawing directory. It reports false when nothing
// existed.
func (s *Service) Delete(id string) (bool, error) {
	clean, err := SanitizeID(id)
	if err != nil {
		return false, services.Wrap(services.ErrValidation, "draw", "delete", "Invalid drawing id", err)
	}
	base, err := filepath.Abs(s.Dir())
	if err != nil {
		return false, services.Wrap(services.ErrConfiguration, "draw", "delete", "Resolve drawings directory", err)
	}
	target := filepath.Join(base, clean)
	if rel, err := filepath.Rel(base, target); err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false, services.Wrap(services.ErrValidation, "draw", "delete", "Invalid drawing id", ErrInvalidID)
	}
	if _, err := os.Stat(target); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.RemoveAll(target); err != nil {
		return false, services.Wrap(services.ErrConfiguration, "draw", "delete", "Remove drawing", err)
	}
	return true, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
