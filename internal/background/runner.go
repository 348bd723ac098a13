package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"paperflow/internal/logging"
	"paperflow/internal/services"
	"paperflow/internal/statestore"
)

// StateFailed is the terminal failure state written by the guard.
const StateFailed = "failed"

// Job is one detached unit of work reporting through a state record.
type Job struct {
	Name      string
	StatePath string
	// Initial is written synchronously before Start returns.
	Initial statestore.M
	// SucceededState, when set, is patched together with progress 100 after
	// Work returns nil.
	SucceededState string
	// Failure builds the fields recorded when Work fails or panics. The
	// default records {state: failed, error: message}. An empty result
	// means the failure was already recorded and nothing is patched.
	Failure func(err error, message string) statestore.M
	Work    func(ctx context.Context, progress *Progress) error
}

// Runner launches jobs on goroutines detached from the caller's
// cancellation and guarantees a terminal record for every job.
type Runner struct {
	base   context.Context
	store  *statestore.Store
	logger *slog.Logger
	sem    chan struct{}
	wg     sync.WaitGroup
}

// NewRunner constructs a Runner. Jobs are cancelled only when base is.
// maxConcurrent bounds how many jobs execute at once; extra jobs wait.
func NewRunner(base context.Context, store *statestore.Store, logger *slog.Logger, maxConcurrent int) *Runner {
	if base == nil {
		base = context.Background()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Runner{
		base:   base,
		store:  store,
		logger: logging.NewComponentLogger(logger, "background"),
		sem:    make(chan struct{}, maxConcurrent),
	}
}

// Start writes the job's initial record and launches Work. Values carried by
// ctx (task id, request id) flow into the job; its cancellation does not.
func (r *Runner) Start(ctx context.Context, job Job) error {
	if job.Work == nil {
		return services.Wrap(services.ErrValidation, "background", "start", "Job has no work function", nil)
	}
	if strings.TrimSpace(job.StatePath) == "" {
		return services.Wrap(services.ErrValidation, "background", "start", "Job has no state path", nil)
	}
	if len(job.Initial) > 0 {
		if _, err := r.store.Patch(job.StatePath, job.Initial); err != nil {
			return services.Wrap(services.ErrConfiguration, "background", "start", "Write initial state", err)
		}
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(r.base, cancel)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		defer stop()
		r.run(jobCtx, job)
	}()
	return nil
}

// Wait blocks until every launched job has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, job Job) {
	logger := logging.WithContext(ctx, r.logger).With(logging.String("job", job.Name))

	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		r.fail(logger, job, fmt.Errorf("job cancelled before start: %w", ctx.Err()))
		return
	}
	defer func() { <-r.sem }()

	start := time.Now()
	logger.Info("background job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("state_path", job.StatePath),
	)

	progress := &Progress{store: r.store, path: job.StatePath}
	err := r.execute(ctx, job, progress)
	if err != nil {
		r.fail(logger, job, err)
		return
	}
	if job.SucceededState != "" {
		if _, perr := r.store.Patch(job.StatePath, statestore.M{"state": job.SucceededState, "progress": 100}); perr != nil {
			logger.Error("failed to persist job success",
				logging.String(logging.FieldEventType, "job_persist_failed"),
				logging.Error(perr),
			)
		}
	}
	logger.Info("background job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.Duration("job_duration", time.Since(start)),
	)
}

func (r *Runner) execute(ctx context.Context, job Job, progress *Progress) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Debug("background job panic stack", logging.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return job.Work(ctx, progress)
}

func (r *Runner) fail(logger *slog.Logger, job Job, err error) {
	message := services.Message(err)
	if message == "" {
		message = "unknown error"
	}
	fields := statestore.M{"state": StateFailed, "error": message}
	if job.Failure != nil {
		fields = job.Failure(err, message)
	}
	logging.ErrorWithContext(logger, "background job failed", "job_failure",
		logging.String(logging.FieldErrorKind, services.Kind(err)),
		logging.String("error_message", message),
		logging.Error(err),
	)
	if len(fields) == 0 {
		return
	}
	if _, perr := r.store.Patch(job.StatePath, fields); perr != nil {
		logger.Error("failed to persist job failure",
			logging.String(logging.FieldEventType, "job_persist_failed"),
			logging.Error(perr),
		)
	}
}

// Progress records monotonic progress for one job.
type Progress struct {
	store *statestore.Store
	path  string

	mu   sync.Mutex
	last int
}

// Report patches progress (clamped so it never moves backwards and never
// exceeds 100) together with any extra fields.
func (p *Progress) Report(pct int, fields statestore.M) error {
	if p == nil {
		return errors.New("progress reporter unavailable")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pct = max(min(pct, 100), p.last)
	p.last = pct
	patch := make(statestore.M, len(fields)+1)
	for k, v := range fields {
		patch[k] = v
	}
	patch["progress"] = pct
	_, err := p.store.Patch(p.path, patch)
	return err
}

// Patch records fields without touching progress.
func (p *Progress) Patch(fields statestore.M) error {
	if p == nil {
		return errors.New("progress reporter unavailable")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.store.Patch(p.path, fields)
	return err
}

// Last returns the highest progress reported so far.
func (p *Progress) Last() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
