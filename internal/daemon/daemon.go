package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"paperflow/internal/api"
	"paperflow/internal/config"
	"paperflow/internal/logging"
	"paperflow/internal/preflight"
)

// LockFileName is the single-instance lock under the log directory.
const LockFileName = "paperflow.lock"

// Daemon serves the API over one service bundle and enforces
// single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	svc    *api.Services

	lockPath string
	lock     *flock.Flock
	server   *apiServer

	mu        sync.Mutex
	running   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
}

// New constructs a daemon around svc.
func New(cfg *config.Config, svc *api.Services, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || svc == nil {
		return nil, errors.New("daemon requires config and services")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := filepath.Join(cfg.Paths.LogDir, LockFileName)
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		svc:      svc,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.server = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the lock and begins serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another paperflow daemon instance is already running")
	}

	serveCtx, cancel := context.WithCancel(ctx)
	if err := d.server.start(serveCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel
	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("paperflow daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
		logging.String("output_dir", d.cfg.Paths.OutputDir),
	)
	return nil
}

// Stop stops serving and releases the lock. Running background jobs keep
// going until the bundle is closed.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.server.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("paperflow daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Close stops the daemon and releases the service bundle.
func (d *Daemon) Close() error {
	d.Stop()
	return d.svc.Close()
}

// Addr returns the bound API address once started.
func (d *Daemon) Addr() string {
	return d.server.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	d.mu.Lock()
	started := d.startedAt
	d.mu.Unlock()
	st := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		OutputDir:    d.cfg.Paths.OutputDir,
		Status:       d.svc.Status(ctx),
	}
	if !started.IsZero() {
		st.StartedAt = started.UTC().Format(time.RFC3339)
	}
	if d.svc.Index != nil {
		st.IndexPath = d.svc.Index.Path()
	}
	st.Preflight = []preflight.Result{
		preflight.CheckDirectoryAccess("Output directory", d.cfg.Paths.OutputDir),
		preflight.CheckExtractionFromConfig(d.cfg),
		preflight.CheckDrawFromConfig(d.cfg),
	}
	return st
}
