package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"slidereel/internal/api"
	"slidereel/internal/assetcache"
	"slidereel/internal/config"
	"slidereel/internal/extraction"
	"slidereel/internal/jobs"
	"slidereel/internal/logging"
	"slidereel/internal/narration"
	"slidereel/internal/notifications"
	"slidereel/internal/rendering"
	"slidereel/internal/scratch"
	"slidereel/internal/security"
	"slidereel/internal/workflow"
)

// Daemon wires the store, workflow manager, and HTTP API together and
// enforces single-instance execution through a lock file.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    jobs.Store
	workflow *workflow.Manager
	jobSvc   *api.JobService
	notifier notifications.Service
	server   *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	JobDBPath    string
	LockFilePath string
}

// New constructs a daemon with a fully wired pipeline: store, scratch
// manager, asset cache, the four stage handlers, and the HTTP API.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	store, err := jobs.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	scratchMgr := scratch.NewManager(cfg, logger)
	cache, err := assetcache.New(cfg, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("asset cache: %w", err)
	}

	manager := workflow.NewManager(cfg, store, scratchMgr, logger)
	manager.Register(jobs.StageValidate, security.NewHandler(cfg, logger))
	manager.Register(jobs.StageExtract, extraction.NewHandler(logger))

	narrator, err := narration.NewHandler(cfg, scratchMgr, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("narration handler: %w", err)
	}
	manager.Register(jobs.StageSynthesize, narrator)

	renderer, err := rendering.NewHandler(cfg, scratchMgr, cache, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("rendering handler: %w", err)
	}
	manager.Register(jobs.StageRender, renderer)

	lockPath := filepath.Join(cfg.Paths.DataDir, "slidereeld.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: manager,
		jobSvc:   api.NewJobService(cfg, store),
		notifier: notifications.NewService(cfg),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.server = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock and launches the workflow manager and HTTP
// API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another slidereel daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		d.cancel = nil
		d.lock.Unlock() //nolint:errcheck
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.server.start(runCtx); err != nil {
		d.workflow.Stop()
		cancel()
		d.cancel = nil
		d.lock.Unlock() //nolint:errcheck
		return fmt.Errorf("start api: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("slidereel daemon started", logging.String("lock", d.lockPath))
	d.publish(runCtx, notifications.EventDaemonStart, nil)
	return nil
}

// Stop terminates background processing, sweeps interrupted jobs into the
// failed state, and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.server.stop()
	d.workflow.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}

	swept, err := d.store.FailRunning(context.Background(), jobs.DaemonStopReason)
	if err != nil {
		d.logger.Warn("failed to sweep interrupted jobs", logging.Error(err))
	} else if swept > 0 {
		d.logger.Info("swept interrupted jobs", logging.Int64("count", swept))
	}

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("slidereel daemon stopped")
	d.publish(context.Background(), notifications.EventDaemonStop, nil)
}

// Close stops the daemon and releases the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Jobs exposes the boundary service for API handlers.
func (d *Daemon) Jobs() *api.JobService {
	return d.jobSvc
}

// Store exposes the job store for artifact lookups.
func (d *Daemon) Store() jobs.Store {
	return d.store
}

// Hub exposes the live progress hub feeding the websocket stream.
func (d *Daemon) Hub() *notifications.Hub {
	return d.workflow.Hub()
}

// CancelJobByToken interrupts in-flight work for a job after the store flag
// is set. Returns false when the job is not currently running a stage.
func (d *Daemon) CancelJobByToken(ctx context.Context, token string) bool {
	job, err := d.store.GetByToken(ctx, token)
	if err != nil {
		return false
	}
	return d.workflow.CancelJob(job.ID)
}

// Addr reports the HTTP API's bound address, empty until started.
func (d *Daemon) Addr() string {
	return d.server.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     d.workflow.Status(ctx),
		JobDBPath:    filepath.Join(d.cfg.Paths.DataDir, "jobs.db"),
		LockFilePath: d.lockPath,
	}
}

func (d *Daemon) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.Publish(ctx, event, payload); err != nil {
		d.logger.Warn("notification delivery failed", logging.Error(err))
	}
}
