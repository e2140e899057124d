package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"slidereel/internal/config"
	"slidereel/internal/jobs"
	"slidereel/internal/logging"
	"slidereel/internal/notifications"
	"slidereel/internal/scratch"
	"slidereel/internal/stage"
)

// Manager drives claimed jobs through the pipeline stages. One goroutine
// polls for pending jobs; up to MaxConcurrentJobs workers each own a job for
// its full validate-to-render run.
type Manager struct {
	cfg      *config.Config
	store    jobs.Store
	logger   *slog.Logger
	notifier notifications.Service
	hub      *notifications.Hub
	scratch  *scratch.Manager

	handlers map[jobs.Stage]stage.Handler
	breakers map[jobs.Stage]*gobreaker.CircuitBreaker
	retry    retryPolicy

	heartbeat    *HeartbeatMonitor
	pollInterval time.Duration

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	inFlight map[int64]context.CancelFunc
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithNotifier overrides the push-notification service (used in tests).
func WithNotifier(notifier notifications.Service) Option {
	return func(m *Manager) {
		if notifier != nil {
			m.notifier = notifier
		}
	}
}

// WithHub attaches the live progress hub.
func WithHub(hub *notifications.Hub) Option {
	return func(m *Manager) {
		if hub != nil {
			m.hub = hub
		}
	}
}

// NewManager constructs a workflow manager. Stage handlers are registered
// separately before Start.
func NewManager(cfg *config.Config, store jobs.Store, scratchMgr *scratch.Manager, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	manager := &Manager{
		cfg:          cfg,
		store:        store,
		logger:       logging.NewComponentLogger(logger, "workflow-manager"),
		notifier:     notifications.NewService(cfg),
		hub:          notifications.NewHub(),
		scratch:      scratchMgr,
		handlers:     make(map[jobs.Stage]stage.Handler),
		breakers:     make(map[jobs.Stage]*gobreaker.CircuitBreaker),
		retry:        newRetryPolicy(cfg),
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		inFlight: make(map[int64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(manager)
	}
	for _, stg := range jobs.StageOrder {
		manager.breakers[stg] = newStageBreaker(cfg, stg)
	}
	return manager
}

// Register installs the handler for a pipeline stage.
func (m *Manager) Register(stg jobs.Stage, handler stage.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[stg] = handler
}

// Hub exposes the live progress hub for the websocket stream.
func (m *Manager) Hub() *notifications.Hub {
	return m.hub
}

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	for _, stg := range jobs.StageOrder {
		if m.handlers[stg] == nil {
			return fmt.Errorf("stage %s has no handler", stg)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	m.wg.Add(1)
	go m.runLoop(runCtx)
	return nil
}

// Stop terminates background processing and waits for in-flight jobs to
// yield. Jobs interrupted mid-stage stay in their running status for the
// store-level shutdown sweep.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// CancelJob cancels the in-flight work for a job, if any. The store-level
// cancel flag handles jobs between stages; this interrupts the current one.
func (m *Manager) CancelJob(jobID int64) bool {
	m.mu.RLock()
	cancel, ok := m.inFlight[jobID]
	m.mu.RUnlock()
	if ok {
		cancel()
	}
	return ok
}

func (m *Manager) trackJob(jobID int64, cancel context.CancelFunc) {
	m.mu.Lock()
	m.inFlight[jobID] = cancel
	m.mu.Unlock()
}

func (m *Manager) untrackJob(jobID int64) {
	m.mu.Lock()
	delete(m.inFlight, jobID)
	m.mu.Unlock()
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func newStageBreaker(cfg *config.Config, stg jobs.Stage) *gobreaker.CircuitBreaker {
	threshold := uint32(cfg.Workflow.BreakerThreshold)
	if threshold == 0 {
		threshold = 5
	}
	cooldown := time.Duration(cfg.Workflow.BreakerCooldownSeconds) * time.Second
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(stg),
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})
}
