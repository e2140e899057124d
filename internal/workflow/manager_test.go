package workflow

import (
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"slidereel/internal/config"
	"slidereel/internal/extraction"
	"slidereel/internal/jobs"
	"slidereel/internal/narration"
	"slidereel/internal/notifications"
	"slidereel/internal/rendering"
	"slidereel/internal/scratch"
	"slidereel/internal/services"
	"slidereel/internal/stage"
)

type stubHandler struct {
	prepare func(context.Context, *jobs.Job) error
	execute func(context.Context, *jobs.Job) error
}

func (h *stubHandler) Prepare(ctx context.Context, job *jobs.Job) error {
	if h.prepare == nil {
		return nil
	}
	return h.prepare(ctx, job)
}

func (h *stubHandler) Execute(ctx context.Context, job *jobs.Job) error {
	if h.execute == nil {
		return nil
	}
	return h.execute(ctx, job)
}

func (h *stubHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy("stub")
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Workflow.MaxConcurrentJobs = 2
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1
	cfg.Workflow.HeartbeatInterval = 1
	cfg.Workflow.HeartbeatTimeout = 0
	cfg.Workflow.RetryBaseDelayMS = 1
	cfg.Workflow.RetryMaxDelayMS = 10
	return &cfg
}

func newTestManager(t *testing.T, cfg *config.Config) (*Manager, jobs.Store) {
	t.Helper()
	store, err := jobs.OpenPath(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	scratchMgr := scratch.NewManager(cfg, nil)
	manager := NewManager(cfg, store, scratchMgr, nil)
	return manager, store
}

// passingHandlers registers handlers that carry a deck through the whole
// pipeline, with per-stage overrides applied afterwards.
func passingHandlers(manager *Manager, slideCount int) {
	deck := extraction.Deck{Analysis: extraction.Analysis{StrategyUsed: "ooxml"}}
	for i := 0; i < slideCount; i++ {
		deck.Slides = append(deck.Slides, extraction.Slide{Index: i + 1, Title: "Slide"})
	}

	manager.Register(jobs.StageValidate, &stubHandler{})
	manager.Register(jobs.StageExtract, &stubHandler{
		execute: func(_ context.Context, job *jobs.Job) error {
			return job.SetStageData(jobs.StageExtract, deck)
		},
	})
	manager.Register(jobs.StageSynthesize, &stubHandler{
		execute: func(_ context.Context, job *jobs.Job) error {
			return job.SetStageData(jobs.StageSynthesize, narration.Track{
				Path:     "/tmp/narration.wav",
				Duration: 9 * time.Second,
			})
		},
	})
	manager.Register(jobs.StageRender, &stubHandler{
		execute: func(_ context.Context, job *jobs.Job) error {
			return job.SetStageData(jobs.StageRender, rendering.Output{
				VideoPath:       "/tmp/out.mp4",
				DurationSeconds: 9,
				SizeBytes:       1024,
			})
		},
	})
}

func submitJob(t *testing.T, store jobs.Store) *jobs.Job {
	t.Helper()
	job := &jobs.Job{SourceFilename: "deck.pptx"}
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return job
}

func startManager(t *testing.T, manager *Manager) {
	t.Helper()
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(manager.Stop)
}

func waitForTerminal(t *testing.T, store jobs.Store, id int64) *jobs.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if job.IsTerminal() {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func TestJobRunsToCompletion(t *testing.T) {
	manager, store := newTestManager(t, newTestConfig(t))
	passingHandlers(manager, 3)
	job := submitJob(t, store)
	startManager(t, manager)

	got := waitForTerminal(t, store, job.ID)
	if got.Status != jobs.StatusCompleted {
		t.Fatalf("status = %q (error: %q)", got.Status, got.ErrorMessage)
	}
	if got.Progress != 100 {
		t.Fatalf("progress = %v", got.Progress)
	}
	if got.Result == nil || got.Result.SlideCount != 3 {
		t.Fatalf("result = %+v", got.Result)
	}
	for _, stg := range jobs.StageOrder {
		record, ok := got.Stages[stg]
		if !ok || record.Status != jobs.StageStatusCompleted {
			t.Fatalf("stage %s not completed: %+v", stg, record)
		}
		if record.Attempts != 1 {
			t.Fatalf("stage %s attempts = %d", stg, record.Attempts)
		}
	}
}

func TestSecurityFailureIsTerminalWithoutRetry(t *testing.T) {
	manager, store := newTestManager(t, newTestConfig(t))
	passingHandlers(manager, 1)

	var extractRuns atomic.Int32
	manager.Register(jobs.StageValidate, &stubHandler{
		execute: func(context.Context, *jobs.Job) error {
			return services.Wrap(services.ErrSecurityViolation, "validate", "inspect archive",
				"compression ratio exceeds ceiling", nil)
		},
	})
	manager.Register(jobs.StageExtract, &stubHandler{
		execute: func(context.Context, *jobs.Job) error {
			extractRuns.Add(1)
			return nil
		},
	})

	job := submitJob(t, store)
	startManager(t, manager)

	got := waitForTerminal(t, store, job.ID)
	if got.Status != jobs.StatusFailed {
		t.Fatalf("status = %q", got.Status)
	}
	if got.CurrentStage != jobs.StageValidate {
		t.Fatalf("current stage = %q", got.CurrentStage)
	}
	if got.Stages[jobs.StageValidate].Attempts != 1 {
		t.Fatalf("validate attempts = %d", got.Stages[jobs.StageValidate].Attempts)
	}
	if extractRuns.Load() != 0 {
		t.Fatal("extraction ran after a security failure")
	}
	if got.ErrorMessage == "" {
		t.Fatal("failure message not recorded")
	}
}

func TestTransientFailureRetriesUntilSuccess(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Workflow.RenderAttempts = 3
	manager, store := newTestManager(t, cfg)
	passingHandlers(manager, 1)

	var renderRuns atomic.Int32
	manager.Register(jobs.StageRender, &stubHandler{
		execute: func(_ context.Context, job *jobs.Job) error {
			if renderRuns.Add(1) < 3 {
				return services.Wrap(services.ErrExternalTool, "render", "encode",
					"encoder exited with status 1", nil)
			}
			return job.SetStageData(jobs.StageRender, rendering.Output{VideoPath: "/tmp/out.mp4"})
		},
	})

	job := submitJob(t, store)
	startManager(t, manager)

	got := waitForTerminal(t, store, job.ID)
	if got.Status != jobs.StatusCompleted {
		t.Fatalf("status = %q (error: %q)", got.Status, got.ErrorMessage)
	}
	if got.Stages[jobs.StageRender].Attempts != 3 {
		t.Fatalf("render attempts = %d", got.Stages[jobs.StageRender].Attempts)
	}
}

func TestRetryCapFailsJob(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Workflow.ExtractAttempts = 2
	manager, store := newTestManager(t, cfg)
	passingHandlers(manager, 1)

	var extractRuns atomic.Int32
	manager.Register(jobs.StageExtract, &stubHandler{
		execute: func(context.Context, *jobs.Job) error {
			extractRuns.Add(1)
			return services.Wrap(services.ErrTransient, "extract", "read archive",
				"disk hiccup", nil)
		},
	})

	job := submitJob(t, store)
	startManager(t, manager)

	got := waitForTerminal(t, store, job.ID)
	if got.Status != jobs.StatusFailed {
		t.Fatalf("status = %q", got.Status)
	}
	if n := extractRuns.Load(); n != 2 {
		t.Fatalf("extract ran %d times, want 2", n)
	}
	if got.Stages[jobs.StageExtract].Attempts != 2 {
		t.Fatalf("extract attempts = %d", got.Stages[jobs.StageExtract].Attempts)
	}
}

func TestStageProgressIsPersistedMidStage(t *testing.T) {
	manager, store := newTestManager(t, newTestConfig(t))
	passingHandlers(manager, 1)

	release := make(chan struct{})
	manager.Register(jobs.StageExtract, &stubHandler{
		execute: func(ctx context.Context, job *jobs.Job) error {
			stage.ReportProgress(ctx, 42, "Extracting slide text")
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
			return job.SetStageData(jobs.StageExtract, extraction.Deck{
				Analysis: extraction.Analysis{StrategyUsed: "ooxml"},
				Slides:   []extraction.Slide{{Index: 1, Title: "Slide"}},
			})
		},
	})

	updates, cancel := manager.Hub().Subscribe()
	defer cancel()

	job := submitJob(t, store)
	startManager(t, manager)

	// The store must see the reported progress while extract is still running.
	deadline := time.Now().Add(5 * time.Second)
	for {
		fresh, err := store.GetByID(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if record := fresh.Stages[jobs.StageExtract]; record != nil && record.Progress == 42 {
			if fresh.ProgressMessage != "Extracting slide text" {
				t.Fatalf("progress message = %q", fresh.ProgressMessage)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("mid-stage progress never persisted")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The event stream carries the same update before the stage finishes.
	eventDeadline := time.After(2 * time.Second)
	for sawProgress := false; !sawProgress; {
		select {
		case update := <-updates:
			sawProgress = update.Event == notifications.EventJobProgress &&
				update.Message == "Extracting slide text"
		case <-eventDeadline:
			t.Fatal("mid-stage progress event never arrived")
		}
	}

	close(release)
	got := waitForTerminal(t, store, job.ID)
	if got.Status != jobs.StatusCompleted {
		t.Fatalf("status = %q (error: %q)", got.Status, got.ErrorMessage)
	}
}

func TestBreakerSuspendsStageAndRecloses(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Workflow.RenderAttempts = 3
	cfg.Workflow.BreakerThreshold = 2
	cfg.Workflow.BreakerCooldownSeconds = 1
	manager, store := newTestManager(t, cfg)
	passingHandlers(manager, 1)

	var renderRuns atomic.Int32
	var healthy atomic.Bool
	manager.Register(jobs.StageRender, &stubHandler{
		execute: func(_ context.Context, job *jobs.Job) error {
			renderRuns.Add(1)
			if !healthy.Load() {
				return services.Wrap(services.ErrExternalTool, "render", "encode",
					"encoder exited with status 1", nil)
			}
			return job.SetStageData(jobs.StageRender, rendering.Output{VideoPath: "/tmp/out.mp4"})
		},
	})

	first := submitJob(t, store)
	startManager(t, manager)

	got := waitForTerminal(t, store, first.ID)
	if got.Status != jobs.StatusFailed {
		t.Fatalf("status = %q", got.Status)
	}
	// Two real attempts trip the breaker; the third is refused before Execute.
	if n := renderRuns.Load(); n != 2 {
		t.Fatalf("render ran %d times, want 2", n)
	}
	record := got.Stages[jobs.StageRender]
	if record.Attempts != 3 {
		t.Fatalf("render attempts = %d", record.Attempts)
	}
	if !strings.Contains(record.Error, "suspended") {
		t.Fatalf("render error = %q", record.Error)
	}
	if state := manager.Status(context.Background()).Breakers[jobs.StageRender]; state == "closed" {
		t.Fatalf("breaker state = %q after trip", state)
	}

	// After the cooldown a healthy run closes the breaker again.
	healthy.Store(true)
	time.Sleep(1100 * time.Millisecond)

	second := submitJob(t, store)
	got = waitForTerminal(t, store, second.ID)
	if got.Status != jobs.StatusCompleted {
		t.Fatalf("status = %q (error: %q)", got.Status, got.ErrorMessage)
	}
	if state := manager.Status(context.Background()).Breakers[jobs.StageRender]; state != "closed" {
		t.Fatalf("breaker state = %q after recovery", state)
	}
}

func TestCancelInterruptsRunningStage(t *testing.T) {
	manager, store := newTestManager(t, newTestConfig(t))
	passingHandlers(manager, 1)

	extractStarted := make(chan struct{})
	manager.Register(jobs.StageExtract, &stubHandler{
		execute: func(ctx context.Context, _ *jobs.Job) error {
			close(extractStarted)
			<-ctx.Done()
			return ctx.Err()
		},
	})

	job := submitJob(t, store)
	startManager(t, manager)

	<-extractStarted
	if _, err := store.RequestCancel(context.Background(), job.Token); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	if !manager.CancelJob(job.ID) {
		t.Fatal("job was not in flight")
	}

	got := waitForTerminal(t, store, job.ID)
	if got.Status != jobs.StatusCancelled {
		t.Fatalf("status = %q", got.Status)
	}
}

func TestCancelBetweenStages(t *testing.T) {
	manager, store := newTestManager(t, newTestConfig(t))
	passingHandlers(manager, 1)

	// The validate handler flags the job for cancellation in the store; the
	// manager must notice before starting extraction.
	var extractRuns atomic.Int32
	job := submitJob(t, store)
	manager.Register(jobs.StageValidate, &stubHandler{
		execute: func(ctx context.Context, _ *jobs.Job) error {
			fresh, err := store.GetByID(ctx, job.ID)
			if err != nil {
				return err
			}
			fresh.CancelRequested = true
			return store.Update(ctx, fresh)
		},
	})
	manager.Register(jobs.StageExtract, &stubHandler{
		execute: func(context.Context, *jobs.Job) error {
			extractRuns.Add(1)
			return nil
		},
	})

	startManager(t, manager)

	got := waitForTerminal(t, store, job.ID)
	if got.Status != jobs.StatusCancelled {
		t.Fatalf("status = %q", got.Status)
	}
	if extractRuns.Load() != 0 {
		t.Fatal("extraction ran after cancellation was requested")
	}
}

func TestStageTimeoutClassifiedAsTimeout(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Workflow.ExtractionTimeout = 1
	cfg.Workflow.ExtractAttempts = 1
	manager, store := newTestManager(t, cfg)
	passingHandlers(manager, 1)

	manager.Register(jobs.StageExtract, &stubHandler{
		execute: func(ctx context.Context, _ *jobs.Job) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})

	job := submitJob(t, store)
	startManager(t, manager)

	got := waitForTerminal(t, store, job.ID)
	if got.Status != jobs.StatusFailed {
		t.Fatalf("status = %q", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatal("timeout message not recorded")
	}
}

func TestHubReceivesLifecycleEvents(t *testing.T) {
	manager, store := newTestManager(t, newTestConfig(t))
	passingHandlers(manager, 1)

	updates, cancel := manager.Hub().Subscribe()
	defer cancel()

	job := submitJob(t, store)
	startManager(t, manager)
	waitForTerminal(t, store, job.ID)

	seen := make(map[notifications.Event]bool)
	deadline := time.After(2 * time.Second)
	for !seen[notifications.EventJobCompleted] {
		select {
		case update := <-updates:
			if update.JobToken != job.Token {
				t.Fatalf("unexpected token %q", update.JobToken)
			}
			seen[update.Event] = true
		case <-deadline:
			t.Fatalf("completion event never arrived; saw %v", seen)
		}
	}
	if !seen[notifications.EventJobStarted] || !seen[notifications.EventJobProgress] {
		t.Fatalf("missing lifecycle events: %v", seen)
	}
}

func TestStartRequiresAllHandlers(t *testing.T) {
	manager, _ := newTestManager(t, newTestConfig(t))
	manager.Register(jobs.StageValidate, &stubHandler{})

	if err := manager.Start(context.Background()); err == nil {
		manager.Stop()
		t.Fatal("Start accepted a partial handler set")
	}
}

func TestStatusSnapshot(t *testing.T) {
	manager, store := newTestManager(t, newTestConfig(t))
	passingHandlers(manager, 1)
	submitJob(t, store)
	startManager(t, manager)

	summary := manager.Status(context.Background())
	if !summary.Running {
		t.Fatal("summary reports not running")
	}
	if len(summary.StageHealth) != len(jobs.StageOrder) {
		t.Fatalf("stage health entries = %d", len(summary.StageHealth))
	}
	for stg, health := range summary.StageHealth {
		if !health.Ready {
			t.Fatalf("stage %s reported unhealthy: %s", stg, health.Detail)
		}
	}
	if summary.Queue.Total == 0 {
		t.Fatal("queue counts not populated")
	}
	for _, stg := range jobs.StageOrder {
		if state := summary.Breakers[stg]; state != "closed" {
			t.Fatalf("breaker %s = %q, want closed", stg, state)
		}
	}
}

func TestHeartbeatReclaimRestoresAbandonedJob(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Workflow.HeartbeatTimeout = 1
	manager, store := newTestManager(t, cfg)
	passingHandlers(manager, 1)

	// Simulate a job claimed by a worker that died: processing status with a
	// stale heartbeat.
	job := submitJob(t, store)
	claimed, err := store.ClaimNextPending(context.Background())
	if err != nil || claimed == nil || claimed.ID != job.ID {
		t.Fatalf("ClaimNextPending: %v %v", claimed, err)
	}
	stale := time.Now().UTC().Add(-time.Hour)
	claimed.LastHeartbeat = &stale
	if err := store.Update(context.Background(), claimed); err != nil {
		t.Fatalf("Update: %v", err)
	}

	startManager(t, manager)

	got := waitForTerminal(t, store, job.ID)
	if got.Status != jobs.StatusCompleted {
		t.Fatalf("status = %q (error: %q)", got.Status, got.ErrorMessage)
	}
}
