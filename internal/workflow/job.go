package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"slidereel/internal/extraction"
	"slidereel/internal/jobs"
	"slidereel/internal/logging"
	"slidereel/internal/narration"
	"slidereel/internal/notifications"
	"slidereel/internal/rendering"
	"slidereel/internal/services"
	"slidereel/internal/stage"
)

// runJob owns one claimed job through every stage to a terminal state.
func (m *Manager) runJob(ctx context.Context, job *jobs.Job) {
	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()
	m.trackJob(job.ID, cancelJob)
	defer m.untrackJob(job.ID)

	logger := m.logger.With(
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobToken, job.Token))
	jobCtx = services.WithJobID(jobCtx, job.ID)

	logger.Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("source_file", strings.TrimSpace(job.SourceFilename)))
	m.notify(ctx, notifications.EventJobStarted, job, nil)
	m.publishUpdate(notifications.EventJobStarted, job)

	for _, stg := range jobs.StageOrder {
		cancelled, err := m.cancelRequested(jobCtx, job)
		if err != nil {
			logger.Warn("failed to refresh cancel flag", logging.Error(err))
		}
		if cancelled {
			m.finishCancelled(ctx, logger, job)
			return
		}

		if err := m.runStage(jobCtx, logger, job, stg); err != nil {
			switch {
			case ctx.Err() != nil:
				// Daemon shutdown: leave the job in its running status for
				// the store-level sweep.
				logger.Debug("job interrupted by shutdown", logging.String(logging.FieldStage, string(stg)))
			case jobCtx.Err() != nil:
				m.finishCancelled(ctx, logger, job)
			default:
				m.failJob(ctx, logger, job, stg, err)
			}
			return
		}
	}

	m.completeJob(ctx, logger, job)
}

// runStage executes one stage with retries. Each attempt gets a fresh
// timeout; fatal classifications and cancellation short-circuit the loop.
func (m *Manager) runStage(ctx context.Context, logger *slog.Logger, job *jobs.Job, stg jobs.Stage) error {
	handler := m.handlers[stg]
	maxAttempts := m.retry.maxAttempts(stg)
	stageLogger := logger.With(logging.String(logging.FieldStage, string(stg)))

	for {
		record := job.BeginStage(stg)
		if err := m.store.Update(ctx, job); err != nil {
			return fmt.Errorf("persist stage start: %w", err)
		}
		m.publishUpdate(notifications.EventJobProgress, job)
		stageLogger.Info("stage started",
			logging.String(logging.FieldEventType, "stage_start"),
			logging.Int(logging.FieldAttempt, record.Attempts))

		stageStart := time.Now()
		err := m.executeAttempt(ctx, stageLogger, handler, job, stg)
		if err == nil {
			job.CompleteStage(stg)
			if err := m.store.Update(ctx, job); err != nil {
				return fmt.Errorf("persist stage result: %w", err)
			}
			m.publishUpdate(notifications.EventJobProgress, job)
			stageLogger.Info("stage completed",
				logging.String(logging.FieldEventType, "stage_complete"),
				logging.Duration("stage_duration", time.Since(stageStart)))
			return nil
		}

		if ctx.Err() != nil {
			return err
		}

		details := services.Details(err)
		job.FailStage(stg, details.Message)
		if persistErr := m.store.Update(context.WithoutCancel(ctx), job); persistErr != nil {
			stageLogger.Error("failed to persist stage failure", logging.Error(persistErr))
		}
		stageLogger.Error("stage attempt failed",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.String(logging.FieldErrorKind, string(details.Kind)),
			logging.Int(logging.FieldAttempt, record.Attempts),
			logging.Error(err))

		if services.Fatal(err) || record.Attempts >= maxAttempts {
			return err
		}

		delay := m.retry.delay(record.Attempts)
		stageLogger.Info("retrying stage",
			logging.Duration("delay", delay),
			logging.Int("attempts_left", maxAttempts-record.Attempts))
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
	}
}

// progressFlushInterval throttles mid-stage persistence of progress updates.
const progressFlushInterval = 500 * time.Millisecond

// executeAttempt runs Prepare and Execute under the stage's timeout, with
// the execute call guarded by the stage's circuit breaker and kept alive by
// the heartbeat loop. A progress reporter on the context lets the handler
// push intra-stage progress; updates are persisted and published on a
// throttle so status and the event stream track long encodes.
func (m *Manager) executeAttempt(ctx context.Context, stageLogger *slog.Logger, handler stage.Handler, job *jobs.Job, stg jobs.Stage) error {
	attemptCtx := ctx
	if timeout := m.stageTimeout(stg); timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	attemptCtx = services.WithStage(attemptCtx, string(stg))

	// The reporter runs on the Execute goroutine, so the flush clock needs no
	// locking.
	var lastFlush time.Time
	attemptCtx = stage.WithProgress(attemptCtx, func(percent float64, message string) {
		job.SetStageProgress(stg, percent, message)
		if time.Since(lastFlush) < progressFlushInterval {
			return
		}
		lastFlush = time.Now()
		if err := m.store.Update(attemptCtx, job); err != nil {
			stageLogger.Debug("failed to persist stage progress", logging.Error(err))
			return
		}
		m.publishUpdate(notifications.EventJobProgress, job)
	})

	if err := handler.Prepare(attemptCtx, job); err != nil {
		return m.mapAttemptError(attemptCtx, ctx, stg, err)
	}
	if err := m.store.Update(ctx, job); err != nil {
		return fmt.Errorf("persist stage preparation: %w", err)
	}

	breaker := m.breakers[stg]
	_, err := breaker.Execute(func() (any, error) {
		return nil, m.executeWithHeartbeat(attemptCtx, handler, job)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return services.Wrap(services.ErrTransient, string(stg), "circuit breaker",
			"stage suspended after repeated failures", err)
	}
	return m.mapAttemptError(attemptCtx, ctx, stg, err)
}

func (m *Manager) executeWithHeartbeat(ctx context.Context, handler stage.Handler, job *jobs.Job) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, job.ID)

	execErr := handler.Execute(ctx, job)
	hbCancel()
	hbWG.Wait()
	return execErr
}

// mapAttemptError converts a per-attempt deadline into a timeout
// classification while leaving job-level cancellation untouched.
func (m *Manager) mapAttemptError(attemptCtx, jobCtx context.Context, stg jobs.Stage, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && jobCtx.Err() == nil {
		return services.Wrap(services.ErrTimeout, string(stg), "execute",
			fmt.Sprintf("stage exceeded its %s ceiling", m.stageTimeout(stg)), err)
	}
	return err
}

func (m *Manager) stageTimeout(stg jobs.Stage) time.Duration {
	seconds := 0
	switch stg {
	case jobs.StageValidate:
		seconds = m.cfg.Workflow.ValidationTimeout
	case jobs.StageExtract:
		seconds = m.cfg.Workflow.ExtractionTimeout
	case jobs.StageSynthesize:
		seconds = m.cfg.Workflow.SynthesisTimeout
	case jobs.StageRender:
		seconds = m.cfg.Workflow.RenderTimeout
	}
	return time.Duration(seconds) * time.Second
}

// cancelRequested refreshes the job's cancel flag from the store between
// stages.
func (m *Manager) cancelRequested(ctx context.Context, job *jobs.Job) (bool, error) {
	fresh, err := m.store.GetByID(ctx, job.ID)
	if err != nil {
		return false, err
	}
	job.CancelRequested = fresh.CancelRequested
	return fresh.CancelRequested || fresh.Status == jobs.StatusCancelled, nil
}

func (m *Manager) finishCancelled(ctx context.Context, logger *slog.Logger, job *jobs.Job) {
	persistCtx := context.WithoutCancel(ctx)
	job.SetCancelled()
	if err := m.store.Update(persistCtx, job); err != nil {
		logger.Error("failed to persist cancellation", logging.Error(err))
	}
	m.cleanupJob(job)
	logger.Info("job cancelled", logging.String(logging.FieldEventType, "job_cancelled"))
	m.notify(persistCtx, notifications.EventJobCancelled, job, nil)
	m.publishUpdate(notifications.EventJobCancelled, job)
}

func (m *Manager) failJob(ctx context.Context, logger *slog.Logger, job *jobs.Job, stg jobs.Stage, stageErr error) {
	persistCtx := context.WithoutCancel(ctx)
	details := services.Details(stageErr)
	message := strings.TrimSpace(details.Message)
	if message == "" {
		message = fmt.Sprintf("%s failed", stg)
	}

	job.SetFailed(stg, message)
	if err := m.store.Update(persistCtx, job); err != nil {
		logger.Error("failed to persist job failure", logging.Error(err))
	}
	m.cleanupJob(job)
	m.setLastError(stageErr)

	logger.Error("job failed",
		logging.String(logging.FieldEventType, "job_failed"),
		logging.String(logging.FieldStage, string(stg)),
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.Error(stageErr))
	m.notify(persistCtx, notifications.EventJobFailed, job, notifications.Payload{"reason": message})
	m.publishUpdate(notifications.EventJobFailed, job)
}

// completeJob assembles the result descriptor from the stage outputs.
func (m *Manager) completeJob(ctx context.Context, logger *slog.Logger, job *jobs.Job) {
	persistCtx := context.WithoutCancel(ctx)

	var deck extraction.Deck
	var track narration.Track
	var output rendering.Output
	for _, part := range []struct {
		stage jobs.Stage
		dst   any
	}{
		{jobs.StageExtract, &deck},
		{jobs.StageSynthesize, &track},
		{jobs.StageRender, &output},
	} {
		if err := job.StageData(part.stage, part.dst); err != nil {
			m.failJob(ctx, logger, job, part.stage,
				services.Wrap(services.ErrValidation, string(part.stage), "complete", "stage output missing", err))
			return
		}
	}

	job.SetCompleted(&jobs.Result{
		VideoPath:          output.VideoPath,
		ThumbnailPath:      output.ThumbnailPath,
		DurationSeconds:    output.DurationSeconds,
		SizeBytes:          output.SizeBytes,
		SlideCount:         len(deck.Slides),
		SyntheticSlides:    deck.Analysis.Synthetic,
		SyntheticNarration: track.SyntheticCount,
	})
	if err := m.store.Update(persistCtx, job); err != nil {
		logger.Error("failed to persist completion", logging.Error(err))
	}
	m.cleanupJob(job)

	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.Int("slides", job.Result.SlideCount),
		logging.Float64("seconds", job.Result.DurationSeconds))
	m.notify(persistCtx, notifications.EventJobCompleted, job, notifications.Payload{
		"duration": (time.Duration(job.Result.DurationSeconds * float64(time.Second))).Round(time.Second).String(),
	})
	m.publishUpdate(notifications.EventJobCompleted, job)
}

// cleanupJob reclaims a terminal job's scratch space and uploaded source.
// Published artifacts are left in place.
func (m *Manager) cleanupJob(job *jobs.Job) {
	if m.scratch != nil {
		if err := m.scratch.ReleaseJob(job.ID); err != nil {
			m.logger.Warn("scratch cleanup failed",
				logging.Int64(logging.FieldJobID, job.ID), logging.Error(err))
		}
	}
	if job.SourcePath != "" {
		if err := os.Remove(job.SourcePath); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("upload cleanup failed",
				logging.String("path", job.SourcePath), logging.Error(err))
		}
	}
}

func (m *Manager) notify(ctx context.Context, event notifications.Event, job *jobs.Job, payload notifications.Payload) {
	if m.notifier == nil {
		return
	}
	if payload == nil {
		payload = notifications.Payload{}
	}
	payload["filename"] = job.SourceFilename
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		m.logger.Warn("notification delivery failed",
			logging.String(logging.FieldEventType, string(event)),
			logging.Error(err))
	}
}

func (m *Manager) publishUpdate(event notifications.Event, job *jobs.Job) {
	if m.hub == nil {
		return
	}
	m.hub.Publish(notifications.Update{
		Event:    event,
		JobToken: job.Token,
		Status:   string(job.Status),
		Stage:    string(job.CurrentStage),
		Progress: job.Progress,
		Message:  job.ProgressMessage,
	})
}
