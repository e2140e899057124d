package workflow

import (
	"context"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"golang.org/x/sync/errgroup"

	"slidereel/internal/jobs"
	"slidereel/internal/logging"
)

func (m *Manager) runLoop(ctx context.Context) {
	defer m.wg.Done()

	workers := new(errgroup.Group)
	maxWorkers := m.cfg.Workflow.MaxConcurrentJobs
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	workers.SetLimit(maxWorkers)
	defer workers.Wait() //nolint:errcheck

	// Jittered polling keeps multiple daemons on one database from claiming
	// in lockstep.
	ticker := jitterbug.New(m.pollInterval, &jitterbug.Norm{Stdev: m.pollInterval / 10})
	defer ticker.Stop()

	for {
		m.reclaimStale(ctx)
		m.drainPending(ctx, workers)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drainPending claims pending jobs until the queue is empty or every worker
// slot is busy. A claim that cannot get a worker is released back to pending.
func (m *Manager) drainPending(ctx context.Context, workers *errgroup.Group) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := m.store.ClaimNextPending(ctx)
		if err != nil {
			m.setLastError(err)
			m.logger.Error("failed to claim next job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_claim_failed"))
			m.waitOrShutdown(ctx, time.Duration(m.cfg.Workflow.ErrorRetryInterval)*time.Second)
			return
		}
		if job == nil {
			return
		}

		started := workers.TryGo(func() error {
			m.runJob(ctx, job)
			return nil
		})
		if !started {
			m.releaseClaim(ctx, job)
			return
		}
	}
}

// releaseClaim returns an over-claimed job to pending so another worker (or
// daemon) can pick it up.
func (m *Manager) releaseClaim(ctx context.Context, job *jobs.Job) {
	job.Status = jobs.StatusPending
	job.LastHeartbeat = nil
	if err := m.store.Update(ctx, job); err != nil {
		m.logger.Error("failed to release over-claimed job",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.Error(err))
	}
}

func (m *Manager) reclaimStale(ctx context.Context) {
	if err := m.heartbeat.ReclaimStaleJobs(ctx, m.logger); err != nil {
		m.logger.Warn("reclaim stale jobs failed; stuck jobs may remain",
			logging.Error(err),
			logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"))
	}
}

func (m *Manager) waitOrShutdown(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
