package workflow

import (
	"math/rand"
	"time"

	"slidereel/internal/config"
	"slidereel/internal/jobs"
)

// retryPolicy bounds per-stage attempts and spaces them with exponential
// backoff plus jitter so a burst of failing jobs does not retry in lockstep.
type retryPolicy struct {
	attempts  map[jobs.Stage]int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newRetryPolicy(cfg *config.Config) retryPolicy {
	base := time.Duration(cfg.Workflow.RetryBaseDelayMS) * time.Millisecond
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	max := time.Duration(cfg.Workflow.RetryMaxDelayMS) * time.Millisecond
	if max < base {
		max = 30 * time.Second
	}
	return retryPolicy{
		attempts: map[jobs.Stage]int{
			// Validation verdicts are deterministic; retrying cannot help.
			jobs.StageValidate:   1,
			jobs.StageExtract:    clampAttempts(cfg.Workflow.ExtractAttempts),
			jobs.StageSynthesize: clampAttempts(cfg.Workflow.SynthesizeAttempts),
			jobs.StageRender:     clampAttempts(cfg.Workflow.RenderAttempts),
		},
		baseDelay: base,
		maxDelay:  max,
	}
}

const maxStageAttempts = 3

func clampAttempts(n int) int {
	if n < 1 {
		return 1
	}
	if n > maxStageAttempts {
		return maxStageAttempts
	}
	return n
}

// maxAttempts returns the attempt ceiling for a stage.
func (p retryPolicy) maxAttempts(stage jobs.Stage) int {
	if n, ok := p.attempts[stage]; ok {
		return n
	}
	return 1
}

// delay returns the wait before the given attempt (1-based): exponential in
// the attempt number with up to 25% random jitter, capped at maxDelay.
func (p retryPolicy) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := p.baseDelay << (attempt - 1)
	if backoff > p.maxDelay || backoff <= 0 {
		backoff = p.maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(backoff)/4 + 1))
	total := backoff + jitter
	if total > p.maxDelay {
		total = p.maxDelay
	}
	return total
}
