package workflow

import (
	"testing"
	"time"

	"slidereel/internal/config"
	"slidereel/internal/jobs"
)

func TestRetryPolicyAttemptCaps(t *testing.T) {
	cfg := config.Default()
	cfg.Workflow.ExtractAttempts = 10
	cfg.Workflow.SynthesizeAttempts = 0
	cfg.Workflow.RenderAttempts = 2
	policy := newRetryPolicy(&cfg)

	cases := []struct {
		stage jobs.Stage
		want  int
	}{
		{jobs.StageValidate, 1},
		{jobs.StageExtract, maxStageAttempts},
		{jobs.StageSynthesize, 1},
		{jobs.StageRender, 2},
	}
	for _, tc := range cases {
		if got := policy.maxAttempts(tc.stage); got != tc.want {
			t.Errorf("maxAttempts(%s) = %d, want %d", tc.stage, got, tc.want)
		}
	}
}

func TestRetryDelayBoundsAndGrowth(t *testing.T) {
	cfg := config.Default()
	cfg.Workflow.RetryBaseDelayMS = 100
	cfg.Workflow.RetryMaxDelayMS = 1000
	policy := newRetryPolicy(&cfg)

	// Jitter adds at most 25% of the backoff; run each attempt a few times to
	// exercise the random component.
	cases := []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 100 * time.Millisecond, 125 * time.Millisecond},
		{2, 200 * time.Millisecond, 250 * time.Millisecond},
		{3, 400 * time.Millisecond, 500 * time.Millisecond},
		{5, 1000 * time.Millisecond, 1000 * time.Millisecond},
	}
	for _, tc := range cases {
		for i := 0; i < 20; i++ {
			d := policy.delay(tc.attempt)
			if d < tc.min || d > tc.max {
				t.Fatalf("delay(%d) = %s, want within [%s, %s]", tc.attempt, d, tc.min, tc.max)
			}
		}
	}
}

func TestRetryDelayDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Workflow.RetryBaseDelayMS = 0
	cfg.Workflow.RetryMaxDelayMS = 0
	policy := newRetryPolicy(&cfg)

	if policy.baseDelay != 500*time.Millisecond {
		t.Fatalf("baseDelay = %s", policy.baseDelay)
	}
	if policy.maxDelay != 30*time.Second {
		t.Fatalf("maxDelay = %s", policy.maxDelay)
	}
	if d := policy.delay(0); d < policy.baseDelay {
		t.Fatalf("delay(0) = %s fell below base", d)
	}
}
