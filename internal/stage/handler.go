package stage

import (
	"context"

	"slidereel/internal/jobs"
)

// Handler describes the contract the workflow manager needs from each
// pipeline stage. Prepare loads inputs and fails fast on missing
// prerequisites; Execute performs the work and writes the stage's output
// into the job record. One handler instance serves every job, so handlers
// keep no per-job state: everything flows through the job argument and the
// context.
type Handler interface {
	Prepare(context.Context, *jobs.Job) error
	Execute(context.Context, *jobs.Job) error
	HealthCheck(context.Context) Health
}
