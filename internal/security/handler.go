package security

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"slidereel/internal/config"
	"slidereel/internal/jobs"
	"slidereel/internal/logging"
	"slidereel/internal/services"
	"slidereel/internal/stage"
)

// Handler runs archive validation as the first pipeline stage. It carries
// only configuration; per-job data flows through the job argument so one
// instance can serve concurrent jobs.
type Handler struct {
	limits Limits
	logger *slog.Logger
}

// NewHandler builds the validation stage handler from configuration.
func NewHandler(cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		limits: Limits{
			MaxArchiveBytes:   cfg.MaxUploadBytes(),
			MaxEntryCount:     cfg.Security.MaxEntryCount,
			MaxAggregateRatio: cfg.Security.MaxCompressionRatio,
			MaxEntryRatio:     cfg.Security.MaxEntryRatio,
			MaxSlideCount:     cfg.Security.MaxSlideCount,
		},
		logger: logger,
	}
}

// Prepare confirms the submitted archive is present on disk.
func (h *Handler) Prepare(ctx context.Context, job *jobs.Job) error {
	if job.SourcePath == "" {
		return services.Wrap(services.ErrValidation, "validate", "prepare", "job has no source path", nil)
	}
	if _, err := os.Stat(job.SourcePath); err != nil {
		return services.Wrap(services.ErrValidation, "validate", "prepare",
			fmt.Sprintf("stat archive %s", job.SourcePath), err)
	}
	return nil
}

// Execute validates the archive and records the report on the job. A failed
// report is a fatal security violation; the job never reaches extraction.
func (h *Handler) Execute(ctx context.Context, job *jobs.Job) error {
	archive, err := os.ReadFile(job.SourcePath)
	if err != nil {
		return services.Wrap(services.ErrValidation, "validate", "read archive",
			fmt.Sprintf("read archive %s", job.SourcePath), err)
	}
	report := Validate(archive, job.SourceFilename, h.limits)

	if err := job.SetSecurityReport(report); err != nil {
		return services.Wrap(services.ErrValidation, "validate", "record report", "", err)
	}
	if err := job.SetStageData(jobs.StageValidate, report.Stats); err != nil {
		return services.Wrap(services.ErrValidation, "validate", "record stats", "", err)
	}

	logging.WithContext(ctx, h.logger).InfoContext(ctx, "archive validated",
		logging.Bool("passed", report.Passed),
		logging.Int("entries", report.Stats.EntryCount),
		logging.Int("slides", report.Stats.SlideCount),
		logging.Float64("aggregate_ratio", report.Stats.AggregateRatio))

	if !report.Passed {
		return services.Wrap(services.ErrSecurityViolation, "validate", "inspect archive",
			strings.Join(report.Errors, "; "), nil)
	}
	return nil
}

// HealthCheck reports readiness. Validation is pure and needs only sane limits.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if h.limits.MaxAggregateRatio <= 0 || h.limits.MaxEntryRatio <= 0 {
		return stage.Unhealthy("validator", "compression ratio limits are not configured")
	}
	return stage.Healthy("validator")
}
