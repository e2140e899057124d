package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"slidereel/internal/jobs"
	"slidereel/internal/logging"
	"slidereel/internal/services"
	"slidereel/internal/stage"
)

// Handler runs content extraction as the second pipeline stage. It is
// stateless between calls; the archive is read inside Execute so one
// instance serves concurrent jobs.
type Handler struct {
	extractor *Extractor
	logger    *slog.Logger
}

// NewHandler builds the extraction stage handler.
func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		extractor: NewExtractor(logger),
		logger:    logger,
	}
}

// Prepare confirms validation already ran and the archive is still readable.
func (h *Handler) Prepare(ctx context.Context, job *jobs.Job) error {
	if len(job.SecurityReport) == 0 {
		return services.Wrap(services.ErrValidation, "extract", "prepare", "job skipped validation", nil)
	}
	if _, err := os.Stat(job.SourcePath); err != nil {
		return services.Wrap(services.ErrValidation, "extract", "prepare",
			fmt.Sprintf("stat archive %s", job.SourcePath), err)
	}
	return nil
}

// Execute extracts the deck and records it as stage data for synthesis and
// rendering. Extraction never fails the job: the synthetic fallback covers
// every unreadable deck.
func (h *Handler) Execute(ctx context.Context, job *jobs.Job) error {
	archive, err := os.ReadFile(job.SourcePath)
	if err != nil {
		return services.Wrap(services.ErrValidation, "extract", "read archive",
			fmt.Sprintf("read archive %s", job.SourcePath), err)
	}
	deck := h.extractor.Extract(archive, job.SourceFilename)

	if err := job.SetStageData(jobs.StageExtract, deck); err != nil {
		return services.Wrap(services.ErrValidation, "extract", "record deck", "", err)
	}

	stage.ReportProgress(ctx, 100,
		fmt.Sprintf("Extracted %d slides via %s", len(deck.Slides), deck.Analysis.StrategyUsed))
	logging.WithContext(ctx, h.logger).InfoContext(ctx, "extraction complete",
		logging.Int("slides", len(deck.Slides)),
		logging.String("strategy", deck.Analysis.StrategyUsed),
		logging.Bool("synthetic", deck.Analysis.Synthetic))
	return nil
}

// HealthCheck reports readiness. Extraction has no external dependencies.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy("extractor")
}
