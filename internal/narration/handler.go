package narration

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"slidereel/internal/config"
	"slidereel/internal/extraction"
	"slidereel/internal/jobs"
	"slidereel/internal/logging"
	"slidereel/internal/scratch"
	"slidereel/internal/services"
	"slidereel/internal/stage"
)

// Handler runs narration synthesis as the third pipeline stage. Per-job
// inputs are decoded from the job record inside each call so one instance
// serves concurrent jobs.
type Handler struct {
	synthesizer *Synthesizer
	scratch     *scratch.Manager
	command     *CommandProvider
	logger      *slog.Logger
}

// NewHandler wires the provider chain from configuration: the local TTS
// binary first when configured, then the remote endpoint, then silence.
func NewHandler(cfg *config.Config, scratchMgr *scratch.Manager, logger *slog.Logger) (*Handler, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	var providers []Provider
	var command *CommandProvider
	if cfg.Narration.TTSBinary != "" {
		provider, err := NewCommandProvider(cfg.Narration.TTSBinary, cfg.Narration.TTSVoice, cfg.Narration.TTSTimeout)
		if err != nil {
			return nil, fmt.Errorf("command tts provider: %w", err)
		}
		command = provider
		providers = append(providers, provider)
	}
	if cfg.Narration.TTSURL != "" {
		provider, err := NewHTTPProvider(cfg.Narration.TTSURL, cfg.Narration.TTSAPIKey, cfg.Narration.TTSVoice, cfg.Narration.TTSTimeout)
		if err != nil {
			return nil, fmt.Errorf("http tts provider: %w", err)
		}
		providers = append(providers, provider)
	}

	return &Handler{
		synthesizer: NewSynthesizer(providers, logger),
		scratch:     scratchMgr,
		command:     command,
		logger:      logger,
	}, nil
}

// Prepare checks the extracted deck is present and usable.
func (h *Handler) Prepare(ctx context.Context, job *jobs.Job) error {
	var deck extraction.Deck
	if err := job.StageData(jobs.StageExtract, &deck); err != nil {
		return services.Wrap(services.ErrValidation, "synthesize", "prepare", "job has no extracted deck", err)
	}
	if len(deck.Slides) == 0 {
		return services.Wrap(services.ErrValidation, "synthesize", "prepare", "extracted deck is empty", nil)
	}
	return nil
}

// Execute narrates the deck and records the track as stage data.
func (h *Handler) Execute(ctx context.Context, job *jobs.Job) error {
	var deck extraction.Deck
	if err := job.StageData(jobs.StageExtract, &deck); err != nil {
		return services.Wrap(services.ErrValidation, "synthesize", "load deck", "", err)
	}
	ws, err := h.scratch.Acquire(job.ID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "synthesize", "acquire scratch", "", err)
	}
	outPath := filepath.Join(ws.AudioDir, "narration.wav")

	track, err := h.synthesizer.Synthesize(ctx, &deck, outPath, func(done, total int) {
		percent := float64(done) / float64(total) * 100
		stage.ReportProgress(ctx, percent,
			fmt.Sprintf("Narrated slide %d of %d", done, total))
	})
	if err != nil {
		if ctx.Err() != nil {
			return services.Wrap(services.ErrTimeout, "synthesize", "narrate deck", "", err)
		}
		return services.Wrap(services.ErrTransient, "synthesize", "narrate deck", "", err)
	}

	if err := job.SetStageData(jobs.StageSynthesize, track); err != nil {
		return services.Wrap(services.ErrValidation, "synthesize", "record track", "", err)
	}
	logging.WithContext(ctx, h.logger).InfoContext(ctx, "synthesis complete",
		logging.Int("segments", len(track.Segments)),
		logging.Int("synthetic", track.SyntheticCount),
		logging.Duration("duration", track.Duration))
	return nil
}

// HealthCheck degrades rather than fails: with silence as the terminal
// provider the stage is always ready, but a missing TTS binary is surfaced.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if h.command != nil {
		if err := h.command.HealthCheck(); err != nil {
			return stage.Health{Name: "synthesizer", Ready: true, Detail: err.Error()}
		}
	}
	return stage.Healthy("synthesizer")
}
