package rendering

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"slidereel/internal/assetcache"
	"slidereel/internal/config"
	"slidereel/internal/extraction"
	"slidereel/internal/jobs"
	"slidereel/internal/logging"
	"slidereel/internal/narration"
	"slidereel/internal/scratch"
	"slidereel/internal/services"
	"slidereel/internal/stage"
)

// Output is the render stage's record of the published artifacts.
type Output struct {
	VideoPath       string  `json:"video_path"`
	ThumbnailPath   string  `json:"thumbnail_path,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	SizeBytes       int64   `json:"size_bytes"`
}

// Handler runs video rendering as the final pipeline stage. Per-job inputs
// are decoded from the job record inside each call so one instance serves
// concurrent jobs.
type Handler struct {
	composer    *Composer
	renderer    *Renderer
	scratch     *scratch.Manager
	artifactDir string
	logger      *slog.Logger
}

// NewHandler wires the composer and encoder from configuration.
func NewHandler(cfg *config.Config, scratchMgr *scratch.Manager, cache *assetcache.Cache, logger *slog.Logger, opts ...Option) (*Handler, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	renderer, err := NewRenderer(Settings{
		Binary:       cfg.Rendering.FFmpegBinary,
		Width:        cfg.Rendering.Width,
		Height:       cfg.Rendering.Height,
		FrameRate:    cfg.Rendering.FrameRate,
		Preset:       cfg.Rendering.Preset,
		CRF:          cfg.Rendering.CRF,
		AudioBitrate: cfg.Rendering.AudioBitrate,
	}, opts...)
	if err != nil {
		return nil, err
	}
	return &Handler{
		composer:    NewComposer(cfg.Rendering.Width, cfg.Rendering.Height, cache, logger),
		renderer:    renderer,
		scratch:     scratchMgr,
		artifactDir: cfg.ArtifactDir(),
		logger:      logger,
	}, nil
}

// Prepare checks the deck and narration track line up and the audio exists.
func (h *Handler) Prepare(ctx context.Context, job *jobs.Job) error {
	var deck extraction.Deck
	if err := job.StageData(jobs.StageExtract, &deck); err != nil {
		return services.Wrap(services.ErrValidation, "render", "prepare", "job has no extracted deck", err)
	}
	var track narration.Track
	if err := job.StageData(jobs.StageSynthesize, &track); err != nil {
		return services.Wrap(services.ErrValidation, "render", "prepare", "job has no narration track", err)
	}
	if len(track.Segments) != len(deck.Slides) {
		return services.Wrap(services.ErrValidation, "render", "prepare",
			fmt.Sprintf("%d narration segments for %d slides", len(track.Segments), len(deck.Slides)), nil)
	}
	if _, err := os.Stat(track.Path); err != nil {
		return services.Wrap(services.ErrTransient, "render", "prepare", "narration track missing", err)
	}
	return nil
}

// Execute composes frames, encodes the video, extracts a thumbnail, and
// publishes both artifacts under the artifact directory keyed by job token.
func (h *Handler) Execute(ctx context.Context, job *jobs.Job) error {
	var deck extraction.Deck
	if err := job.StageData(jobs.StageExtract, &deck); err != nil {
		return services.Wrap(services.ErrValidation, "render", "load deck", "", err)
	}
	var track narration.Track
	if err := job.StageData(jobs.StageSynthesize, &track); err != nil {
		return services.Wrap(services.ErrValidation, "render", "load track", "", err)
	}
	ws, err := h.scratch.Acquire(job.ID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "render", "acquire scratch", "", err)
	}

	frames, err := h.composer.ComposeFrames(&deck, ws.FramesDir)
	if err != nil {
		return services.Wrap(services.ErrTransient, "render", "compose frames", "", err)
	}
	stage.ReportProgress(ctx, 10, "Frames composed")

	durations := make([]time.Duration, len(track.Segments))
	for i, segment := range track.Segments {
		durations[i] = segment.Duration()
	}

	videoScratch := filepath.Join(ws.OutputDir, "video.mp4")
	err = h.renderer.Render(ctx, frames, durations, track.Path, videoScratch, func(percent float64) {
		// Encoding is the long pole; map it onto the stage's remaining span.
		stage.ReportProgress(ctx, 10+percent*0.8, "Encoding video")
	})
	if err != nil {
		return err
	}
	stage.ReportProgress(ctx, 90, "Video encoded")

	thumbScratch := filepath.Join(ws.OutputDir, "thumbnail.jpg")
	thumbOK := true
	if err := h.renderer.Thumbnail(ctx, videoScratch, thumbScratch); err != nil {
		// A missing thumbnail does not fail the job.
		thumbOK = false
		logging.WithContext(ctx, h.logger).WarnContext(ctx, "thumbnail extraction failed", logging.Error(err))
	}

	if err := os.MkdirAll(h.artifactDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "render", "publish", "create artifact dir", err)
	}
	videoPath := filepath.Join(h.artifactDir, job.Token+".mp4")
	if err := moveFile(videoScratch, videoPath); err != nil {
		return services.Wrap(services.ErrTransient, "render", "publish", "publish video", err)
	}
	output := Output{
		VideoPath:       videoPath,
		DurationSeconds: track.Duration.Seconds(),
	}
	if info, err := os.Stat(videoPath); err == nil {
		output.SizeBytes = info.Size()
	}
	if thumbOK {
		thumbPath := filepath.Join(h.artifactDir, job.Token+".jpg")
		if err := moveFile(thumbScratch, thumbPath); err == nil {
			output.ThumbnailPath = thumbPath
		}
	}

	if err := job.SetStageData(jobs.StageRender, output); err != nil {
		return services.Wrap(services.ErrValidation, "render", "record output", "", err)
	}
	logging.WithContext(ctx, h.logger).InfoContext(ctx, "render complete",
		logging.String("video", output.VideoPath),
		logging.Int64("bytes", output.SizeBytes),
		logging.Float64("seconds", output.DurationSeconds))
	return nil
}

// HealthCheck reports encoder availability.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	if err := h.renderer.HealthCheck(); err != nil {
		return stage.Unhealthy("renderer", err.Error())
	}
	return stage.Healthy("renderer")
}

// moveFile renames, falling back to copy+remove across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
