package rendering

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"slidereel/internal/config"
	"slidereel/internal/extraction"
	"slidereel/internal/jobs"
	"slidereel/internal/narration"
	"slidereel/internal/scratch"
	"slidereel/internal/services"
)

func newRenderJob(t *testing.T, cfg *config.Config) *jobs.Job {
	t.Helper()
	job := &jobs.Job{ID: 1, Token: "tok-render-test", SourceFilename: "deck.pptx"}

	deck := &extraction.Deck{
		Slides: []extraction.Slide{
			{Index: 1, Title: "One", Notes: "First slide narration."},
			{Index: 2, Title: "Two", Notes: "Second slide narration."},
		},
	}
	if err := job.SetStageData(jobs.StageExtract, deck); err != nil {
		t.Fatal(err)
	}

	audioPath := filepath.Join(cfg.ScratchRoot(), "narration.wav")
	if err := os.MkdirAll(filepath.Dir(audioPath), 0o755); err != nil {
		t.Fatal(err)
	}
	file, err := os.Create(audioPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := narration.EncodeWAV(file, narration.Silence(8*time.Second)); err != nil {
		t.Fatal(err)
	}
	file.Close()

	track := &narration.Track{
		Path:     audioPath,
		Duration: 8 * time.Second,
		Segments: []narration.Segment{
			{SlideIndex: 1, Start: 0, End: 3 * time.Second, Provider: "silence", Synthetic: true},
			{SlideIndex: 2, Start: 3 * time.Second, End: 8 * time.Second, Provider: "http"},
		},
	}
	if err := job.SetStageData(jobs.StageSynthesize, track); err != nil {
		t.Fatal(err)
	}
	job.BeginStage(jobs.StageRender)
	return job
}

func newRenderHandler(t *testing.T, exec Executor) (*Handler, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Workflow.MinFreeSpaceMiB = 0

	cache := newTestCache(t, false)
	handler, err := NewHandler(&cfg, scratch.NewManager(&cfg, nil), cache, nil, WithExecutor(exec))
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return handler, &cfg
}

func TestHandlerPublishesArtifacts(t *testing.T) {
	exec := &fakeExecutor{written: []byte("encoded-video")}
	handler, cfg := newRenderHandler(t, exec)
	job := newRenderJob(t, cfg)
	ctx := context.Background()

	if err := handler.Prepare(ctx, job); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := handler.Execute(ctx, job); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var output Output
	if err := job.StageData(jobs.StageRender, &output); err != nil {
		t.Fatalf("stage data: %v", err)
	}
	if output.VideoPath != filepath.Join(cfg.ArtifactDir(), job.Token+".mp4") {
		t.Fatalf("video path = %q", output.VideoPath)
	}
	if _, err := os.Stat(output.VideoPath); err != nil {
		t.Fatalf("published video missing: %v", err)
	}
	if output.DurationSeconds != 8 {
		t.Fatalf("duration = %f, want 8", output.DurationSeconds)
	}
	if output.SizeBytes == 0 {
		t.Fatal("size not recorded")
	}
	if output.ThumbnailPath == "" {
		t.Fatal("thumbnail not published")
	}
	// Render then thumbnail.
	if exec.calls != 2 {
		t.Fatalf("encoder calls = %d, want 2", exec.calls)
	}
}

func TestHandlerSurvivesThumbnailFailure(t *testing.T) {
	exec := &sequencedExecutor{results: []error{nil, errors.New("no jpeg encoder")}}
	handler, cfg := newRenderHandler(t, exec)
	job := newRenderJob(t, cfg)
	ctx := context.Background()

	if err := handler.Prepare(ctx, job); err != nil {
		t.Fatal(err)
	}
	if err := handler.Execute(ctx, job); err != nil {
		t.Fatalf("thumbnail failure must not fail the stage: %v", err)
	}
	var output Output
	if err := job.StageData(jobs.StageRender, &output); err != nil {
		t.Fatal(err)
	}
	if output.ThumbnailPath != "" {
		t.Fatal("failed thumbnail should not be recorded")
	}
	if output.VideoPath == "" {
		t.Fatal("video should still publish")
	}
}

func TestHandlerPrepareRequiresUpstreamStageData(t *testing.T) {
	handler, _ := newRenderHandler(t, &fakeExecutor{})

	job := &jobs.Job{ID: 2, Token: "tok-missing"}
	if err := handler.Prepare(context.Background(), job); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHandlerPrepareRejectsSegmentMismatch(t *testing.T) {
	handler, cfg := newRenderHandler(t, &fakeExecutor{})
	job := newRenderJob(t, cfg)

	var track narration.Track
	if err := job.StageData(jobs.StageSynthesize, &track); err != nil {
		t.Fatal(err)
	}
	track.Segments = track.Segments[:1]
	if err := job.SetStageData(jobs.StageSynthesize, &track); err != nil {
		t.Fatal(err)
	}
	if err := handler.Prepare(context.Background(), job); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// sequencedExecutor returns canned results per call, writing output on success.
type sequencedExecutor struct {
	results []error
	calls   int
}

func (s *sequencedExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	idx := s.calls
	s.calls++
	if idx < len(s.results) && s.results[idx] != nil {
		return s.results[idx]
	}
	return os.WriteFile(args[len(args)-1], []byte("out"), 0o644)
}
