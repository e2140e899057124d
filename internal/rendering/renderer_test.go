package rendering

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"slidereel/internal/services"
)

type fakeExecutor struct {
	err      error
	lastArgs []string
	emit     []string
	written  []byte
	calls    int
}

func (f *fakeExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	f.calls++
	f.lastArgs = args
	if f.err != nil {
		return f.err
	}
	if onStdout != nil {
		for _, line := range f.emit {
			onStdout(line)
		}
	}
	out := args[len(args)-1]
	return os.WriteFile(out, f.written, 0o644)
}

func hasArgPair(args []string, flag, value string) bool {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) && args[i+1] == value {
			return true
		}
	}
	return false
}

func testSettings() Settings {
	return Settings{
		Binary:       "ffmpeg",
		Width:        1280,
		Height:       720,
		FrameRate:    30,
		Preset:       "medium",
		CRF:          23,
		AudioBitrate: "128k",
	}
}

func TestRenderBuildsEncoderInvocation(t *testing.T) {
	exec := &fakeExecutor{written: []byte("mp4-bytes")}
	renderer, err := NewRenderer(testSettings(), WithExecutor(exec))
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	frames := []string{filepath.Join(dir, "slide0001.png"), filepath.Join(dir, "slide0002.png")}
	durations := []time.Duration{4 * time.Second, 6 * time.Second}
	outPath := filepath.Join(dir, "video.mp4")

	if err := renderer.Render(context.Background(), frames, durations, filepath.Join(dir, "n.wav"), outPath, nil); err != nil {
		t.Fatalf("Render: %v", err)
	}

	args := exec.lastArgs
	for _, pair := range [][2]string{
		{"-pix_fmt", "yuv420p"},
		{"-c:v", "libx264"},
		{"-preset", "medium"},
		{"-crf", "23"},
		{"-c:a", "aac"},
		{"-b:a", "128k"},
		{"-r", "30"},
		{"-s", "1280x720"},
	} {
		if !hasArgPair(args, pair[0], pair[1]) {
			t.Fatalf("missing %s %s in %v", pair[0], pair[1], args)
		}
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-shortest") {
		t.Fatal("missing -shortest")
	}
	if !strings.Contains(joined, "+faststart") {
		t.Fatal("missing faststart")
	}
	if args[len(args)-1] != outPath {
		t.Fatalf("output path should be last arg, got %q", args[len(args)-1])
	}
}

func TestConcatListRepeatsFinalFrame(t *testing.T) {
	dir := t.TempDir()
	frames := []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")}
	durations := []time.Duration{3 * time.Second, 4500 * time.Millisecond}
	listPath := filepath.Join(dir, "frames.concat")

	if err := writeConcatList(listPath, frames, durations); err != nil {
		t.Fatalf("writeConcatList: %v", err)
	}
	data, err := os.ReadFile(listPath)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)

	if got := strings.Count(content, "file '"+frames[1]+"'"); got != 2 {
		t.Fatalf("final frame listed %d times, want 2", got)
	}
	if !strings.Contains(content, "duration 3.000") || !strings.Contains(content, "duration 4.500") {
		t.Fatalf("durations missing from list:\n%s", content)
	}
}

func TestRenderReportsProgress(t *testing.T) {
	exec := &fakeExecutor{
		written: []byte("x"),
		emit: []string{
			"frame=90",
			"out_time_us=5000000",
			"out_time_us=10000000",
			"progress=end",
		},
	}
	renderer, err := NewRenderer(testSettings(), WithExecutor(exec))
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	var reports []float64
	err = renderer.Render(context.Background(),
		[]string{filepath.Join(dir, "a.png")},
		[]time.Duration{10 * time.Second},
		filepath.Join(dir, "n.wav"),
		filepath.Join(dir, "out.mp4"),
		func(percent float64) { reports = append(reports, percent) })
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 2 || reports[0] != 50 || reports[1] != 100 {
		t.Fatalf("progress reports = %v", reports)
	}
}

func TestRenderClassifiesEncoderFailure(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("exit status 1: unknown encoder")}
	renderer, err := NewRenderer(testSettings(), WithExecutor(exec))
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	err = renderer.Render(context.Background(),
		[]string{filepath.Join(dir, "a.png")},
		[]time.Duration{time.Second},
		filepath.Join(dir, "n.wav"),
		filepath.Join(dir, "out.mp4"), nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if services.Fatal(err) {
		t.Fatal("encoder failures are retryable")
	}
}

func TestRenderValidatesInputs(t *testing.T) {
	renderer, err := NewRenderer(testSettings(), WithExecutor(&fakeExecutor{}))
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()

	err = renderer.Render(context.Background(), nil, nil, "n.wav", filepath.Join(dir, "o.mp4"), nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("no frames should be a validation error, got %v", err)
	}

	err = renderer.Render(context.Background(),
		[]string{"a.png", "b.png"},
		[]time.Duration{time.Second},
		"n.wav", filepath.Join(dir, "o.mp4"), nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("mismatched durations should be a validation error, got %v", err)
	}

	if _, err := NewRenderer(Settings{}); err == nil {
		t.Fatal("missing binary should be rejected")
	}
}
