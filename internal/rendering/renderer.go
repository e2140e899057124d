package rendering

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"slidereel/internal/services"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStdout func(string)) error
}

// Settings carries the encoder parameters for one render.
type Settings struct {
	Binary       string
	Width        int
	Height       int
	FrameRate    int
	Preset       string
	CRF          int
	AudioBitrate string
}

// Option configures the renderer.
type Option func(*Renderer)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(r *Renderer) {
		if exec != nil {
			r.exec = exec
		}
	}
}

// Renderer drives ffmpeg to combine slide frames and the narration track
// into an H.264/AAC MP4.
type Renderer struct {
	settings Settings
	exec     Executor
}

// NewRenderer constructs an ffmpeg renderer.
func NewRenderer(settings Settings, opts ...Option) (*Renderer, error) {
	if strings.TrimSpace(settings.Binary) == "" {
		return nil, errors.New("ffmpeg binary required")
	}
	if settings.FrameRate <= 0 {
		settings.FrameRate = 30
	}
	renderer := &Renderer{settings: settings, exec: ffmpegExecutor{}}
	for _, opt := range opts {
		opt(renderer)
	}
	return renderer, nil
}

// Render encodes frames and audio into outPath. frames and durations are
// parallel slices in slide order. The audio decides the final length via
// -shortest, so a duration mismatch can only trim, never stall.
func (r *Renderer) Render(ctx context.Context, frames []string, durations []time.Duration, audioPath, outPath string, progress func(percent float64)) error {
	if len(frames) == 0 {
		return services.Wrap(services.ErrValidation, "render", "encode", "no frames to encode", nil)
	}
	if len(frames) != len(durations) {
		return services.Wrap(services.ErrValidation, "render", "encode",
			fmt.Sprintf("%d frames but %d durations", len(frames), len(durations)), nil)
	}

	listPath := filepath.Join(filepath.Dir(outPath), "frames.concat")
	if err := writeConcatList(listPath, frames, durations); err != nil {
		return services.Wrap(services.ErrTransient, "render", "encode", "write concat list", err)
	}
	defer os.Remove(listPath)

	var total time.Duration
	for _, d := range durations {
		total += d
	}

	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-f", "concat", "-safe", "0", "-i", listPath,
		"-i", audioPath,
		"-fps_mode", "cfr", "-r", strconv.Itoa(r.settings.FrameRate),
		"-s", fmt.Sprintf("%dx%d", r.settings.Width, r.settings.Height),
		"-pix_fmt", "yuv420p",
		"-c:v", "libx264", "-preset", r.settings.Preset, "-crf", strconv.Itoa(r.settings.CRF),
		"-c:a", "aac", "-b:a", r.settings.AudioBitrate,
		"-shortest",
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		outPath,
	}

	onStdout := func(line string) {
		if progress == nil || total <= 0 {
			return
		}
		if us, ok := parseProgressLine(line); ok {
			percent := float64(us) / float64(total.Microseconds()) * 100
			if percent > 100 {
				percent = 100
			}
			progress(percent)
		}
	}

	if err := r.exec.Run(ctx, r.settings.Binary, args, onStdout); err != nil {
		os.Remove(outPath)
		if ctx.Err() != nil {
			return services.Wrap(services.ErrTimeout, "render", "encode", "encoder interrupted", err)
		}
		return services.Wrap(services.ErrExternalTool, "render", "encode", "ffmpeg failed", err)
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return services.Wrap(services.ErrExternalTool, "render", "encode", "encoder produced no output", err)
	}
	return nil
}

// Thumbnail extracts a single frame from the finished video.
func (r *Renderer) Thumbnail(ctx context.Context, videoPath, thumbPath string) error {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-ss", "1", "-i", videoPath,
		"-frames:v", "1",
		thumbPath,
	}
	if err := r.exec.Run(ctx, r.settings.Binary, args, nil); err != nil {
		os.Remove(thumbPath)
		return services.Wrap(services.ErrExternalTool, "render", "thumbnail", "ffmpeg failed", err)
	}
	return nil
}

// HealthCheck reports whether the encoder binary resolves on PATH.
func (r *Renderer) HealthCheck() error {
	if _, err := exec.LookPath(r.settings.Binary); err != nil {
		return fmt.Errorf("ffmpeg binary %s not found: %w", r.settings.Binary, err)
	}
	return nil
}

// writeConcatList emits the concat demuxer script. The final frame is listed
// twice per the demuxer's convention: the last duration directive is ignored
// unless its file appears again.
func writeConcatList(path string, frames []string, durations []time.Duration) error {
	var sb strings.Builder
	for i, frame := range frames {
		fmt.Fprintf(&sb, "file '%s'\n", concatEscape(frame))
		fmt.Fprintf(&sb, "duration %.3f\n", durations[i].Seconds())
	}
	fmt.Fprintf(&sb, "file '%s'\n", concatEscape(frames[len(frames)-1]))
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

func concatEscape(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}

// parseProgressLine reads ffmpeg -progress key=value output.
func parseProgressLine(line string) (int64, bool) {
	value, found := strings.CutPrefix(strings.TrimSpace(line), "out_time_us=")
	if !found {
		return 0, false
	}
	us, err := strconv.ParseInt(value, 10, 64)
	if err != nil || us < 0 {
		return 0, false
	}
	return us, true
}

type ffmpegExecutor struct{}

func (ffmpegExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var tail []string
	var tailMu sync.Mutex

	scan := func(r io.Reader, forward func(string)) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := scanner.Text()
			if forward != nil {
				forward(line)
			}
			tailMu.Lock()
			tail = append(tail, line)
			if len(tail) > 10 {
				tail = tail[1:]
			}
			tailMu.Unlock()
		}
	}

	wg.Add(2)
	go scan(stdout, onStdout)
	go scan(stderr, nil)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		tailMu.Lock()
		detail := strings.Join(tail, "\n")
		tailMu.Unlock()
		if detail != "" {
			return fmt.Errorf("%w: %s", err, detail)
		}
		return err
	}
	return nil
}
