package narration

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"slidereel/internal/services"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStdout func(string)) error
}

// CommandOption configures the command provider.
type CommandOption func(*CommandProvider)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) CommandOption {
	return func(p *CommandProvider) {
		if exec != nil {
			p.exec = exec
		}
	}
}

// CommandProvider drives a local text-to-speech binary. The binary is invoked
// per slide with the text in a temp file and is expected to write a WAV in
// the pipeline format to the requested output path.
type CommandProvider struct {
	binary  string
	voice   string
	timeout time.Duration
	exec    Executor
}

// NewCommandProvider constructs the local TTS provider.
func NewCommandProvider(binary, voice string, timeoutSeconds int, opts ...CommandOption) (*CommandProvider, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("tts binary required")
	}
	provider := &CommandProvider{
		binary:  binary,
		voice:   voice,
		timeout: time.Duration(timeoutSeconds) * time.Second,
		exec:    commandExecutor{},
	}
	for _, opt := range opts {
		opt(provider)
	}
	return provider, nil
}

func (p *CommandProvider) Name() string { return "command" }

// Synthesize runs the binary and returns the WAV it produced.
func (p *CommandProvider) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, services.Wrap(services.ErrProvider, "synthesize", "command", "empty narration text", nil)
	}

	workDir, err := os.MkdirTemp("", "slidereel-tts-")
	if err != nil {
		return nil, fmt.Errorf("create tts workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	textPath := filepath.Join(workDir, "narration.txt")
	if err := os.WriteFile(textPath, []byte(req.Text), 0o644); err != nil {
		return nil, fmt.Errorf("write narration text: %w", err)
	}
	outPath := filepath.Join(workDir, "narration.wav")

	args := []string{
		"--input", textPath,
		"--output", outPath,
		"--rate", fmt.Sprintf("%d", SampleRate),
	}
	if p.voice != "" {
		args = append(args, "--voice", p.voice)
	}

	runCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.exec.Run(runCtx, p.binary, args, nil); err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			return nil, services.Wrap(services.ErrTimeout, "synthesize", "command", "tts binary timed out", err)
		}
		return nil, services.Wrap(services.ErrProvider, "synthesize", "command", "tts binary failed", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, services.Wrap(services.ErrProvider, "synthesize", "command", "tts binary produced no output", err)
	}
	if _, err := DecodeWAV(data); err != nil {
		return nil, services.Wrap(services.ErrProvider, "synthesize", "command", "tts output unusable", err)
	}
	return data, nil
}

// HealthCheck reports whether the binary resolves on PATH.
func (p *CommandProvider) HealthCheck() error {
	if _, err := exec.LookPath(p.binary); err != nil {
		return fmt.Errorf("tts binary %s not found: %w", p.binary, err)
	}
	return nil
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
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
