package scratch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"slidereel/internal/config"
	"slidereel/internal/logging"
	"slidereel/internal/services"
)

// Workspace is the per-job scratch area. All intermediate artifacts for a job
// live under its root so one RemoveAll reclaims everything.
type Workspace struct {
	Root      string
	AudioDir  string
	FramesDir string
	OutputDir string
}

// Manager hands out and reclaims per-job scratch workspaces under one root.
type Manager struct {
	root         string
	minFreeBytes uint64
	logger       *slog.Logger
}

// NewManager builds a scratch manager rooted at the configured scratch
// directory.
func NewManager(cfg *config.Config, logger *slog.Logger) *Manager {
	return &Manager{
		root:         cfg.ScratchRoot(),
		minFreeBytes: uint64(cfg.Workflow.MinFreeSpaceMiB) * 1024 * 1024,
		logger:       logging.NewComponentLogger(logger, "scratch"),
	}
}

// Acquire creates (or re-creates) the workspace for a job. Re-acquiring an
// existing workspace is safe: directories are made idempotently and prior
// partial output is left for the caller to overwrite.
func (m *Manager) Acquire(jobID int64) (*Workspace, error) {
	if err := m.checkFreeSpace(); err != nil {
		return nil, err
	}

	root := filepath.Join(m.root, fmt.Sprintf("job-%d", jobID))
	ws := &Workspace{
		Root:      root,
		AudioDir:  filepath.Join(root, "audio"),
		FramesDir: filepath.Join(root, "frames"),
		OutputDir: filepath.Join(root, "output"),
	}
	for _, dir := range []string{ws.AudioDir, ws.FramesDir, ws.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create scratch dir %s: %w", dir, err)
		}
	}
	return ws, nil
}

// Release removes a job's workspace. Releasing twice, or releasing a
// workspace that was never fully created, is a no-op.
func (m *Manager) Release(ws *Workspace) error {
	if ws == nil || ws.Root == "" {
		return nil
	}
	if err := os.RemoveAll(ws.Root); err != nil {
		return fmt.Errorf("remove scratch %s: %w", ws.Root, err)
	}
	m.logger.Debug("scratch released", logging.String("root", ws.Root))
	return nil
}

// ReleaseJob removes the workspace for a job ID without needing the
// original Workspace handle. Used when reclaiming after a restart.
func (m *Manager) ReleaseJob(jobID int64) error {
	return m.Release(&Workspace{Root: filepath.Join(m.root, fmt.Sprintf("job-%d", jobID))})
}

// checkFreeSpace refuses new work when the scratch filesystem is nearly full.
func (m *Manager) checkFreeSpace() error {
	if m.minFreeBytes == 0 {
		return nil
	}
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return fmt.Errorf("create scratch root: %w", err)
	}
	var stat unix.Statfs_t
	if err := unix.Statfs(m.root, &stat); err != nil {
		return fmt.Errorf("statfs %s: %w", m.root, err)
	}
	free := stat.Bavail * uint64(stat.Bsize)
	if free < m.minFreeBytes {
		return services.Wrap(services.ErrTransient, "", "scratch",
			fmt.Sprintf("only %d MiB free under %s, need %d MiB",
				free/(1024*1024), m.root, m.minFreeBytes/(1024*1024)), nil)
	}
	return nil
}
