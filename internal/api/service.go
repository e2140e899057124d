package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"slidereel/internal/config"
	"slidereel/internal/jobs"
)

// Upload validation failures, mapped to client-facing HTTP statuses by the
// daemon.
var (
	ErrUploadEmpty     = errors.New("upload is empty")
	ErrUploadTooLarge  = errors.New("upload exceeds the size ceiling")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrNotZipArchive   = errors.New("upload is not a zip archive")
)

// zipSignature is the local-file-header magic every zip archive starts with.
var zipSignature = []byte{'P', 'K', 0x03, 0x04}

var allowedExtensions = map[string]struct{}{
	".pptx": {},
	".zip":  {},
}

// JobService exposes the boundary operations over the job store: submit,
// snapshot, and cancel. Downloads are served by the daemon directly since
// they stream artifact files.
type JobService struct {
	cfg   *config.Config
	store jobs.Store
}

// NewJobService constructs a JobService.
func NewJobService(cfg *config.Config, store jobs.Store) *JobService {
	if cfg == nil || store == nil {
		return nil
	}
	return &JobService{cfg: cfg, store: store}
}

// SubmitRequest carries one upload into the queue.
type SubmitRequest struct {
	Filename string
	OwnerID  string
	Payload  []byte
}

// ValidateUpload applies the pre-queue upload checks: extension allowlist,
// size ceiling, and zip signature. The filename is metadata only; nothing
// about it relaxes the content checks.
func ValidateUpload(filename string, payload []byte, maxBytes int64) error {
	if len(payload) == 0 {
		return ErrUploadEmpty
	}
	if maxBytes > 0 && int64(len(payload)) > maxBytes {
		return fmt.Errorf("%w: %d bytes (ceiling %d)", ErrUploadTooLarge, len(payload), maxBytes)
	}
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	if _, ok := allowedExtensions[ext]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
	if !bytes.HasPrefix(payload, zipSignature) {
		return ErrNotZipArchive
	}
	return nil
}

// Submit validates the upload, persists it to the upload directory, and
// queues a job for it.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (JobSnapshot, error) {
	if s == nil {
		return JobSnapshot{}, errors.New("job service not configured")
	}
	filename := filepath.Base(strings.TrimSpace(req.Filename))
	if err := ValidateUpload(filename, req.Payload, s.cfg.MaxUploadBytes()); err != nil {
		return JobSnapshot{}, err
	}

	uploadDir := s.cfg.UploadDir()
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return JobSnapshot{}, fmt.Errorf("create upload dir: %w", err)
	}
	sourcePath := filepath.Join(uploadDir, uuid.NewString()+".upload")
	if err := os.WriteFile(sourcePath, req.Payload, 0o600); err != nil {
		return JobSnapshot{}, fmt.Errorf("persist upload: %w", err)
	}

	job := &jobs.Job{
		OwnerID:        strings.TrimSpace(req.OwnerID),
		SourceFilename: filename,
		SourcePath:     sourcePath,
	}
	if err := s.store.Create(ctx, job); err != nil {
		os.Remove(sourcePath)
		return JobSnapshot{}, fmt.Errorf("queue job: %w", err)
	}
	return FromJob(job), nil
}

// List returns job snapshots filtered by status, newest first.
func (s *JobService) List(ctx context.Context, statuses ...jobs.Status) ([]JobSnapshot, error) {
	if s == nil {
		return nil, nil
	}
	list, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromJobs(list), nil
}

// Describe fetches a single job snapshot by token.
func (s *JobService) Describe(ctx context.Context, token string) (*JobSnapshot, error) {
	if s == nil {
		return nil, nil
	}
	job, err := s.store.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	snapshot := FromJob(job)
	return &snapshot, nil
}

// CancelOutcome classifies the result of a cancel request.
type CancelOutcome string

const (
	CancelAccepted        CancelOutcome = "accepted"
	CancelNotFound        CancelOutcome = "not_found"
	CancelAlreadyTerminal CancelOutcome = "already_terminal"
)

// CancelResult reports one cancel request's effect.
type CancelResult struct {
	Outcome CancelOutcome `json:"outcome"`
	Job     *JobSnapshot  `json:"job,omitempty"`
}

// Cancel requests cooperative cancellation of a job. Pending jobs cancel
// immediately; in-flight jobs are flagged and interrupted by the workflow
// manager. Terminal jobs are left untouched.
func (s *JobService) Cancel(ctx context.Context, token string) (CancelResult, error) {
	if s == nil {
		return CancelResult{Outcome: CancelNotFound}, nil
	}
	job, err := s.store.RequestCancel(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrNotFound):
			return CancelResult{Outcome: CancelNotFound}, nil
		case errors.Is(err, jobs.ErrTerminal):
			snapshot, descErr := s.Describe(ctx, token)
			if descErr != nil {
				return CancelResult{}, descErr
			}
			return CancelResult{Outcome: CancelAlreadyTerminal, Job: snapshot}, nil
		default:
			return CancelResult{}, err
		}
	}
	snapshot := FromJob(job)
	return CancelResult{Outcome: CancelAccepted, Job: &snapshot}, nil
}
