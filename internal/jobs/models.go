package jobs

import (
	"encoding/json"
	"strings"
	"time"
)

// Status represents the lifecycle of a conversion job.
type Status string

const (
	StatusPending      Status = "pending"
	StatusValidating   Status = "validating"
	StatusExtracting   Status = "extracting"
	StatusSynthesizing Status = "synthesizing"
	StatusRendering    Status = "rendering"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// DaemonStopReason is the error message set when jobs are failed due to daemon shutdown.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{
	StatusPending,
	StatusValidating,
	StatusExtracting,
	StatusSynthesizing,
	StatusRendering,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusValidating:   {},
	StatusExtracting:   {},
	StatusSynthesizing: {},
	StatusRendering:    {},
}

// Stage names one pipeline step with its own record and retry policy.
type Stage string

const (
	StageValidate   Stage = "validate"
	StageExtract    Stage = "extract"
	StageSynthesize Stage = "synthesize"
	StageRender     Stage = "render"
)

// StageOrder lists pipeline stages in execution order.
var StageOrder = []Stage{StageValidate, StageExtract, StageSynthesize, StageRender}

// stageWeights drive the overall progress blend. They sum to 100.
var stageWeights = map[Stage]float64{
	StageValidate:   5,
	StageExtract:    20,
	StageSynthesize: 30,
	StageRender:     45,
}

// ProcessingStatus maps a stage to the job status while that stage runs.
func (s Stage) ProcessingStatus() Status {
	switch s {
	case StageValidate:
		return StatusValidating
	case StageExtract:
		return StatusExtracting
	case StageSynthesize:
		return StatusSynthesizing
	case StageRender:
		return StatusRendering
	default:
		return StatusFailed
	}
}

// StageStatus tracks a single stage record's lifecycle.
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusRunning   StageStatus = "running"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
)

// StageRecord captures one stage's progress, attempts, and output data.
// Retries bump Attempts and replace Data/Error; the attempt counter is never
// reset once the stage has started.
type StageRecord struct {
	Status     StageStatus     `json:"status"`
	Progress   float64         `json:"progress"`
	Attempts   int             `json:"attempts"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Result describes the artifacts of a completed job.
type Result struct {
	VideoPath          string  `json:"video_path"`
	ThumbnailPath      string  `json:"thumbnail_path"`
	DurationSeconds    float64 `json:"duration_seconds"`
	SizeBytes          int64   `json:"size_bytes"`
	SlideCount         int     `json:"slide_count"`
	SyntheticSlides    bool    `json:"synthetic_slides"`
	SyntheticNarration int     `json:"synthetic_narration"`
}

// Job represents one end-to-end conversion request persisted in the store.
type Job struct {
	ID              int64
	Token           string
	OwnerID         string
	SourceFilename  string
	SourcePath      string
	Status          Status
	CurrentStage    Stage
	Progress        float64
	ProgressMessage string
	Stages          map[Stage]*StageRecord
	SecurityReport  json.RawMessage
	Result          *Result
	ErrorMessage    string
	CancelRequested bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastHeartbeat   *time.Time
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing returns true when the status reflects an in-flight stage.
func (j *Job) IsProcessing() bool {
	_, ok := processingStatuses[j.Status]
	return ok
}

// IsTerminal reports whether the job can no longer change state.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsProcessingStatus reports whether a status reflects an in-flight stage.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// EnsureStage returns the record for stage, creating it if absent.
func (j *Job) EnsureStage(stage Stage) *StageRecord {
	if j.Stages == nil {
		j.Stages = make(map[Stage]*StageRecord, len(StageOrder))
	}
	record, ok := j.Stages[stage]
	if !ok {
		record = &StageRecord{Status: StageStatusPending}
		j.Stages[stage] = record
	}
	return record
}

// BeginStage marks a stage attempt as running and moves the job into the
// stage's processing status. The attempt counter only ever increases.
func (j *Job) BeginStage(stage Stage) *StageRecord {
	record := j.EnsureStage(stage)
	now := time.Now().UTC()
	record.Status = StageStatusRunning
	record.Attempts++
	record.Progress = 0
	record.Error = ""
	if record.StartedAt == nil {
		record.StartedAt = &now
	}
	record.FinishedAt = nil

	j.Status = stage.ProcessingStatus()
	j.CurrentStage = stage
	j.ProgressMessage = string(stage) + " started"
	j.ErrorMessage = ""
	j.LastHeartbeat = &now
	j.recomputeProgress()
	return record
}

// CompleteStage marks a stage finished and folds its weight into overall progress.
func (j *Job) CompleteStage(stage Stage) {
	record := j.EnsureStage(stage)
	now := time.Now().UTC()
	record.Status = StageStatusCompleted
	record.Progress = 100
	record.FinishedAt = &now
	j.recomputeProgress()
}

// FailStage records a stage failure without deciding the job's fate; the
// orchestrator applies retry policy before calling SetFailed.
func (j *Job) FailStage(stage Stage, message string) {
	record := j.EnsureStage(stage)
	now := time.Now().UTC()
	record.Status = StageStatusFailed
	record.Error = message
	record.FinishedAt = &now
}

// SetStageProgress updates a running stage's internal progress and recomputes
// the overall percentage. Overall progress never decreases.
func (j *Job) SetStageProgress(stage Stage, percent float64, message string) {
	record := j.EnsureStage(stage)
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent > record.Progress {
		record.Progress = percent
	}
	if message != "" {
		j.ProgressMessage = message
	}
	j.recomputeProgress()
}

// SetStageData stores a stage's output payload as JSON.
func (j *Job) SetStageData(stage Stage, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	j.EnsureStage(stage).Data = data
	return nil
}

// SetSecurityReport stores the validation report as JSON.
func (j *Job) SetSecurityReport(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	j.SecurityReport = data
	return nil
}

// StageData decodes a stage's output payload into v.
func (j *Job) StageData(stage Stage, v any) error {
	record, ok := j.Stages[stage]
	if !ok || len(record.Data) == 0 {
		return ErrNoStageData
	}
	return json.Unmarshal(record.Data, v)
}

// SetCompleted marks the job terminal-successful with its result descriptor.
func (j *Job) SetCompleted(result *Result) {
	j.Status = StatusCompleted
	j.Result = result
	j.Progress = 100
	j.ProgressMessage = "Completed"
	j.ErrorMessage = ""
	j.LastHeartbeat = nil
}

// SetFailed marks the job as failed with the given error message.
func (j *Job) SetFailed(stage Stage, message string) {
	if stage != "" {
		j.FailStage(stage, message)
		j.CurrentStage = stage
	}
	j.Status = StatusFailed
	j.ErrorMessage = message
	j.ProgressMessage = message
	j.LastHeartbeat = nil
}

// SetCancelled marks the job terminal-cancelled.
func (j *Job) SetCancelled() {
	j.Status = StatusCancelled
	j.ProgressMessage = "Cancelled"
	j.LastHeartbeat = nil
}

func (j *Job) recomputeProgress() {
	var total float64
	for _, stage := range StageOrder {
		record, ok := j.Stages[stage]
		if !ok {
			continue
		}
		weight := stageWeights[stage]
		switch record.Status {
		case StageStatusCompleted:
			total += weight
		case StageStatusRunning, StageStatusFailed:
			total += weight * record.Progress / 100
		}
	}
	if total > 100 {
		total = 100
	}
	if total > j.Progress {
		j.Progress = total
	}
}
