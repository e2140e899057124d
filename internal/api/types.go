package api

import (
	"encoding/json"
	"time"

	"slidereel/internal/jobs"
	"slidereel/internal/workflow"
)

// JobSnapshot describes a conversion job in a transport-friendly format.
// Snapshots carry metadata only, never artifact binaries.
type JobSnapshot struct {
	Token           string              `json:"token"`
	SourceFilename  string              `json:"sourceFilename"`
	Status          string              `json:"status"`
	CurrentStage    string              `json:"currentStage,omitempty"`
	Progress        float64             `json:"progress"`
	ProgressMessage string              `json:"progressMessage,omitempty"`
	ErrorMessage    string              `json:"errorMessage,omitempty"`
	Stages          map[string]JobStage `json:"stages,omitempty"`
	SecurityReport  json.RawMessage     `json:"securityReport,omitempty"`
	Result          *JobResult          `json:"result,omitempty"`
	CancelRequested bool                `json:"cancelRequested"`
	CreatedAt       string              `json:"createdAt,omitempty"`
	UpdatedAt       string              `json:"updatedAt,omitempty"`
}

// JobStage captures one stage record's progress and attempts.
type JobStage struct {
	Status     string  `json:"status"`
	Progress   float64 `json:"progress"`
	Attempts   int     `json:"attempts"`
	Error      string  `json:"error,omitempty"`
	StartedAt  string  `json:"startedAt,omitempty"`
	FinishedAt string  `json:"finishedAt,omitempty"`
}

// JobResult mirrors the artifacts of a completed job.
type JobResult struct {
	DurationSeconds    float64 `json:"durationSeconds"`
	SizeBytes          int64   `json:"sizeBytes"`
	SlideCount         int     `json:"slideCount"`
	SyntheticSlides    bool    `json:"syntheticSlides"`
	SyntheticNarration int     `json:"syntheticNarration"`
	HasVideo           bool    `json:"hasVideo"`
	HasThumbnail       bool    `json:"hasThumbnail"`
}

// WorkflowStatus summarizes pipeline execution state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	QueueStats  map[string]int `json:"queueStats"`
	LastError   string         `json:"lastError,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// StageHealth mirrors readiness reporting for pipeline stages. Breaker
// carries the stage's circuit breaker state (closed, half-open, open).
type StageHealth struct {
	Name    string `json:"name"`
	Ready   bool   `json:"ready"`
	Detail  string `json:"detail,omitempty"`
	Breaker string `json:"breaker,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	JobDBPath    string         `json:"jobDbPath"`
	LockFilePath string         `json:"lockFilePath"`
	Workflow     WorkflowStatus `json:"workflow"`
}

// JobListResponse wraps a collection of job snapshots.
type JobListResponse struct {
	Jobs []JobSnapshot `json:"jobs"`
}

// JobResponse wraps a single job snapshot.
type JobResponse struct {
	Job JobSnapshot `json:"job"`
}

// FromJob converts a stored job into its API snapshot.
func FromJob(job *jobs.Job) JobSnapshot {
	if job == nil {
		return JobSnapshot{}
	}
	snapshot := JobSnapshot{
		Token:           job.Token,
		SourceFilename:  job.SourceFilename,
		Status:          string(job.Status),
		CurrentStage:    string(job.CurrentStage),
		Progress:        job.Progress,
		ProgressMessage: job.ProgressMessage,
		ErrorMessage:    job.ErrorMessage,
		SecurityReport:  job.SecurityReport,
		CancelRequested: job.CancelRequested,
		CreatedAt:       formatTime(job.CreatedAt),
		UpdatedAt:       formatTime(job.UpdatedAt),
	}
	if len(job.Stages) > 0 {
		snapshot.Stages = make(map[string]JobStage, len(job.Stages))
		for stg, record := range job.Stages {
			snapshot.Stages[string(stg)] = JobStage{
				Status:     string(record.Status),
				Progress:   record.Progress,
				Attempts:   record.Attempts,
				Error:      record.Error,
				StartedAt:  formatTimePtr(record.StartedAt),
				FinishedAt: formatTimePtr(record.FinishedAt),
			}
		}
	}
	if job.Result != nil {
		snapshot.Result = &JobResult{
			DurationSeconds:    job.Result.DurationSeconds,
			SizeBytes:          job.Result.SizeBytes,
			SlideCount:         job.Result.SlideCount,
			SyntheticSlides:    job.Result.SyntheticSlides,
			SyntheticNarration: job.Result.SyntheticNarration,
			HasVideo:           job.Result.VideoPath != "",
			HasThumbnail:       job.Result.ThumbnailPath != "",
		}
	}
	return snapshot
}

// FromJobs converts a slice of stored jobs.
func FromJobs(list []*jobs.Job) []JobSnapshot {
	if len(list) == 0 {
		return nil
	}
	out := make([]JobSnapshot, 0, len(list))
	for _, job := range list {
		out = append(out, FromJob(job))
	}
	return out
}

// FromStatusSummary converts the workflow manager's snapshot.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	status := WorkflowStatus{
		Running:   summary.Running,
		LastError: summary.LastError,
		QueueStats: map[string]int{
			"total":      summary.Queue.Total,
			"pending":    summary.Queue.Pending,
			"processing": summary.Queue.Processing,
			"completed":  summary.Queue.Completed,
			"failed":     summary.Queue.Failed,
			"cancelled":  summary.Queue.Cancelled,
		},
	}
	for _, stg := range jobs.StageOrder {
		health, ok := summary.StageHealth[stg]
		if !ok {
			continue
		}
		status.StageHealth = append(status.StageHealth, StageHealth{
			Name:    health.Name,
			Ready:   health.Ready,
			Detail:  health.Detail,
			Breaker: summary.Breakers[stg],
		})
	}
	return status
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
