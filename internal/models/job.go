package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Queue names used by the pipeline.
const (
	// QueueTranscription carries per-episode transcription jobs.
	QueueTranscription = "transcription"
	// QueueAnalysis carries per-(episode, user) clip analysis jobs.
	QueueAnalysis = "analysis"
	// QueueCuration carries per-digest clip selection jobs.
	QueueCuration = "curation"
	// QueueDigest carries per-digest assembly jobs.
	QueueDigest = "digest"
	// QueueOrchestrator carries end-to-end digest runs.
	QueueOrchestrator = "orchestrator"
)

// JobStatus represents the current status of a queued job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be executed.
	JobStatusPending JobStatus = "pending"
	// JobStatusScheduled indicates the job is scheduled for future execution.
	JobStatusScheduled JobStatus = "scheduled"
	// JobStatusRunning indicates the job is currently executing.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
)

// Job is a durable queue entry. Queues are named, delivery is
// at-least-once, and jobs carrying a DedupKey are unique among active
// (pending/scheduled/running) jobs.
type Job struct {
	BaseModel

	// Queue is the named queue this job belongs to.
	Queue string `gorm:"not null;size:50;index" json:"queue"`

	// Name describes the work for operators (e.g. "transcribe-episode").
	Name string `gorm:"size:255" json:"name,omitempty"`

	// DedupKey deduplicates concurrent requests for the same target,
	// e.g. "transcription-{episodeID}". Empty disables deduplication.
	DedupKey string `gorm:"size:255;index" json:"dedup_key,omitempty"`

	// Payload is the JSON-encoded job data.
	Payload datatypes.JSON `gorm:"type:text" json:"payload,omitempty"`

	Status JobStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`

	// Progress is the reported completion percentage, 0-100.
	Progress int `gorm:"default:0" json:"progress"`

	// NextRunAt is when a scheduled (retrying) job becomes eligible.
	NextRunAt *Time `gorm:"index" json:"next_run_at,omitempty"`

	StartedAt   *Time `json:"started_at,omitempty"`
	CompletedAt *Time `json:"completed_at,omitempty"`
	DurationMs  int64 `json:"duration_ms,omitempty"`

	// AttemptCount is the number of times this job has been attempted.
	AttemptCount int `gorm:"default:0" json:"attempt_count"`

	// MaxAttempts is the retry budget (1 = no retries).
	MaxAttempts int `gorm:"default:3" json:"max_attempts"`

	// BackoffSeconds is the initial retry backoff. Each retry doubles
	// the backoff up to a maximum.
	BackoffSeconds int `gorm:"default:5" json:"backoff_seconds"`

	LastError string `gorm:"size:4096" json:"last_error,omitempty"`
	Result    string `gorm:"size:4096" json:"result,omitempty"`

	// LockedBy is the worker ID that has claimed this job.
	LockedBy string `gorm:"size:100;index" json:"locked_by,omitempty"`
	LockedAt *Time  `json:"locked_at,omitempty"`
}

// TableName returns the table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// IsActive reports whether the job still occupies its dedup key.
func (j *Job) IsActive() bool {
	switch j.Status {
	case JobStatusPending, JobStatusScheduled, JobStatusRunning:
		return true
	}
	return false
}

// IsFinished returns true if the job has completed (successfully or not).
func (j *Job) IsFinished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// CanRetry returns true if the job can be retried.
func (j *Job) CanRetry() bool {
	return j.Status == JobStatusFailed && j.AttemptCount < j.MaxAttempts
}

// MarkRunning marks the job as running under the given worker.
func (j *Job) MarkRunning(workerID string) {
	j.Status = JobStatusRunning
	now := Now()
	j.StartedAt = &now
	j.LockedBy = workerID
	j.LockedAt = &now
	j.AttemptCount++
	j.LastError = ""
}

// MarkCompleted marks the job as completed successfully.
func (j *Job) MarkCompleted(result string) {
	j.Status = JobStatusCompleted
	now := Now()
	j.CompletedAt = &now
	j.Result = result
	j.Progress = 100
	j.LastError = ""

	if j.StartedAt != nil {
		j.DurationMs = now.Sub(*j.StartedAt).Milliseconds()
	}

	j.LockedBy = ""
	j.LockedAt = nil
}

// MarkFailed marks the job as failed with an error message.
func (j *Job) MarkFailed(err error) {
	j.Status = JobStatusFailed
	now := Now()
	j.CompletedAt = &now

	if err != nil {
		j.LastError = err.Error()
	}

	if j.StartedAt != nil {
		j.DurationMs = now.Sub(*j.StartedAt).Milliseconds()
	}

	j.LockedBy = ""
	j.LockedAt = nil
}

// CalculateNextBackoff returns the backoff duration for the next retry.
// Uses exponential backoff: base * 2^(attemptCount-1), capped at 1 hour.
func (j *Job) CalculateNextBackoff() time.Duration {
	base := j.BackoffSeconds
	if base <= 0 {
		base = 5
	}

	attempts := j.AttemptCount
	if attempts < 1 {
		attempts = 1
	}

	multiplier := 1 << (attempts - 1)
	backoffSecs := base * multiplier

	const maxBackoff = 3600
	if backoffSecs > maxBackoff {
		backoffSecs = maxBackoff
	}

	return time.Duration(backoffSecs) * time.Second
}

// ScheduleRetry schedules the job for retry with exponential backoff.
func (j *Job) ScheduleRetry() {
	if !j.CanRetry() {
		return
	}

	nextRun := Now().Add(j.CalculateNextBackoff())
	j.NextRunAt = &nextRun
	j.Status = JobStatusScheduled
	j.LockedBy = ""
	j.LockedAt = nil
}

// Validate performs basic validation on the job.
func (j *Job) Validate() error {
	if j.Queue == "" {
		return ErrQueueRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the job and generates a ULID.
func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if err := j.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return j.Validate()
}

// JobHistory stores historical execution records for finished jobs.
// Kept separate from the jobs table to keep it lean.
type JobHistory struct {
	BaseModel

	JobID         ULID      `gorm:"not null;index" json:"job_id"`
	Queue         string    `gorm:"not null;size:50;index" json:"queue"`
	Name          string    `gorm:"size:255" json:"name,omitempty"`
	DedupKey      string    `gorm:"size:255" json:"dedup_key,omitempty"`
	Status        JobStatus `gorm:"not null;size:20" json:"status"`
	StartedAt     *Time     `gorm:"index" json:"started_at,omitempty"`
	CompletedAt   *Time     `gorm:"index" json:"completed_at,omitempty"`
	DurationMs    int64     `json:"duration_ms,omitempty"`
	AttemptNumber int       `json:"attempt_number"`
	Error         string    `gorm:"size:4096" json:"error,omitempty"`
	Result        string    `gorm:"size:4096" json:"result,omitempty"`
}

// TableName returns the table name for JobHistory.
func (JobHistory) TableName() string {
	return "job_history"
}
