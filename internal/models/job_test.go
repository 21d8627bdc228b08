package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJob_TableName(t *testing.T) {
	job := Job{}
	assert.Equal(t, "jobs", job.TableName())
}

func TestJobHistory_TableName(t *testing.T) {
	history := JobHistory{}
	assert.Equal(t, "job_history", history.TableName())
}

func TestJob_StatusChecks(t *testing.T) {
	tests := []struct {
		name       string
		status     JobStatus
		isActive   bool
		isFinished bool
	}{
		{
			name:       "pending status",
			status:     JobStatusPending,
			isActive:   true,
			isFinished: false,
		},
		{
			name:       "scheduled status",
			status:     JobStatusScheduled,
			isActive:   true,
			isFinished: false,
		},
		{
			name:       "running status",
			status:     JobStatusRunning,
			isActive:   true,
			isFinished: false,
		},
		{
			name:       "completed status",
			status:     JobStatusCompleted,
			isActive:   false,
			isFinished: true,
		},
		{
			name:       "failed status",
			status:     JobStatusFailed,
			isActive:   false,
			isFinished: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &Job{Status: tt.status}
			assert.Equal(t, tt.isActive, job.IsActive())
			assert.Equal(t, tt.isFinished, job.IsFinished())
		})
	}
}

func TestJob_MarkRunning(t *testing.T) {
	job := &Job{
		Queue:     QueueTranscription,
		Status:    JobStatusPending,
		LastError: "previous error",
	}

	job.MarkRunning("worker-1")

	assert.Equal(t, JobStatusRunning, job.Status)
	assert.Equal(t, "worker-1", job.LockedBy)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.LockedAt)
	assert.Equal(t, 1, job.AttemptCount)
	assert.Empty(t, job.LastError)
}

func TestJob_MarkCompleted(t *testing.T) {
	started := Now().Add(-2 * time.Second)
	job := &Job{
		Queue:     QueueDigest,
		Status:    JobStatusRunning,
		StartedAt: &started,
		LockedBy:  "worker-1",
		Progress:  60,
	}

	job.MarkCompleted("digest ready")

	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, "digest ready", job.Result)
	assert.Equal(t, 100, job.Progress)
	assert.NotNil(t, job.CompletedAt)
	assert.GreaterOrEqual(t, job.DurationMs, int64(2000))
	assert.Empty(t, job.LockedBy)
	assert.Nil(t, job.LockedAt)
}

func TestJob_MarkFailed(t *testing.T) {
	started := Now()
	job := &Job{
		Queue:     QueueAnalysis,
		Status:    JobStatusRunning,
		StartedAt: &started,
		LockedBy:  "worker-1",
	}

	job.MarkFailed(errors.New("llm request failed"))

	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "llm request failed", job.LastError)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.LockedBy)
	assert.Nil(t, job.LockedAt)
}

func TestJob_CanRetry(t *testing.T) {
	tests := []struct {
		name         string
		status       JobStatus
		attemptCount int
		maxAttempts  int
		want         bool
	}{
		{
			name:         "failed with attempts remaining",
			status:       JobStatusFailed,
			attemptCount: 1,
			maxAttempts:  3,
			want:         true,
		},
		{
			name:         "failed with attempts exhausted",
			status:       JobStatusFailed,
			attemptCount: 3,
			maxAttempts:  3,
			want:         false,
		},
		{
			name:         "completed job never retries",
			status:       JobStatusCompleted,
			attemptCount: 1,
			maxAttempts:  3,
			want:         false,
		},
		{
			name:         "single attempt budget",
			status:       JobStatusFailed,
			attemptCount: 1,
			maxAttempts:  1,
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &Job{
				Status:       tt.status,
				AttemptCount: tt.attemptCount,
				MaxAttempts:  tt.maxAttempts,
			}
			assert.Equal(t, tt.want, job.CanRetry())
		})
	}
}

func TestJob_CalculateNextBackoff(t *testing.T) {
	tests := []struct {
		name         string
		backoffSecs  int
		attemptCount int
		want         time.Duration
	}{
		{
			name:         "first attempt uses base",
			backoffSecs:  5,
			attemptCount: 1,
			want:         5 * time.Second,
		},
		{
			name:         "second attempt doubles",
			backoffSecs:  5,
			attemptCount: 2,
			want:         10 * time.Second,
		},
		{
			name:         "third attempt quadruples",
			backoffSecs:  5,
			attemptCount: 3,
			want:         20 * time.Second,
		},
		{
			name:         "zero base falls back to default",
			backoffSecs:  0,
			attemptCount: 1,
			want:         5 * time.Second,
		},
		{
			name:         "backoff capped at one hour",
			backoffSecs:  600,
			attemptCount: 10,
			want:         time.Hour,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &Job{
				BackoffSeconds: tt.backoffSecs,
				AttemptCount:   tt.attemptCount,
			}
			assert.Equal(t, tt.want, job.CalculateNextBackoff())
		})
	}
}

func TestJob_ScheduleRetry(t *testing.T) {
	job := &Job{
		Queue:          QueueTranscription,
		Status:         JobStatusFailed,
		AttemptCount:   1,
		MaxAttempts:    3,
		BackoffSeconds: 5,
		LockedBy:       "worker-1",
	}

	before := Now()
	job.ScheduleRetry()

	assert.Equal(t, JobStatusScheduled, job.Status)
	assert.NotNil(t, job.NextRunAt)
	assert.True(t, job.NextRunAt.After(before))
	assert.Empty(t, job.LockedBy)
}

func TestJob_ScheduleRetry_Exhausted(t *testing.T) {
	job := &Job{
		Queue:        QueueTranscription,
		Status:       JobStatusFailed,
		AttemptCount: 3,
		MaxAttempts:  3,
	}

	job.ScheduleRetry()

	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Nil(t, job.NextRunAt)
}

func TestJob_Validate(t *testing.T) {
	job := &Job{}
	assert.ErrorIs(t, job.Validate(), ErrQueueRequired)

	job.Queue = QueueCuration
	assert.NoError(t, job.Validate())
}
