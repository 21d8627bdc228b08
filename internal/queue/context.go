package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sifterhq/sifter/internal/models"
	"github.com/sifterhq/sifter/internal/repository"
)

// StageContext is what a pipeline stage sees of the job executing it.
// Stages report progress through it without knowing whether they run as
// a queued job or inline inside another stage.
type StageContext interface {
	// JobID identifies the executing job, empty for inline execution.
	JobID() string

	// Bind decodes the job payload into v.
	Bind(v any) error

	// UpdateProgress reports completion percentage, 0-100. Best effort.
	UpdateProgress(ctx context.Context, progress int)

	// Log returns a logger scoped to the job.
	Log() *slog.Logger
}

// jobStage adapts a persisted job to StageContext.
type jobStage struct {
	job     *models.Job
	jobRepo repository.JobRepository
	logger  *slog.Logger
}

func newJobStage(job *models.Job, jobRepo repository.JobRepository, logger *slog.Logger) *jobStage {
	return &jobStage{
		job:     job,
		jobRepo: jobRepo,
		logger: logger.With(
			slog.String("job_id", job.ID.String()),
			slog.String("queue", job.Queue)),
	}
}

func (s *jobStage) JobID() string {
	return s.job.ID.String()
}

func (s *jobStage) Bind(v any) error {
	if len(s.job.Payload) == 0 {
		return fmt.Errorf("job %s has no payload", s.job.ID)
	}
	if err := json.Unmarshal(s.job.Payload, v); err != nil {
		return fmt.Errorf("decoding job payload: %w", err)
	}
	return nil
}

func (s *jobStage) UpdateProgress(ctx context.Context, progress int) {
	if err := s.jobRepo.UpdateProgress(ctx, s.job.ID, progress); err != nil {
		s.logger.Warn("failed to update job progress",
			slog.Int("progress", progress),
			slog.Any("error", err))
	}
	s.job.Progress = progress
}

func (s *jobStage) Log() *slog.Logger {
	return s.logger
}

// InlineStage is a StageContext for stages invoked directly by another
// stage rather than through the queue. The orchestrator uses it to run
// curation and assembly within its own job.
type InlineStage struct {
	Payload any
	Logger  *slog.Logger

	// OnProgress, when set, receives progress updates.
	OnProgress func(progress int)
}

// JobID returns the empty string: inline stages have no job of their own.
func (s *InlineStage) JobID() string {
	return ""
}

// Bind decodes the inline payload into v via a JSON round trip, so
// inline and queued invocations share payload semantics.
func (s *InlineStage) Bind(v any) error {
	data, err := json.Marshal(s.Payload)
	if err != nil {
		return fmt.Errorf("encoding inline payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding inline payload: %w", err)
	}
	return nil
}

// UpdateProgress forwards to OnProgress when set.
func (s *InlineStage) UpdateProgress(ctx context.Context, progress int) {
	if s.OnProgress != nil {
		s.OnProgress(progress)
	}
}

// Log returns the configured logger.
func (s *InlineStage) Log() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
