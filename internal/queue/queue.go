// Package queue provides the durable job queue substrate backing the
// pipeline: named queues with deduplication, a worker pool, retry with
// exponential backoff, and cron-driven digest scheduling.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sifterhq/sifter/internal/models"
	"github.com/sifterhq/sifter/internal/repository"
)

// EnqueueOptions customizes job creation.
type EnqueueOptions struct {
	// DedupKey collapses concurrent requests for the same target. When
	// an active job already holds the key, Enqueue returns that job.
	DedupKey string

	// MaxAttempts is the retry budget. Zero means the default of 3.
	MaxAttempts int

	// BackoffSeconds is the initial retry backoff. Zero means 5.
	BackoffSeconds int
}

// Service enqueues jobs onto named queues.
type Service struct {
	jobRepo repository.JobRepository
	logger  *slog.Logger
}

// NewService creates a queue service.
func NewService(jobRepo repository.JobRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{jobRepo: jobRepo, logger: logger}
}

// Enqueue creates a job on the given queue. The payload is JSON-encoded
// into the job record. When opts carries a DedupKey held by an active
// job, the existing job is returned with deduped true and nothing is
// created.
func (s *Service) Enqueue(ctx context.Context, queue, name string, payload any, opts EnqueueOptions) (*models.Job, bool, error) {
	if opts.DedupKey != "" {
		existing, err := s.jobRepo.FindDuplicateActive(ctx, queue, opts.DedupKey)
		if err != nil {
			return nil, false, fmt.Errorf("checking for duplicate job: %w", err)
		}
		if existing != nil {
			s.logger.Debug("returning existing active job",
				slog.String("queue", queue),
				slog.String("dedup_key", opts.DedupKey),
				slog.String("job_id", existing.ID.String()))
			return existing, true, nil
		}
	}

	job := &models.Job{
		Queue:          queue,
		Name:           name,
		DedupKey:       opts.DedupKey,
		Status:         models.JobStatusPending,
		MaxAttempts:    opts.MaxAttempts,
		BackoffSeconds: opts.BackoffSeconds,
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}
	if job.BackoffSeconds <= 0 {
		job.BackoffSeconds = 5
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, false, fmt.Errorf("encoding job payload: %w", err)
		}
		job.Payload = data
	}

	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, false, fmt.Errorf("creating job: %w", err)
	}

	s.logger.Info("enqueued job",
		slog.String("queue", queue),
		slog.String("name", name),
		slog.String("job_id", job.ID.String()))

	return job, false, nil
}
