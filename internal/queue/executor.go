package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sifterhq/sifter/internal/models"
	"github.com/sifterhq/sifter/internal/repository"
)

// Handler executes jobs from one queue.
type Handler interface {
	// Execute runs the job and returns a result string or error.
	Execute(ctx context.Context, stage StageContext) (string, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, stage StageContext) (string, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, stage StageContext) (string, error) {
	return f(ctx, stage)
}

// Executor dispatches acquired jobs to per-queue handlers and manages
// job status, retry scheduling, and history.
type Executor struct {
	handlers map[string]Handler
	jobRepo  repository.JobRepository
	logger   *slog.Logger
}

// NewExecutor creates a new job executor.
func NewExecutor(jobRepo repository.JobRepository) *Executor {
	return &Executor{
		handlers: make(map[string]Handler),
		jobRepo:  jobRepo,
		logger:   slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = logger
	return e
}

// RegisterHandler registers a handler for a queue.
func (e *Executor) RegisterHandler(queue string, handler Handler) {
	e.handlers[queue] = handler
}

// RegisterHandlerFunc registers a function handler for a queue.
func (e *Executor) RegisterHandlerFunc(queue string, fn HandlerFunc) {
	e.handlers[queue] = HandlerFunc(fn)
}

// Queues returns the queue names with registered handlers.
func (e *Executor) Queues() []string {
	queues := make([]string, 0, len(e.handlers))
	for q := range e.handlers {
		queues = append(queues, q)
	}
	return queues
}

// Execute runs a job and updates its status.
func (e *Executor) Execute(ctx context.Context, job *models.Job) error {
	handler, ok := e.handlers[job.Queue]
	if !ok {
		return fmt.Errorf("no handler registered for queue: %s", job.Queue)
	}

	e.logger.Info("executing job",
		slog.String("job_id", job.ID.String()),
		slog.String("queue", job.Queue),
		slog.String("name", job.Name))

	stage := newJobStage(job, e.jobRepo, e.logger)
	result, err := handler.Execute(ctx, stage)

	if err != nil {
		e.logger.Error("job failed",
			slog.String("job_id", job.ID.String()),
			slog.String("queue", job.Queue),
			slog.Any("error", err))

		job.MarkFailed(err)

		if job.CanRetry() {
			job.ScheduleRetry()
			e.logger.Info("job scheduled for retry",
				slog.String("job_id", job.ID.String()),
				slog.Int("attempt", job.AttemptCount),
				slog.Time("next_run", job.NextRunAt.UTC()))
		}
	} else {
		e.logger.Info("job completed",
			slog.String("job_id", job.ID.String()),
			slog.String("queue", job.Queue),
			slog.String("result", result))

		job.MarkCompleted(result)
	}

	if err := e.jobRepo.Update(ctx, job); err != nil {
		e.logger.Error("failed to update job status",
			slog.String("job_id", job.ID.String()),
			slog.Any("error", err))
		return fmt.Errorf("updating job status: %w", err)
	}

	if job.IsFinished() {
		e.createHistoryRecord(ctx, job)
	}

	return nil
}

// createHistoryRecord creates a job history record.
func (e *Executor) createHistoryRecord(ctx context.Context, job *models.Job) {
	history := &models.JobHistory{
		JobID:         job.ID,
		Queue:         job.Queue,
		Name:          job.Name,
		DedupKey:      job.DedupKey,
		Status:        job.Status,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
		DurationMs:    job.DurationMs,
		AttemptNumber: job.AttemptCount,
		Error:         job.LastError,
		Result:        job.Result,
	}

	if err := e.jobRepo.CreateHistory(ctx, history); err != nil {
		e.logger.Error("failed to create job history",
			slog.String("job_id", job.ID.String()),
			slog.Any("error", err))
	}
}
