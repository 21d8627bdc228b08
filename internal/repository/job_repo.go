package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/sifterhq/sifter/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// jobRepo implements JobRepository using GORM.
type jobRepo struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *gorm.DB) *jobRepo {
	return &jobRepo{db: db}
}

// Create creates a new job.
func (r *jobRepo) Create(ctx context.Context, job *models.Job) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by ID.
func (r *jobRepo) GetByID(ctx context.Context, id models.ULID) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting job by ID: %w", err)
	}
	return &job, nil
}

// runnableClause matches jobs eligible for execution now.
func runnableClause(tx *gorm.DB, queues []string, now time.Time) *gorm.DB {
	q := tx.
		Where("(status = ? OR (status = ? AND next_run_at <= ?))",
			models.JobStatusPending, models.JobStatusScheduled, now).
		Where("locked_by IS NULL OR locked_by = ''")
	if len(queues) > 0 {
		q = q.Where("queue IN ?", queues)
	}
	return q
}

// GetPending retrieves runnable jobs, optionally filtered by queue.
func (r *jobRepo) GetPending(ctx context.Context, queues []string) ([]*models.Job, error) {
	var jobs []*models.Job
	query := runnableClause(r.db.WithContext(ctx), queues, time.Now()).
		Order("next_run_at ASC, created_at ASC")
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("getting pending jobs: %w", err)
	}
	return jobs, nil
}

// GetRunning retrieves all currently running jobs.
func (r *jobRepo) GetRunning(ctx context.Context) ([]*models.Job, error) {
	var jobs []*models.Job
	if err := r.db.WithContext(ctx).Where("status = ?", models.JobStatusRunning).Order("started_at ASC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("getting running jobs: %w", err)
	}
	return jobs, nil
}

// Update updates an existing job.
func (r *jobRepo) Update(ctx context.Context, job *models.Job) error {
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	return nil
}

// Delete deletes a job by ID.
func (r *jobRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Job{}).Error; err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	return nil
}

// AcquireJob atomically acquires a runnable job for execution.
// Uses SELECT FOR UPDATE with SKIP LOCKED for safe concurrent access.
func (r *jobRepo) AcquireJob(ctx context.Context, workerID string, queues []string) (*models.Job, error) {
	var job models.Job
	now := time.Now()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := runnableClause(tx, queues, now).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Order("next_run_at ASC, created_at ASC").
			Limit(1)

		if err := query.First(&job).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return err
			}
			return fmt.Errorf("finding runnable job: %w", err)
		}

		job.MarkRunning(workerID)
		if err := tx.Save(&job).Error; err != nil {
			return fmt.Errorf("acquiring job: %w", err)
		}
		return nil
	})

	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// ReleaseJob drops a worker's claim and returns the job to pending.
func (r *jobRepo) ReleaseJob(ctx context.Context, id models.ULID) error {
	result := r.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"locked_by": nil,
			"locked_at": nil,
			"status":    models.JobStatusPending,
		})
	if result.Error != nil {
		return fmt.Errorf("releasing job: %w", result.Error)
	}
	return nil
}

// FindDuplicateActive finds a pending, scheduled, or running job holding
// the given dedup key.
func (r *jobRepo) FindDuplicateActive(ctx context.Context, queue, dedupKey string) (*models.Job, error) {
	if dedupKey == "" {
		return nil, nil
	}

	var job models.Job
	err := r.db.WithContext(ctx).
		Where("queue = ? AND dedup_key = ? AND status IN (?, ?, ?)",
			queue, dedupKey,
			models.JobStatusPending, models.JobStatusScheduled, models.JobStatusRunning).
		First(&job).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("finding duplicate active job: %w", err)
	}
	return &job, nil
}

// UpdateProgress sets the job's progress percentage.
func (r *jobRepo) UpdateProgress(ctx context.Context, id models.ULID, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ?", id).
		UpdateColumn("progress", progress).Error
	if err != nil {
		return fmt.Errorf("updating job progress: %w", err)
	}
	return nil
}

// RecoverStale returns jobs whose locks predate the cutoff to pending.
// Covers workers that died mid-job without releasing their claim.
func (r *jobRepo) RecoverStale(ctx context.Context, lockedBefore time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("status = ? AND locked_at < ?", models.JobStatusRunning, lockedBefore).
		UpdateColumns(map[string]interface{}{
			"locked_by": nil,
			"locked_at": nil,
			"status":    models.JobStatusPending,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("recovering stale jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteFinished deletes completed and failed jobs older than before.
func (r *jobRepo) DeleteFinished(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status IN (?, ?) AND completed_at < ?",
			models.JobStatusCompleted, models.JobStatusFailed, before).
		Delete(&models.Job{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting finished jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CreateHistory creates a job history record.
func (r *jobRepo) CreateHistory(ctx context.Context, history *models.JobHistory) error {
	if err := r.db.WithContext(ctx).Create(history).Error; err != nil {
		return fmt.Errorf("creating job history: %w", err)
	}
	return nil
}

// GetHistory retrieves job history with pagination, optionally filtered
// by queue.
func (r *jobRepo) GetHistory(ctx context.Context, queue string, offset, limit int) ([]*models.JobHistory, int64, error) {
	var history []*models.JobHistory
	var total int64

	query := r.db.WithContext(ctx).Model(&models.JobHistory{})
	if queue != "" {
		query = query.Where("queue = ?", queue)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting job history: %w", err)
	}

	if err := query.Order("completed_at DESC").Offset(offset).Limit(limit).Find(&history).Error; err != nil {
		return nil, 0, fmt.Errorf("getting job history: %w", err)
	}
	return history, total, nil
}

// DeleteHistory deletes history records older than the specified time.
func (r *jobRepo) DeleteHistory(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("completed_at < ?", before).
		Delete(&models.JobHistory{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting job history: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Ensure jobRepo implements JobRepository at compile time.
var _ JobRepository = (*jobRepo)(nil)
