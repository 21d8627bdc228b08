package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sifterhq/sifter/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupJobTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.Job{}, &models.JobHistory{})
	require.NoError(t, err)

	return db
}

func TestJobRepo_Create(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &models.Job{
		Queue:    models.QueueTranscription,
		Name:     "transcribe-episode",
		DedupKey: "transcription-01ABC",
		Status:   models.JobStatusPending,
	}

	err := repo.Create(ctx, job)
	require.NoError(t, err)
	assert.False(t, job.ID.IsZero())

	found, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, models.QueueTranscription, found.Queue)
	assert.Equal(t, "transcription-01ABC", found.DedupKey)
}

func TestJobRepo_Create_RequiresQueue(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)

	err := repo.Create(context.Background(), &models.Job{Name: "no-queue"})
	assert.ErrorIs(t, err, models.ErrQueueRequired)
}

func TestJobRepo_GetPending_FiltersByQueue(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.Job{Queue: models.QueueTranscription, Status: models.JobStatusPending}))
	require.NoError(t, repo.Create(ctx, &models.Job{Queue: models.QueueAnalysis, Status: models.JobStatusPending}))
	require.NoError(t, repo.Create(ctx, &models.Job{Queue: models.QueueDigest, Status: models.JobStatusCompleted}))

	jobs, err := repo.GetPending(ctx, []string{models.QueueTranscription})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.QueueTranscription, jobs[0].Queue)

	all, err := repo.GetPending(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestJobRepo_GetPending_SkipsFutureScheduled(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	future := models.Now().Add(time.Hour)
	past := models.Now().Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, &models.Job{
		Queue: models.QueueTranscription, Status: models.JobStatusScheduled, NextRunAt: &future,
	}))
	require.NoError(t, repo.Create(ctx, &models.Job{
		Queue: models.QueueTranscription, Status: models.JobStatusScheduled, NextRunAt: &past,
	}))

	jobs, err := repo.GetPending(ctx, nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].NextRunAt.Before(models.Now()))
}

func TestJobRepo_AcquireJob(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &models.Job{Queue: models.QueueTranscription, Status: models.JobStatusPending}
	require.NoError(t, repo.Create(ctx, job))

	acquired, err := repo.AcquireJob(ctx, "worker-1", nil)
	require.NoError(t, err)
	require.NotNil(t, acquired)
	assert.Equal(t, job.ID, acquired.ID)
	assert.Equal(t, models.JobStatusRunning, acquired.Status)
	assert.Equal(t, "worker-1", acquired.LockedBy)
	assert.Equal(t, 1, acquired.AttemptCount)

	// A second acquire finds nothing.
	second, err := repo.AcquireJob(ctx, "worker-2", nil)
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestJobRepo_AcquireJob_QueueFilter(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.Job{Queue: models.QueueAnalysis, Status: models.JobStatusPending}))

	acquired, err := repo.AcquireJob(ctx, "worker-1", []string{models.QueueTranscription})
	require.NoError(t, err)
	assert.Nil(t, acquired)

	acquired, err = repo.AcquireJob(ctx, "worker-1", []string{models.QueueAnalysis})
	require.NoError(t, err)
	require.NotNil(t, acquired)
	assert.Equal(t, models.QueueAnalysis, acquired.Queue)
}

func TestJobRepo_ReleaseJob(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &models.Job{Queue: models.QueueDigest, Status: models.JobStatusPending}
	require.NoError(t, repo.Create(ctx, job))

	acquired, err := repo.AcquireJob(ctx, "worker-1", nil)
	require.NoError(t, err)
	require.NotNil(t, acquired)

	require.NoError(t, repo.ReleaseJob(ctx, acquired.ID))

	released, err := repo.GetByID(ctx, acquired.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, released.Status)
	assert.Empty(t, released.LockedBy)
}

func TestJobRepo_FindDuplicateActive(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &models.Job{
		Queue:    models.QueueTranscription,
		DedupKey: "transcription-01EP",
		Status:   models.JobStatusPending,
	}
	require.NoError(t, repo.Create(ctx, job))

	dup, err := repo.FindDuplicateActive(ctx, models.QueueTranscription, "transcription-01EP")
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, job.ID, dup.ID)

	// Different key or queue finds nothing.
	dup, err = repo.FindDuplicateActive(ctx, models.QueueTranscription, "transcription-OTHER")
	require.NoError(t, err)
	assert.Nil(t, dup)

	dup, err = repo.FindDuplicateActive(ctx, models.QueueAnalysis, "transcription-01EP")
	require.NoError(t, err)
	assert.Nil(t, dup)

	// Empty key disables deduplication.
	dup, err = repo.FindDuplicateActive(ctx, models.QueueTranscription, "")
	require.NoError(t, err)
	assert.Nil(t, dup)
}

func TestJobRepo_FindDuplicateActive_IgnoresFinished(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &models.Job{
		Queue:    models.QueueTranscription,
		DedupKey: "transcription-01EP",
		Status:   models.JobStatusCompleted,
	}
	require.NoError(t, repo.Create(ctx, job))

	dup, err := repo.FindDuplicateActive(ctx, models.QueueTranscription, "transcription-01EP")
	require.NoError(t, err)
	assert.Nil(t, dup)
}

func TestJobRepo_UpdateProgress(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	job := &models.Job{Queue: models.QueueTranscription, Status: models.JobStatusRunning}
	require.NoError(t, repo.Create(ctx, job))

	require.NoError(t, repo.UpdateProgress(ctx, job.ID, 40))

	found, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, found.Progress)

	// Progress is clamped.
	require.NoError(t, repo.UpdateProgress(ctx, job.ID, 150))
	found, err = repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, found.Progress)
}

func TestJobRepo_RecoverStale(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	stale := models.Now().Add(-2 * time.Hour)
	fresh := models.Now()

	staleJob := &models.Job{Queue: models.QueueTranscription, Status: models.JobStatusRunning, LockedBy: "dead-worker", LockedAt: &stale}
	freshJob := &models.Job{Queue: models.QueueTranscription, Status: models.JobStatusRunning, LockedBy: "live-worker", LockedAt: &fresh}
	require.NoError(t, repo.Create(ctx, staleJob))
	require.NoError(t, repo.Create(ctx, freshJob))

	recovered, err := repo.RecoverStale(ctx, models.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), recovered)

	found, err := repo.GetByID(ctx, staleJob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, found.Status)
	assert.Empty(t, found.LockedBy)

	found, err = repo.GetByID(ctx, freshJob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, found.Status)
}

func TestJobRepo_DeleteFinished(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	old := models.Now().Add(-48 * time.Hour)
	recent := models.Now()

	oldJob := &models.Job{Queue: models.QueueDigest, Status: models.JobStatusCompleted, CompletedAt: &old}
	recentJob := &models.Job{Queue: models.QueueDigest, Status: models.JobStatusCompleted, CompletedAt: &recent}
	pendingJob := &models.Job{Queue: models.QueueDigest, Status: models.JobStatusPending}
	require.NoError(t, repo.Create(ctx, oldJob))
	require.NoError(t, repo.Create(ctx, recentJob))
	require.NoError(t, repo.Create(ctx, pendingJob))

	deleted, err := repo.DeleteFinished(ctx, models.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	found, err := repo.GetByID(ctx, oldJob.ID)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestJobRepo_History(t *testing.T) {
	db := setupJobTestDB(t)
	repo := NewJobRepository(db)
	ctx := context.Background()

	completed := models.Now()
	history := &models.JobHistory{
		JobID:         models.NewULID(),
		Queue:         models.QueueTranscription,
		Name:          "transcribe-episode",
		Status:        models.JobStatusCompleted,
		CompletedAt:   &completed,
		AttemptNumber: 1,
	}
	require.NoError(t, repo.CreateHistory(ctx, history))

	records, total, err := repo.GetHistory(ctx, models.QueueTranscription, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, records, 1)
	assert.Equal(t, history.JobID, records[0].JobID)

	records, total, err = repo.GetHistory(ctx, models.QueueDigest, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.Empty(t, records)

	deleted, err := repo.DeleteHistory(ctx, models.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
