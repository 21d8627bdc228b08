// Package repository provides data access interfaces and GORM
// implementations for sifter entities.
package repository

import (
	"context"
	"time"

	"github.com/sifterhq/sifter/internal/models"
)

// UserRepository defines the interface for user data access.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id models.ULID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetAll(ctx context.Context) ([]*models.User, error)
	GetByFrequency(ctx context.Context, freq models.Frequency) ([]*models.User, error)
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id models.ULID) error

	Subscribe(ctx context.Context, userID, podcastID models.ULID) error
	Unsubscribe(ctx context.Context, userID, podcastID models.ULID) error
	GetSubscriptions(ctx context.Context, userID models.ULID) ([]*models.Subscription, error)
}

// PodcastRepository defines the interface for podcast data access.
type PodcastRepository interface {
	Create(ctx context.Context, podcast *models.Podcast) error
	GetByID(ctx context.Context, id models.ULID) (*models.Podcast, error)
	GetByRSSURL(ctx context.Context, rssURL string) (*models.Podcast, error)
	GetAll(ctx context.Context) ([]*models.Podcast, error)
	Update(ctx context.Context, podcast *models.Podcast) error
	Delete(ctx context.Context, id models.ULID) error
	TouchLastChecked(ctx context.Context, id models.ULID) error
}

// EpisodeRepository defines the interface for episode data access.
type EpisodeRepository interface {
	Create(ctx context.Context, episode *models.Episode) error
	GetByID(ctx context.Context, id models.ULID) (*models.Episode, error)
	GetByGUID(ctx context.Context, podcastID models.ULID, guid string) (*models.Episode, error)
	GetByPodcastID(ctx context.Context, podcastID models.ULID) ([]*models.Episode, error)
	GetRecentByPodcasts(ctx context.Context, podcastIDs []models.ULID, since time.Time) ([]*models.Episode, error)
	Update(ctx context.Context, episode *models.Episode) error
	Delete(ctx context.Context, id models.ULID) error

	// TransitionStatus performs a conditional status update. It succeeds
	// only when the episode currently holds one of the expected statuses,
	// returning false when another worker got there first.
	TransitionStatus(ctx context.Context, id models.ULID, from []models.EpisodeStatus, to models.EpisodeStatus) (bool, error)

	// SaveTranscript persists the merged transcript, duration, and the
	// transcribed status in a single update.
	SaveTranscript(ctx context.Context, id models.ULID, transcript *models.Transcript) error

	// MarkFailed records a stage failure.
	MarkFailed(ctx context.Context, id models.ULID, stageErr error) error
}

// ClipRepository defines the interface for clip data access.
type ClipRepository interface {
	GetByID(ctx context.Context, id models.ULID) (*models.Clip, error)
	GetByEpisodeID(ctx context.Context, episodeID models.ULID) ([]*models.Clip, error)

	// GetCandidates returns clips for the given episodes ordered by
	// relevance score descending, with episode and podcast preloaded.
	GetCandidates(ctx context.Context, episodeIDs []models.ULID) ([]*models.Clip, error)

	// ReplaceForEpisode deletes the episode's existing clips and inserts
	// the new set atomically. Re-analysis replaces clips wholesale.
	ReplaceForEpisode(ctx context.Context, episodeID models.ULID, clips []*models.Clip) error

	Delete(ctx context.Context, id models.ULID) error
}

// DigestRepository defines the interface for digest data access.
type DigestRepository interface {
	Create(ctx context.Context, digest *models.Digest) error
	GetByID(ctx context.Context, id models.ULID) (*models.Digest, error)
	GetByShareID(ctx context.Context, shareID string) (*models.Digest, error)
	GetByUserID(ctx context.Context, userID models.ULID) ([]*models.Digest, error)
	Update(ctx context.Context, digest *models.Digest) error
	Delete(ctx context.Context, id models.ULID) error

	// TransitionStatus performs a conditional status update, analogous to
	// EpisodeRepository.TransitionStatus.
	TransitionStatus(ctx context.Context, id models.ULID, from []models.DigestStatus, to models.DigestStatus) (bool, error)

	// SetClips replaces the digest's ordered clip associations.
	SetClips(ctx context.Context, digestID models.ULID, clipIDs []models.ULID) error

	// GetClips returns the digest's clips in playback order with clip,
	// episode, and podcast preloaded.
	GetClips(ctx context.Context, digestID models.ULID) ([]*models.DigestClip, error)

	MarkFailed(ctx context.Context, id models.ULID, stageErr error) error
}

// JobRepository defines the interface for queue job data access.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id models.ULID) (*models.Job, error)
	GetPending(ctx context.Context, queues []string) ([]*models.Job, error)
	GetRunning(ctx context.Context) ([]*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
	Delete(ctx context.Context, id models.ULID) error

	// AcquireJob atomically claims the next runnable job from the given
	// queues for the worker. Returns nil when no job is available.
	AcquireJob(ctx context.Context, workerID string, queues []string) (*models.Job, error)

	// ReleaseJob drops a worker's claim, returning the job to pending.
	ReleaseJob(ctx context.Context, id models.ULID) error

	// FindDuplicateActive finds a pending, scheduled, or running job
	// holding the given dedup key.
	FindDuplicateActive(ctx context.Context, queue, dedupKey string) (*models.Job, error)

	// UpdateProgress sets the job's progress percentage.
	UpdateProgress(ctx context.Context, id models.ULID, progress int) error

	// RecoverStale returns jobs whose locks are older than the cutoff to
	// pending so another worker can pick them up.
	RecoverStale(ctx context.Context, lockedBefore time.Time) (int64, error)

	// DeleteFinished deletes completed and failed jobs older than before.
	DeleteFinished(ctx context.Context, before time.Time) (int64, error)

	CreateHistory(ctx context.Context, history *models.JobHistory) error
	GetHistory(ctx context.Context, queue string, offset, limit int) ([]*models.JobHistory, int64, error)
	DeleteHistory(ctx context.Context, before time.Time) (int64, error)
}
