package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/sifterhq/sifter/internal/models"
	"gorm.io/gorm"
)

// episodeRepo implements EpisodeRepository using GORM.
type episodeRepo struct {
	db *gorm.DB
}

// NewEpisodeRepository creates a new EpisodeRepository.
func NewEpisodeRepository(db *gorm.DB) *episodeRepo {
	return &episodeRepo{db: db}
}

// Create creates a new episode.
func (r *episodeRepo) Create(ctx context.Context, episode *models.Episode) error {
	if err := r.db.WithContext(ctx).Create(episode).Error; err != nil {
		return fmt.Errorf("creating episode: %w", err)
	}
	return nil
}

// GetByID retrieves an episode by ID.
func (r *episodeRepo) GetByID(ctx context.Context, id models.ULID) (*models.Episode, error) {
	var episode models.Episode
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&episode).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting episode by ID: %w", err)
	}
	return &episode, nil
}

// GetByGUID retrieves an episode by podcast and feed GUID.
func (r *episodeRepo) GetByGUID(ctx context.Context, podcastID models.ULID, guid string) (*models.Episode, error) {
	var episode models.Episode
	err := r.db.WithContext(ctx).
		Where("podcast_id = ? AND guid = ?", podcastID, guid).
		First(&episode).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting episode by GUID: %w", err)
	}
	return &episode, nil
}

// GetByPodcastID retrieves all episodes for a podcast, newest first.
func (r *episodeRepo) GetByPodcastID(ctx context.Context, podcastID models.ULID) ([]*models.Episode, error) {
	var episodes []*models.Episode
	err := r.db.WithContext(ctx).
		Where("podcast_id = ?", podcastID).
		Order("published_at DESC").
		Find(&episodes).Error
	if err != nil {
		return nil, fmt.Errorf("getting episodes by podcast ID: %w", err)
	}
	return episodes, nil
}

// GetRecentByPodcasts retrieves episodes published since the cutoff
// across the given podcasts, newest first.
func (r *episodeRepo) GetRecentByPodcasts(ctx context.Context, podcastIDs []models.ULID, since time.Time) ([]*models.Episode, error) {
	if len(podcastIDs) == 0 {
		return nil, nil
	}

	var episodes []*models.Episode
	err := r.db.WithContext(ctx).
		Where("podcast_id IN ? AND published_at >= ?", podcastIDs, since).
		Order("published_at DESC").
		Find(&episodes).Error
	if err != nil {
		return nil, fmt.Errorf("getting recent episodes: %w", err)
	}
	return episodes, nil
}

// Update updates an existing episode.
func (r *episodeRepo) Update(ctx context.Context, episode *models.Episode) error {
	if err := r.db.WithContext(ctx).Save(episode).Error; err != nil {
		return fmt.Errorf("updating episode: %w", err)
	}
	return nil
}

// Delete deletes an episode by ID.
func (r *episodeRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Episode{}).Error; err != nil {
		return fmt.Errorf("deleting episode: %w", err)
	}
	return nil
}

// TransitionStatus performs a conditional status update. The UPDATE's
// WHERE clause carries the expected statuses, so a concurrent worker
// that already moved the episode causes zero rows affected.
func (r *episodeRepo) TransitionStatus(ctx context.Context, id models.ULID, from []models.EpisodeStatus, to models.EpisodeStatus) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Episode{}).
		Where("id = ? AND status IN ?", id, from).
		UpdateColumn("status", to)
	if result.Error != nil {
		return false, fmt.Errorf("transitioning episode status: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SaveTranscript persists the merged transcript, its duration, and the
// transcribed status in one update.
func (r *episodeRepo) SaveTranscript(ctx context.Context, id models.ULID, transcript *models.Transcript) error {
	result := r.db.WithContext(ctx).Model(&models.Episode{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"transcript": transcript,
			"duration":   transcript.Duration,
			"status":     models.EpisodeStatusTranscribed,
			"last_error": "",
		})
	if result.Error != nil {
		return fmt.Errorf("saving transcript: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// MarkFailed records a stage failure on the episode.
func (r *episodeRepo) MarkFailed(ctx context.Context, id models.ULID, stageErr error) error {
	msg := ""
	if stageErr != nil {
		msg = stageErr.Error()
	}
	result := r.db.WithContext(ctx).Model(&models.Episode{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.EpisodeStatusFailed,
			"last_error": msg,
		})
	if result.Error != nil {
		return fmt.Errorf("marking episode failed: %w", result.Error)
	}
	return nil
}

// Ensure episodeRepo implements EpisodeRepository at compile time.
var _ EpisodeRepository = (*episodeRepo)(nil)
