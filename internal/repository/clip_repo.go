package repository

import (
	"context"
	"fmt"

	"github.com/sifterhq/sifter/internal/models"
	"gorm.io/gorm"
)

// clipRepo implements ClipRepository using GORM.
type clipRepo struct {
	db *gorm.DB
}

// NewClipRepository creates a new ClipRepository.
func NewClipRepository(db *gorm.DB) *clipRepo {
	return &clipRepo{db: db}
}

// GetByID retrieves a clip by ID.
func (r *clipRepo) GetByID(ctx context.Context, id models.ULID) (*models.Clip, error) {
	var clip models.Clip
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&clip).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting clip by ID: %w", err)
	}
	return &clip, nil
}

// GetByEpisodeID retrieves an episode's clips ordered by start time.
func (r *clipRepo) GetByEpisodeID(ctx context.Context, episodeID models.ULID) ([]*models.Clip, error) {
	var clips []*models.Clip
	err := r.db.WithContext(ctx).
		Where("episode_id = ?", episodeID).
		Order("start_time ASC").
		Find(&clips).Error
	if err != nil {
		return nil, fmt.Errorf("getting clips by episode ID: %w", err)
	}
	return clips, nil
}

// GetCandidates returns clips for the given episodes ordered by
// relevance score descending. Episode and podcast are preloaded for the
// curation prompt.
func (r *clipRepo) GetCandidates(ctx context.Context, episodeIDs []models.ULID) ([]*models.Clip, error) {
	if len(episodeIDs) == 0 {
		return nil, nil
	}

	var clips []*models.Clip
	err := r.db.WithContext(ctx).
		Where("episode_id IN ?", episodeIDs).
		Preload("Episode").
		Preload("Episode.Podcast").
		Order("relevance_score DESC").
		Find(&clips).Error
	if err != nil {
		return nil, fmt.Errorf("getting candidate clips: %w", err)
	}
	return clips, nil
}

// ReplaceForEpisode deletes the episode's existing clips and inserts the
// new set in a single transaction.
func (r *clipRepo) ReplaceForEpisode(ctx context.Context, episodeID models.ULID, clips []*models.Clip) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("episode_id = ?", episodeID).Delete(&models.Clip{}).Error; err != nil {
			return fmt.Errorf("deleting existing clips: %w", err)
		}
		if len(clips) == 0 {
			return nil
		}
		for _, clip := range clips {
			clip.EpisodeID = episodeID
		}
		if err := tx.Create(clips).Error; err != nil {
			return fmt.Errorf("creating clips: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replacing clips for episode: %w", err)
	}
	return nil
}

// Delete deletes a clip by ID.
func (r *clipRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Clip{}).Error; err != nil {
		return fmt.Errorf("deleting clip: %w", err)
	}
	return nil
}

// Ensure clipRepo implements ClipRepository at compile time.
var _ ClipRepository = (*clipRepo)(nil)
