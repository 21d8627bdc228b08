package repository

import (
	"context"
	"fmt"

	"github.com/sifterhq/sifter/internal/models"
	"gorm.io/gorm"
)

// podcastRepo implements PodcastRepository using GORM.
type podcastRepo struct {
	db *gorm.DB
}

// NewPodcastRepository creates a new PodcastRepository.
func NewPodcastRepository(db *gorm.DB) *podcastRepo {
	return &podcastRepo{db: db}
}

// Create creates a new podcast.
func (r *podcastRepo) Create(ctx context.Context, podcast *models.Podcast) error {
	if err := r.db.WithContext(ctx).Create(podcast).Error; err != nil {
		return fmt.Errorf("creating podcast: %w", err)
	}
	return nil
}

// GetByID retrieves a podcast by ID.
func (r *podcastRepo) GetByID(ctx context.Context, id models.ULID) (*models.Podcast, error) {
	var podcast models.Podcast
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&podcast).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting podcast by ID: %w", err)
	}
	return &podcast, nil
}

// GetByRSSURL retrieves a podcast by its feed URL.
func (r *podcastRepo) GetByRSSURL(ctx context.Context, rssURL string) (*models.Podcast, error) {
	var podcast models.Podcast
	if err := r.db.WithContext(ctx).Where("rss_url = ?", rssURL).First(&podcast).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting podcast by RSS URL: %w", err)
	}
	return &podcast, nil
}

// GetAll retrieves all podcasts.
func (r *podcastRepo) GetAll(ctx context.Context) ([]*models.Podcast, error) {
	var podcasts []*models.Podcast
	if err := r.db.WithContext(ctx).Order("title ASC").Find(&podcasts).Error; err != nil {
		return nil, fmt.Errorf("getting all podcasts: %w", err)
	}
	return podcasts, nil
}

// Update updates an existing podcast.
func (r *podcastRepo) Update(ctx context.Context, podcast *models.Podcast) error {
	if err := r.db.WithContext(ctx).Save(podcast).Error; err != nil {
		return fmt.Errorf("updating podcast: %w", err)
	}
	return nil
}

// Delete deletes a podcast by ID.
func (r *podcastRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Podcast{}).Error; err != nil {
		return fmt.Errorf("deleting podcast: %w", err)
	}
	return nil
}

// TouchLastChecked records a feed poll timestamp.
func (r *podcastRepo) TouchLastChecked(ctx context.Context, id models.ULID) error {
	err := r.db.WithContext(ctx).Model(&models.Podcast{}).
		Where("id = ?", id).
		UpdateColumn("last_checked_at", models.Now()).Error
	if err != nil {
		return fmt.Errorf("touching last checked: %w", err)
	}
	return nil
}

// Ensure podcastRepo implements PodcastRepository at compile time.
var _ PodcastRepository = (*podcastRepo)(nil)
