package repository

import (
	"context"
	"fmt"

	"github.com/sifterhq/sifter/internal/models"
	"gorm.io/gorm"
)

// digestRepo implements DigestRepository using GORM.
type digestRepo struct {
	db *gorm.DB
}

// NewDigestRepository creates a new DigestRepository.
func NewDigestRepository(db *gorm.DB) *digestRepo {
	return &digestRepo{db: db}
}

// Create creates a new digest.
func (r *digestRepo) Create(ctx context.Context, digest *models.Digest) error {
	if err := r.db.WithContext(ctx).Create(digest).Error; err != nil {
		return fmt.Errorf("creating digest: %w", err)
	}
	return nil
}

// GetByID retrieves a digest by ID.
func (r *digestRepo) GetByID(ctx context.Context, id models.ULID) (*models.Digest, error) {
	var digest models.Digest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&digest).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting digest by ID: %w", err)
	}
	return &digest, nil
}

// GetByShareID retrieves a public digest by its share ID.
func (r *digestRepo) GetByShareID(ctx context.Context, shareID string) (*models.Digest, error) {
	var digest models.Digest
	err := r.db.WithContext(ctx).
		Where("share_id = ? AND is_public = ?", shareID, true).
		First(&digest).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting digest by share ID: %w", err)
	}
	return &digest, nil
}

// GetByUserID retrieves a user's digests, newest first.
func (r *digestRepo) GetByUserID(ctx context.Context, userID models.ULID) ([]*models.Digest, error) {
	var digests []*models.Digest
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&digests).Error
	if err != nil {
		return nil, fmt.Errorf("getting digests by user ID: %w", err)
	}
	return digests, nil
}

// Update updates an existing digest.
func (r *digestRepo) Update(ctx context.Context, digest *models.Digest) error {
	if err := r.db.WithContext(ctx).Save(digest).Error; err != nil {
		return fmt.Errorf("updating digest: %w", err)
	}
	return nil
}

// Delete deletes a digest and its clip associations.
func (r *digestRepo) Delete(ctx context.Context, id models.ULID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("digest_id = ?", id).Delete(&models.DigestClip{}).Error; err != nil {
			return fmt.Errorf("deleting digest clips: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.Digest{}).Error; err != nil {
			return fmt.Errorf("deleting digest: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting digest: %w", err)
	}
	return nil
}

// TransitionStatus performs a conditional status update guarded by the
// expected current statuses.
func (r *digestRepo) TransitionStatus(ctx context.Context, id models.ULID, from []models.DigestStatus, to models.DigestStatus) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Digest{}).
		Where("id = ? AND status IN ?", id, from).
		UpdateColumn("status", to)
	if result.Error != nil {
		return false, fmt.Errorf("transitioning digest status: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SetClips replaces the digest's ordered clip associations. Order is
// assigned from slice position, and the narrator script is cleared since
// it no longer matches the clip sequence.
func (r *digestRepo) SetClips(ctx context.Context, digestID models.ULID, clipIDs []models.ULID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("digest_id = ?", digestID).Delete(&models.DigestClip{}).Error; err != nil {
			return fmt.Errorf("deleting existing digest clips: %w", err)
		}

		for i, clipID := range clipIDs {
			dc := &models.DigestClip{
				DigestID: digestID,
				ClipID:   clipID,
				Order:    i,
			}
			if err := tx.Create(dc).Error; err != nil {
				return fmt.Errorf("creating digest clip %d: %w", i, err)
			}
		}

		err := tx.Model(&models.Clip{}).
			Where("id IN ?", clipIDs).
			UpdateColumn("digest_id", digestID).Error
		if err != nil {
			return fmt.Errorf("back-referencing clips: %w", err)
		}

		err = tx.Model(&models.Digest{}).
			Where("id = ?", digestID).
			UpdateColumn("narrator_script", "").Error
		if err != nil {
			return fmt.Errorf("clearing narrator script: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("setting digest clips: %w", err)
	}
	return nil
}

// GetClips returns the digest's clips in playback order with the clip
// chain preloaded for script generation and assembly.
func (r *digestRepo) GetClips(ctx context.Context, digestID models.ULID) ([]*models.DigestClip, error) {
	var clips []*models.DigestClip
	err := r.db.WithContext(ctx).
		Where("digest_id = ?", digestID).
		Preload("Clip").
		Preload("Clip.Episode").
		Preload("Clip.Episode.Podcast").
		Order("position ASC").
		Find(&clips).Error
	if err != nil {
		return nil, fmt.Errorf("getting digest clips: %w", err)
	}
	return clips, nil
}

// MarkFailed records a pipeline failure on the digest.
func (r *digestRepo) MarkFailed(ctx context.Context, id models.ULID, stageErr error) error {
	msg := ""
	if stageErr != nil {
		msg = stageErr.Error()
	}
	result := r.db.WithContext(ctx).Model(&models.Digest{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.DigestStatusFailed,
			"last_error": msg,
		})
	if result.Error != nil {
		return fmt.Errorf("marking digest failed: %w", result.Error)
	}
	return nil
}

// Ensure digestRepo implements DigestRepository at compile time.
var _ DigestRepository = (*digestRepo)(nil)
