package repository

import (
	"context"
	"fmt"

	"github.com/sifterhq/sifter/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// userRepo implements UserRepository using GORM.
type userRepo struct {
	db *gorm.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *gorm.DB) *userRepo {
	return &userRepo{db: db}
}

// Create creates a new user.
func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *userRepo) GetByID(ctx context.Context, id models.ULID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting user by ID: %w", err)
	}
	return &user, nil
}

// GetByEmail retrieves a user by email.
func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting user by email: %w", err)
	}
	return &user, nil
}

// GetAll retrieves all users.
func (r *userRepo) GetAll(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("getting all users: %w", err)
	}
	return users, nil
}

// GetByFrequency retrieves users with the given digest frequency.
func (r *userRepo) GetByFrequency(ctx context.Context, freq models.Frequency) ([]*models.User, error) {
	var users []*models.User
	if err := r.db.WithContext(ctx).Where("frequency = ?", freq).Order("created_at ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("getting users by frequency: %w", err)
	}
	return users, nil
}

// Update updates an existing user.
func (r *userRepo) Update(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Save(user).Error; err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return nil
}

// Delete deletes a user by ID.
func (r *userRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.User{}).Error; err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}

// Subscribe associates a user with a podcast. Idempotent for existing pairs.
func (r *userRepo) Subscribe(ctx context.Context, userID, podcastID models.ULID) error {
	sub := &models.Subscription{UserID: userID, PodcastID: podcastID}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(sub).Error
	if err != nil {
		return fmt.Errorf("creating subscription: %w", err)
	}
	return nil
}

// Unsubscribe removes a user's podcast subscription.
func (r *userRepo) Unsubscribe(ctx context.Context, userID, podcastID models.ULID) error {
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND podcast_id = ?", userID, podcastID).
		Delete(&models.Subscription{}).Error
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	return nil
}

// GetSubscriptions retrieves a user's subscriptions with podcasts preloaded.
func (r *userRepo) GetSubscriptions(ctx context.Context, userID models.ULID) ([]*models.Subscription, error) {
	var subs []*models.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Preload("Podcast").
		Order("created_at ASC").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("getting subscriptions: %w", err)
	}
	return subs, nil
}

// Ensure userRepo implements UserRepository at compile time.
var _ UserRepository = (*userRepo)(nil)
