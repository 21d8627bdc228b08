package models

import "gorm.io/gorm"

// Frequency is how often a user receives a digest.
type Frequency string

const (
	// FrequencyDaily selects episodes published in the last 24 hours.
	FrequencyDaily Frequency = "daily"
	// FrequencyWeekly selects episodes published in the last 7 days.
	FrequencyWeekly Frequency = "weekly"
)

// Valid reports whether the frequency is a recognized value.
func (f Frequency) Valid() bool {
	return f == FrequencyDaily || f == FrequencyWeekly
}

// User represents a subscriber receiving personalized digests.
type User struct {
	BaseModel

	Email string `gorm:"not null;uniqueIndex;size:255" json:"email"`
	Name  string `gorm:"size:255" json:"name,omitempty"`

	// Interests is an unordered set of free-text topic tags used by the
	// analysis and curation prompts.
	Interests StringList `gorm:"type:text;serializer:json" json:"interests"`

	// Frequency controls the orchestrator's episode window.
	Frequency Frequency `gorm:"not null;default:'weekly';size:10" json:"frequency"`

	// DigestDurationMinutes is the preferred digest length.
	DigestDurationMinutes int `gorm:"default:7" json:"digest_duration_minutes"`

	Subscriptions []Subscription `gorm:"foreignKey:UserID" json:"subscriptions,omitempty"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// Validate performs basic validation on the user.
func (u *User) Validate() error {
	if u.Email == "" {
		return ErrEmailRequired
	}
	if !u.Frequency.Valid() {
		return ErrInvalidFrequency
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the user and generates a ULID.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if err := u.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return u.Validate()
}

// Subscription associates a user with a podcast. Unique per pair.
type Subscription struct {
	BaseModel

	UserID    ULID `gorm:"not null;uniqueIndex:idx_sub_user_podcast;type:varchar(26)" json:"user_id"`
	PodcastID ULID `gorm:"not null;uniqueIndex:idx_sub_user_podcast;type:varchar(26)" json:"podcast_id"`

	Podcast *Podcast `gorm:"foreignKey:PodcastID" json:"podcast,omitempty"`
}

// TableName returns the table name for Subscription.
func (Subscription) TableName() string {
	return "subscriptions"
}
