package models

import "gorm.io/gorm"

// Podcast represents a feed source shared by any number of subscribers.
type Podcast struct {
	BaseModel

	RSSURL   string `gorm:"not null;uniqueIndex;size:2048" json:"rss_url"`
	Title    string `gorm:"not null;size:512" json:"title"`
	Author   string `gorm:"size:255" json:"author,omitempty"`
	ImageURL string `gorm:"size:2048" json:"image_url,omitempty"`

	// LastCheckedAt is when the feed was last polled for new episodes.
	LastCheckedAt *Time `json:"last_checked_at,omitempty"`

	Episodes []Episode `gorm:"foreignKey:PodcastID" json:"episodes,omitempty"`
}

// TableName returns the table name for Podcast.
func (Podcast) TableName() string {
	return "podcasts"
}

// Validate performs basic validation on the podcast.
func (p *Podcast) Validate() error {
	if p.RSSURL == "" {
		return ErrRSSURLRequired
	}
	if p.Title == "" {
		return ErrTitleRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the podcast and generates a ULID.
func (p *Podcast) BeforeCreate(tx *gorm.DB) error {
	if err := p.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return p.Validate()
}
