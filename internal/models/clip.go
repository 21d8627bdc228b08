package models

import "gorm.io/gorm"

// Clip is a contiguous sub-interval of an episode's audio selected for
// relevance. Clips are a per-episode resource: re-analysis replaces an
// episode's clips wholesale.
type Clip struct {
	BaseModel

	EpisodeID ULID `gorm:"not null;index;type:varchar(26)" json:"episode_id"`

	// StartTime and EndTime are seconds relative to the episode audio,
	// chosen at STT-segment granularity.
	StartTime float64 `gorm:"not null" json:"start_time"`
	EndTime   float64 `gorm:"not null" json:"end_time"`

	// Transcript is the text covering [StartTime, EndTime].
	Transcript string `gorm:"type:text" json:"transcript"`

	// RelevanceScore is a combined topic-match and depth metric, 0-100.
	RelevanceScore float64 `gorm:"not null;index" json:"relevance_score"`

	// Reasoning explains why the clip was selected.
	Reasoning string `gorm:"type:text" json:"reasoning,omitempty"`

	// Summary is a one-or-two-sentence description used by curation
	// and script generation.
	Summary string `gorm:"type:text" json:"summary,omitempty"`

	// DigestID back-references the digest that adopted this clip.
	DigestID *ULID `gorm:"type:varchar(26);index" json:"digest_id,omitempty"`

	Episode *Episode `gorm:"foreignKey:EpisodeID" json:"episode,omitempty"`
}

// TableName returns the table name for Clip.
func (Clip) TableName() string {
	return "clips"
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	return c.EndTime - c.StartTime
}

// Validate performs basic validation on the clip.
func (c *Clip) Validate() error {
	if c.EndTime <= c.StartTime {
		return ErrInvalidClipRange
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the clip and generates a ULID.
func (c *Clip) BeforeCreate(tx *gorm.DB) error {
	if err := c.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return c.Validate()
}

// WithinTranscript reports whether the clip lies inside [0, duration].
func (c *Clip) WithinTranscript(duration float64) bool {
	return c.StartTime >= 0 && c.EndTime > c.StartTime && c.EndTime <= duration
}
