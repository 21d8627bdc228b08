package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DigestStatus tracks a digest through curation and assembly.
type DigestStatus string

const (
	// DigestStatusCurating indicates cross-episode clip selection is in flight.
	DigestStatusCurating DigestStatus = "curating"
	// DigestStatusPending indicates curated clips await assembly.
	DigestStatusPending DigestStatus = "pending"
	// DigestStatusGeneratingScript indicates narrator script generation.
	DigestStatusGeneratingScript DigestStatus = "generating_script"
	// DigestStatusGeneratingAudio indicates TTS synthesis.
	DigestStatusGeneratingAudio DigestStatus = "generating_audio"
	// DigestStatusStitching indicates clip extraction and concatenation.
	DigestStatusStitching DigestStatus = "stitching"
	// DigestStatusReady is the terminal success state.
	DigestStatusReady DigestStatus = "ready"
	// DigestStatusFailed is the terminal failure state.
	DigestStatusFailed DigestStatus = "failed"
)

// IsTerminal reports whether the status permits no further pipeline work.
func (s DigestStatus) IsTerminal() bool {
	return s == DigestStatusReady || s == DigestStatusFailed
}

// Digest is the final personalized MP3 composed of narrator audio and
// clips for one user. Mutated exclusively by the pipeline until it
// reaches a terminal state.
type Digest struct {
	BaseModel

	UserID ULID         `gorm:"not null;index;type:varchar(26)" json:"user_id"`
	Status DigestStatus `gorm:"not null;default:'curating';size:20;index" json:"status"`

	// PodcastID is the primary source podcast, when one dominates.
	PodcastID *ULID `gorm:"type:varchar(26)" json:"podcast_id,omitempty"`

	// EpisodeIDs is the unordered set of source episodes.
	EpisodeIDs StringList `gorm:"type:text;serializer:json" json:"episode_ids"`

	// NarratorScript is the serialized script JSON document
	// {intro, transitions[], outro}. Cleared whenever the clip set or
	// order changes.
	NarratorScript string `gorm:"type:text" json:"narrator_script,omitempty"`

	// AudioURL is the opaque handle of the published artifact.
	// Non-null whenever Status is ready.
	AudioURL string `gorm:"size:2048" json:"audio_url,omitempty"`

	// Duration is the artifact length in seconds.
	Duration *float64 `json:"duration,omitempty"`

	IsPublic bool   `gorm:"default:false" json:"is_public"`
	ShareID  string `gorm:"size:64;index" json:"share_id,omitempty"`

	// LastError records the most recent pipeline failure.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`

	User  *User        `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Clips []DigestClip `gorm:"foreignKey:DigestID" json:"clips,omitempty"`
}

// TableName returns the table name for Digest.
func (Digest) TableName() string {
	return "digests"
}

// BeforeCreate generates a ULID and a share ID.
func (d *Digest) BeforeCreate(tx *gorm.DB) error {
	if err := d.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if d.ShareID == "" {
		d.ShareID = uuid.NewString()
	}
	return nil
}

// DigestClip associates a clip with a digest. Order defines the
// playback sequence and forms a contiguous 0-based range per digest.
type DigestClip struct {
	BaseModel

	DigestID ULID `gorm:"not null;uniqueIndex:idx_digest_clip;uniqueIndex:idx_digest_order;type:varchar(26)" json:"digest_id"`
	ClipID   ULID `gorm:"not null;uniqueIndex:idx_digest_clip;type:varchar(26)" json:"clip_id"`
	Order    int  `gorm:"not null;column:position;uniqueIndex:idx_digest_order" json:"order"`

	Clip *Clip `gorm:"foreignKey:ClipID" json:"clip,omitempty"`
}

// TableName returns the table name for DigestClip.
func (DigestClip) TableName() string {
	return "digest_clips"
}
