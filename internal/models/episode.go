package models

import "gorm.io/gorm"

// EpisodeStatus tracks an episode through the transcription and
// analysis stages. Transitions are strictly monotonic and enforced by
// conditional row updates in the repository layer.
type EpisodeStatus string

const (
	// EpisodeStatusPending indicates the episode has not been processed.
	EpisodeStatusPending EpisodeStatus = "pending"
	// EpisodeStatusDownloading indicates the audio download is in flight.
	EpisodeStatusDownloading EpisodeStatus = "downloading"
	// EpisodeStatusTranscribing indicates STT is in flight.
	EpisodeStatusTranscribing EpisodeStatus = "transcribing"
	// EpisodeStatusTranscribed indicates a canonical transcript exists.
	EpisodeStatusTranscribed EpisodeStatus = "transcribed"
	// EpisodeStatusAnalyzing indicates clip extraction is in flight.
	EpisodeStatusAnalyzing EpisodeStatus = "analyzing"
	// EpisodeStatusAnalyzed indicates clip candidates exist.
	EpisodeStatusAnalyzed EpisodeStatus = "analyzed"
	// EpisodeStatusFailed indicates an unrecoverable processing error.
	EpisodeStatusFailed EpisodeStatus = "failed"
)

// Episode represents a single podcast episode. Episodes are created by
// RSS ingestion, mutated only by pipeline stages, and never destroyed
// by the pipeline.
type Episode struct {
	BaseModel

	PodcastID ULID `gorm:"not null;uniqueIndex:idx_episode_podcast_guid;index;type:varchar(26)" json:"podcast_id"`

	// GUID is the feed-provided identifier, unique per podcast.
	GUID string `gorm:"not null;uniqueIndex:idx_episode_podcast_guid;size:512" json:"guid"`

	Title       string `gorm:"not null;size:512" json:"title"`
	AudioURL    string `gorm:"not null;size:2048" json:"audio_url"`
	PublishedAt Time   `gorm:"index" json:"published_at"`

	// Duration is the audio length in seconds, from the feed or the
	// merged transcript once transcription completes.
	Duration *float64 `json:"duration,omitempty"`

	Status EpisodeStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`

	// Transcript is the shared canonical transcript, consumed by all
	// users. At most one exists per episode.
	Transcript *Transcript `gorm:"type:text;serializer:json" json:"transcript,omitempty"`

	// LastError records the most recent stage failure for operators.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`

	Podcast *Podcast `gorm:"foreignKey:PodcastID" json:"podcast,omitempty"`
	Clips   []Clip   `gorm:"foreignKey:EpisodeID" json:"clips,omitempty"`
}

// TableName returns the table name for Episode.
func (Episode) TableName() string {
	return "episodes"
}

// Validate performs basic validation on the episode.
func (e *Episode) Validate() error {
	if e.GUID == "" {
		return ErrGUIDRequired
	}
	if e.Title == "" {
		return ErrTitleRequired
	}
	if e.AudioURL == "" {
		return ErrAudioURLRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the episode and generates a ULID.
func (e *Episode) BeforeCreate(tx *gorm.DB) error {
	if err := e.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return e.Validate()
}

// HasTranscript reports whether a usable transcript is persisted.
func (e *Episode) HasTranscript() bool {
	return !e.Transcript.IsEmpty()
}

// IsTranscribed reports whether transcription work is already done.
// Statuses downstream of transcribed also qualify.
func (e *Episode) IsTranscribed() bool {
	switch e.Status {
	case EpisodeStatusTranscribed, EpisodeStatusAnalyzing, EpisodeStatusAnalyzed:
		return true
	}
	return false
}

// IsProcessing reports whether a stage currently owns the episode.
func (e *Episode) IsProcessing() bool {
	switch e.Status {
	case EpisodeStatusDownloading, EpisodeStatusTranscribing, EpisodeStatusAnalyzing:
		return true
	}
	return false
}

// CanStartTranscription reports whether transcription may begin.
func (e *Episode) CanStartTranscription() bool {
	return e.Status == EpisodeStatusPending || e.Status == EpisodeStatusFailed
}
