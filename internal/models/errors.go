package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Common validation errors for models.
var (
	// ErrEmailRequired indicates a required email field is empty.
	ErrEmailRequired = errors.New("email is required")

	// ErrRSSURLRequired indicates a required RSS URL field is empty.
	ErrRSSURLRequired = errors.New("rss_url is required")

	// ErrAudioURLRequired indicates a required audio URL field is empty.
	ErrAudioURLRequired = errors.New("audio_url is required")

	// ErrTitleRequired indicates a required title field is empty.
	ErrTitleRequired = errors.New("title is required")

	// ErrGUIDRequired indicates a required episode GUID is empty.
	ErrGUIDRequired = errors.New("guid is required")

	// ErrInvalidFrequency indicates an unsupported digest frequency.
	ErrInvalidFrequency = errors.New("invalid frequency: must be 'daily' or 'weekly'")

	// ErrInvalidClipRange indicates a clip whose end does not follow its start.
	ErrInvalidClipRange = errors.New("clip end_time must be greater than start_time")

	// ErrQueueRequired indicates a job without a queue name.
	ErrQueueRequired = errors.New("queue is required")
)

// Pipeline coordination errors. Stage handlers and the orchestrator use
// these to distinguish retryable congestion from hard failures.
var (
	// ErrNotFound indicates a referenced entity is absent.
	ErrNotFound = errors.New("not found")

	// ErrBusy indicates concurrent work was detected via a status check;
	// the caller should yield rather than retry immediately.
	ErrBusy = errors.New("entity is busy")

	// ErrNoTranscript indicates analysis was requested before transcription.
	ErrNoTranscript = errors.New("episode has no transcript")

	// ErrNoEpisodes indicates an orchestrator run found no recent episodes.
	ErrNoEpisodes = errors.New("no recent episodes for subscriptions")

	// ErrUnavailable indicates an external dependency is not configured.
	ErrUnavailable = errors.New("dependency unavailable")
)
