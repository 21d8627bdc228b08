package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEpisode_TableName(t *testing.T) {
	assert.Equal(t, "episodes", Episode{}.TableName())
}

func TestEpisode_Validate(t *testing.T) {
	tests := []struct {
		name    string
		episode Episode
		wantErr error
	}{
		{
			name: "valid episode",
			episode: Episode{
				GUID:     "guid-1",
				Title:    "Episode 1",
				AudioURL: "https://example.com/ep1.mp3",
			},
			wantErr: nil,
		},
		{
			name: "missing guid",
			episode: Episode{
				Title:    "Episode 1",
				AudioURL: "https://example.com/ep1.mp3",
			},
			wantErr: ErrGUIDRequired,
		},
		{
			name: "missing title",
			episode: Episode{
				GUID:     "guid-1",
				AudioURL: "https://example.com/ep1.mp3",
			},
			wantErr: ErrTitleRequired,
		},
		{
			name: "missing audio url",
			episode: Episode{
				GUID:  "guid-1",
				Title: "Episode 1",
			},
			wantErr: ErrAudioURLRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.episode.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEpisode_StatusHelpers(t *testing.T) {
	tests := []struct {
		status       EpisodeStatus
		transcribed  bool
		processing   bool
		canStartSTT  bool
	}{
		{EpisodeStatusPending, false, false, true},
		{EpisodeStatusDownloading, false, true, false},
		{EpisodeStatusTranscribing, false, true, false},
		{EpisodeStatusTranscribed, true, false, false},
		{EpisodeStatusAnalyzing, true, true, false},
		{EpisodeStatusAnalyzed, true, false, false},
		{EpisodeStatusFailed, false, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			e := &Episode{Status: tt.status}
			assert.Equal(t, tt.transcribed, e.IsTranscribed())
			assert.Equal(t, tt.processing, e.IsProcessing())
			assert.Equal(t, tt.canStartSTT, e.CanStartTranscription())
		})
	}
}

func TestEpisode_HasTranscript(t *testing.T) {
	e := &Episode{}
	assert.False(t, e.HasTranscript())

	e.Transcript = &Transcript{}
	assert.False(t, e.HasTranscript())

	e.Transcript = &Transcript{
		Text:     "hello world",
		Segments: []Segment{{Start: 0, End: 2, Text: "hello world"}},
	}
	assert.True(t, e.HasTranscript())
}
