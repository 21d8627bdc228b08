// Package stt turns audio files into timestamped transcripts. Two
// backends exist: the OpenAI transcription API and a local whisper
// wrapper script for offline use.
package stt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sifterhq/sifter/internal/config"
	"github.com/sifterhq/sifter/internal/models"
)

// Options tunes a single transcription call.
type Options struct {
	// Language pins the transcription language. Empty lets the backend
	// detect it.
	Language string
}

// Transcriber converts a single audio file into a transcript with
// segment timestamps relative to the start of that file.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) (*models.Transcript, error)
}

// New selects a backend from configuration.
func New(cfg config.STTConfig, logger *slog.Logger) (Transcriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Mode {
	case "api", "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("stt: api mode requires an api key")
		}
		return newOpenAITranscriber(cfg, logger), nil
	case "local":
		if cfg.LocalScript == "" {
			return nil, fmt.Errorf("stt: local mode requires a wrapper script path")
		}
		return newLocalTranscriber(cfg, logger), nil
	default:
		return nil, fmt.Errorf("stt: unknown mode %q", cfg.Mode)
	}
}
