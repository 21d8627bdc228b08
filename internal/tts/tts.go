// Package tts synthesizes narration audio for digest scripts. The
// OpenAI backend produces real speech; the mock backend fabricates
// files for development and tests.
package tts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sifterhq/sifter/internal/config"
)

// Synthesizer renders text to an MP3 file at destPath. The returned
// duration is an estimate in seconds when the backend knows one, or 0
// when the caller should probe the file instead.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, destPath string) (float64, error)
}

// New selects a backend from configuration.
func New(cfg config.TTSConfig, logger *slog.Logger) (Synthesizer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case "openai", "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("tts: openai provider requires an api key")
		}
		return newOpenAISynthesizer(cfg, logger), nil
	case "mock":
		return newMockSynthesizer(logger), nil
	default:
		return nil, fmt.Errorf("tts: unknown provider %q", cfg.Provider)
	}
}
