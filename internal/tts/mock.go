package tts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sifterhq/sifter/internal/models"
)

// narrationWPM approximates conversational speech rate for duration
// estimates.
const narrationWPM = 150.0

// mockSynthesizer writes a placeholder file and estimates duration
// from word count. Useful for development without API credentials.
type mockSynthesizer struct {
	logger *slog.Logger
}

func newMockSynthesizer(logger *slog.Logger) *mockSynthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &mockSynthesizer{logger: logger}
}

func (s *mockSynthesizer) Synthesize(ctx context.Context, text, destPath string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if text == "" {
		return 0, fmt.Errorf("tts: empty input text")
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, fmt.Errorf("creating speech output dir: %w", err)
	}
	content := fmt.Sprintf("MOCK NARRATION %s\n%s\n", models.NewULID(), text)
	if err := os.WriteFile(destPath, []byte(content), 0o644); err != nil {
		return 0, fmt.Errorf("writing mock speech output: %w", err)
	}

	duration := EstimateDuration(text)
	s.logger.Debug("wrote mock narration",
		slog.String("dest", destPath),
		slog.Float64("estimated_duration", duration))
	return duration, nil
}

// EstimateDuration approximates narration length from word count at a
// conversational speech rate.
func EstimateDuration(text string) float64 {
	words := len(strings.Fields(text))
	return float64(words) / narrationWPM * 60.0
}

var _ Synthesizer = (*mockSynthesizer)(nil)
