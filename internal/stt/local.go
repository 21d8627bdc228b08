package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/sifterhq/sifter/internal/config"
	"github.com/sifterhq/sifter/internal/models"
)

// localTranscriber shells out to a whisper wrapper script that prints
// JSON on stdout:
//
//	{"text": "...", "language": "en", "duration": 123.4,
//	 "segments": [{"start": 0, "end": 4.2, "text": "..."}]}
//
// The script reports progress on stderr, which is kept for diagnostics
// only.
type localTranscriber struct {
	cfg    config.STTConfig
	logger *slog.Logger
}

func newLocalTranscriber(cfg config.STTConfig, logger *slog.Logger) *localTranscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &localTranscriber{cfg: cfg, logger: logger}
}

type localResult struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (t *localTranscriber) Transcribe(ctx context.Context, audioPath string, opts Options) (*models.Transcript, error) {
	args := []string{audioPath, "--output", "json"}
	if t.cfg.Model != "" {
		args = append(args, "--model", t.cfg.Model)
	}
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}

	cmd := exec.CommandContext(ctx, t.cfg.LocalScript, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("whisper script: %w: %s", err, truncate(stderr.String(), 300))
	}

	transcript, err := parseLocalOutput(stdout.Bytes())
	if err != nil {
		return nil, err
	}

	t.logger.Debug("transcribed audio locally",
		slog.String("path", audioPath),
		slog.Int("segments", len(transcript.Segments)),
		slog.Duration("elapsed", time.Since(start).Round(time.Millisecond)))

	return transcript, nil
}

func parseLocalOutput(data []byte) (*models.Transcript, error) {
	var result localResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parsing whisper output: %w", err)
	}

	transcript := &models.Transcript{
		Text:     result.Text,
		Language: result.Language,
		Duration: result.Duration,
	}
	for _, seg := range result.Segments {
		transcript.Segments = append(transcript.Segments, models.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}
	transcript.SortSegments()

	// The script derives duration from the last segment; fall back to the
	// same rule if an older script omits the field.
	if transcript.Duration == 0 && len(transcript.Segments) > 0 {
		transcript.Duration = transcript.Segments[len(transcript.Segments)-1].End
	}

	return transcript, nil
}
