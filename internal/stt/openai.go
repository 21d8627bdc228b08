package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sifterhq/sifter/internal/config"
	"github.com/sifterhq/sifter/internal/httpclient"
	"github.com/sifterhq/sifter/internal/models"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultWhisperModel  = "whisper-1"

	// Transcription of a long chunk can take a while server-side.
	transcribeTimeout = 10 * time.Minute
)

type openaiTranscriber struct {
	cfg    config.STTConfig
	client *httpclient.Client
	logger *slog.Logger
}

func newOpenAITranscriber(cfg config.STTConfig, logger *slog.Logger) *openaiTranscriber {
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = transcribeTimeout
	clientCfg.Logger = logger
	return &openaiTranscriber{
		cfg:    cfg,
		client: httpclient.New(clientCfg),
		logger: logger,
	}
}

// verboseTranscription mirrors the response_format=verbose_json shape.
type verboseTranscription struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (t *openaiTranscriber) Transcribe(ctx context.Context, audioPath string, opts Options) (*models.Transcript, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}

	body, contentType, err := buildTranscriptionForm(filepath.Base(audioPath), audio, t.model(), opts.Language)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building transcription request: %w", err)
	}
	// GetBody lets the shared client rewind and retry the upload.
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading transcription response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcription API status %d: %s", resp.StatusCode, truncate(string(respBody), 300))
	}

	var verbose verboseTranscription
	if err := json.Unmarshal(respBody, &verbose); err != nil {
		return nil, fmt.Errorf("parsing transcription response: %w", err)
	}

	transcript := &models.Transcript{
		Text:     verbose.Text,
		Language: verbose.Language,
		Duration: verbose.Duration,
	}
	for _, seg := range verbose.Segments {
		transcript.Segments = append(transcript.Segments, models.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}
	transcript.SortSegments()

	t.logger.Debug("transcribed audio via api",
		slog.String("path", audioPath),
		slog.Int("segments", len(transcript.Segments)),
		slog.Duration("elapsed", time.Since(start).Round(time.Millisecond)))

	return transcript, nil
}

func (t *openaiTranscriber) model() string {
	if t.cfg.Model != "" {
		return t.cfg.Model
	}
	return defaultWhisperModel
}

func (t *openaiTranscriber) endpoint() string {
	base := t.cfg.BaseURL
	if base == "" {
		base = defaultOpenAIBaseURL
	}
	return base + "/audio/transcriptions"
}

func buildTranscriptionForm(filename string, audio []byte, model, language string) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("building multipart form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("writing audio to form: %w", err)
	}

	fields := map[string]string{
		"model":           model,
		"response_format": "verbose_json",
	}
	if language != "" {
		fields["language"] = language
	}
	for key, value := range fields {
		if err := mw.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("writing form field %s: %w", key, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart form: %w", err)
	}

	return buf.Bytes(), mw.FormDataContentType(), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
