package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sifterhq/sifter/internal/config"
	"github.com/sifterhq/sifter/internal/httpclient"
)

const (
	openaiDefaultBaseURL = "https://api.openai.com/v1"
	openaiDefaultModel   = "tts-1"
	openaiDefaultVoice   = "alloy"

	speechTimeout = 3 * time.Minute
)

type openaiSynthesizer struct {
	cfg    config.TTSConfig
	client *httpclient.Client
	logger *slog.Logger
}

func newOpenAISynthesizer(cfg config.TTSConfig, logger *slog.Logger) *openaiSynthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = speechTimeout
	clientCfg.Logger = logger
	return &openaiSynthesizer{cfg: cfg, client: httpclient.New(clientCfg), logger: logger}
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

func (s *openaiSynthesizer) Synthesize(ctx context.Context, text, destPath string) (float64, error) {
	if text == "" {
		return 0, fmt.Errorf("tts: empty input text")
	}

	payload := speechRequest{
		Model:          s.model(),
		Input:          text,
		Voice:          s.voice(),
		ResponseFormat: "mp3",
		Speed:          s.cfg.Speed,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("building speech request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL()+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("building speech request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return 0, fmt.Errorf("speech API status %d: %s", resp.StatusCode, string(detail))
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, fmt.Errorf("creating speech output dir: %w", err)
	}
	out, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("creating speech output: %w", err)
	}
	written, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(destPath)
		return 0, fmt.Errorf("writing speech output: %w", err)
	}

	s.logger.Debug("synthesized narration",
		slog.String("dest", destPath),
		slog.Int64("bytes", written),
		slog.Duration("elapsed", time.Since(start).Round(time.Millisecond)))

	// Duration is unknown until the file is probed.
	return 0, nil
}

func (s *openaiSynthesizer) model() string {
	if s.cfg.Model != "" {
		return s.cfg.Model
	}
	return openaiDefaultModel
}

func (s *openaiSynthesizer) voice() string {
	if s.cfg.Voice != "" {
		return s.cfg.Voice
	}
	return openaiDefaultVoice
}

func (s *openaiSynthesizer) baseURL() string {
	if s.cfg.BaseURL != "" {
		return s.cfg.BaseURL
	}
	return openaiDefaultBaseURL
}

var _ Synthesizer = (*openaiSynthesizer)(nil)
