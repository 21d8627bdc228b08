package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sifterhq/sifter/internal/config"
	"github.com/sifterhq/sifter/internal/httpclient"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com/v1"
	anthropicDefaultModel   = "claude-3-5-haiku-latest"
	anthropicVersion        = "2023-06-01"
)

type anthropicClient struct {
	cfg    config.LLMConfig
	client *httpclient.Client
	logger *slog.Logger
}

func newAnthropicClient(cfg config.LLMConfig, logger *slog.Logger) *anthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = completionTimeout
	clientCfg.Logger = logger
	return &anthropicClient{cfg: cfg, client: httpclient.New(clientCfg), logger: logger}
}

func (c *anthropicClient) Provider() string { return "anthropic" }

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *anthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	payload := anthropicRequest{
		Model:       c.model(),
		MaxTokens:   maxTokens,
		System:      req.System,
		Temperature: req.Temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", &Error{Kind: ErrKindParse, Provider: "anthropic", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: ErrKindTransport, Provider: "anthropic", Err: err}
	}
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.AnthropicKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", &Error{Kind: ErrKindTransport, Provider: "anthropic", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Kind: ErrKindTransport, Provider: "anthropic", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &Error{
			Kind:     ErrKindStatus,
			Provider: "anthropic",
			Status:   resp.StatusCode,
			Detail:   errorDetail(respBody),
		}
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &Error{Kind: ErrKindParse, Provider: "anthropic", Err: err}
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", &Error{Kind: ErrKindNoContent, Provider: "anthropic", Detail: "empty completion"}
	}

	return text.String(), nil
}

func (c *anthropicClient) model() string {
	return resolveModel(c.cfg.Model, "anthropic")
}

func (c *anthropicClient) baseURL() string {
	if c.cfg.BaseURL != "" {
		return c.cfg.BaseURL
	}
	return anthropicDefaultBaseURL
}

var _ Client = (*anthropicClient)(nil)
