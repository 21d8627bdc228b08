package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sifterhq/sifter/internal/config"
	"github.com/sifterhq/sifter/internal/httpclient"
)

const (
	openaiDefaultBaseURL = "https://api.openai.com/v1"
	openaiDefaultModel   = "gpt-4o-mini"

	completionTimeout = 3 * time.Minute
)

// fixedTemperaturePrefixes lists model families that reject a custom
// temperature parameter. Requests to them omit the field entirely.
var fixedTemperaturePrefixes = []string{"o1", "o3", "o4", "gpt-5"}

type openaiClient struct {
	cfg    config.LLMConfig
	client *httpclient.Client
	logger *slog.Logger
}

func newOpenAIClient(cfg config.LLMConfig, logger *slog.Logger) *openaiClient {
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = completionTimeout
	clientCfg.Logger = logger
	return &openaiClient{cfg: cfg, client: httpclient.New(clientCfg), logger: logger}
}

func (c *openaiClient) Provider() string { return "openai" }

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_completion_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *openaiClient) Complete(ctx context.Context, req Request) (string, error) {
	model := c.model()

	var messages []openaiMessage
	if req.System != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openaiMessage{Role: "user", Content: req.Prompt})

	payload := openaiRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if !modelHasFixedTemperature(model) {
		temp := req.Temperature
		payload.Temperature = &temp
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", &Error{Kind: ErrKindParse, Provider: "openai", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: ErrKindTransport, Provider: "openai", Err: err}
	}
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.OpenAIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", &Error{Kind: ErrKindTransport, Provider: "openai", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Kind: ErrKindTransport, Provider: "openai", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &Error{
			Kind:     ErrKindStatus,
			Provider: "openai",
			Status:   resp.StatusCode,
			Detail:   errorDetail(respBody),
		}
	}

	var parsed openaiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &Error{Kind: ErrKindParse, Provider: "openai", Err: err}
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", &Error{Kind: ErrKindNoContent, Provider: "openai", Detail: "empty completion"}
	}

	return parsed.Choices[0].Message.Content, nil
}

func (c *openaiClient) model() string {
	return resolveModel(c.cfg.Model, "openai")
}

func (c *openaiClient) baseURL() string {
	if c.cfg.BaseURL != "" {
		return c.cfg.BaseURL
	}
	return openaiDefaultBaseURL
}

func modelHasFixedTemperature(model string) bool {
	for _, prefix := range fixedTemperaturePrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// errorDetail pulls a provider error message out of a failure body,
// falling back to the raw body.
func errorDetail(body []byte) string {
	var wrapper struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error.Message != "" {
		return wrapper.Error.Message
	}
	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200] + "..."
	}
	return detail
}

var _ Client = (*openaiClient)(nil)
