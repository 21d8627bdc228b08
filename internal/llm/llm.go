// Package llm provides chat-completion access for clip analysis and
// narration script generation, with provider routing between OpenAI
// and Anthropic.
package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sifterhq/sifter/internal/config"
)

// Request is a single-turn completion request.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Client produces a completion for a request.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Provider() string
}

// ErrorKind classifies completion failures.
type ErrorKind string

const (
	ErrKindTransport ErrorKind = "transport"
	ErrKindStatus    ErrorKind = "http_status"
	ErrKindNoContent ErrorKind = "no_content"
	ErrKindParse     ErrorKind = "parse"
)

// Error is a classified completion failure.
type Error struct {
	Kind     ErrorKind
	Provider string
	Status   int
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s completion (%s)", e.Provider, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" status %d", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a client from configuration. When the primary provider is
// Anthropic and an OpenAI key is present, completions fall back to
// OpenAI once on failure.
func New(cfg config.LLMConfig, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Provider {
	case "openai", "":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("llm: openai provider requires an api key")
		}
		return newOpenAIClient(cfg, logger), nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("llm: anthropic provider requires an api key")
		}
		primary := newAnthropicClient(cfg, logger)
		if cfg.FallbackToOpenAI && cfg.OpenAIKey != "" {
			return &fallbackClient{
				primary:  primary,
				fallback: newOpenAIClient(cfg, logger),
				logger:   logger,
			}, nil
		}
		return primary, nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// fallbackClient tries the primary once, then the fallback once.
type fallbackClient struct {
	primary  Client
	fallback Client
	logger   *slog.Logger
}

func (c *fallbackClient) Complete(ctx context.Context, req Request) (string, error) {
	content, err := c.primary.Complete(ctx, req)
	if err == nil {
		return content, nil
	}
	if ctx.Err() != nil {
		return "", err
	}

	c.logger.Warn("primary llm provider failed, falling back",
		slog.String("primary", c.primary.Provider()),
		slog.String("fallback", c.fallback.Provider()),
		slog.Any("error", err))

	content, ferr := c.fallback.Complete(ctx, req)
	if ferr != nil {
		return "", fmt.Errorf("both providers failed: %w (fallback: %v)", err, ferr)
	}
	return content, nil
}

func (c *fallbackClient) Provider() string {
	return c.primary.Provider() + "+" + c.fallback.Provider()
}
