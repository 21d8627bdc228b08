package llm

import "strings"

// modelRoute holds each provider's identifier for one logical model.
type modelRoute struct {
	openai    string
	anthropic string
}

// modelRoutes maps recognized logical model names to per-provider
// identifiers. Provider-native names are recognized and cross-mapped
// to a comparable peer, so a fallback request never carries the other
// provider's model id.
var modelRoutes = map[string]modelRoute{
	"gpt-4o-mini":              {openai: "gpt-4o-mini", anthropic: "claude-3-5-haiku-latest"},
	"gpt-4o":                   {openai: "gpt-4o", anthropic: "claude-sonnet-4-20250514"},
	"gpt-5":                    {openai: "gpt-5", anthropic: "claude-opus-4-1-20250805"},
	"claude-3-5-haiku-latest":  {openai: "gpt-4o-mini", anthropic: "claude-3-5-haiku-latest"},
	"claude-sonnet-4-20250514": {openai: "gpt-4o", anthropic: "claude-sonnet-4-20250514"},
	"claude-opus-4-1-20250805": {openai: "gpt-5", anthropic: "claude-opus-4-1-20250805"},
}

// resolveModel returns the provider identifier for a logical model
// name. Unrecognized names pass through unchanged on the provider
// family they belong to and resolve to the provider default elsewhere.
func resolveModel(logical, provider string) string {
	if logical == "" {
		return defaultModelFor(provider)
	}
	if route, ok := modelRoutes[logical]; ok {
		if provider == "anthropic" {
			return route.anthropic
		}
		return route.openai
	}

	isClaude := strings.HasPrefix(logical, "claude")
	if provider == "anthropic" {
		if isClaude {
			return logical
		}
		return anthropicDefaultModel
	}
	if isClaude {
		return openaiDefaultModel
	}
	return logical
}

func defaultModelFor(provider string) string {
	if provider == "anthropic" {
		return anthropicDefaultModel
	}
	return openaiDefaultModel
}
