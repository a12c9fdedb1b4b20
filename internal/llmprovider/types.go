// Package llmprovider implements the LLM provider capability interface: a
// small surface (complete, complete_json) that the query state machine uses
// without caring which vendor backs it.
package llmprovider

import (
	"context"
	"encoding/json"
	"fmt"
)

// Role is one of the three roles a message may carry.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a conversation sent to the provider.
type Message struct {
	Role Role `json:"role"`
	Content string `json:"content"`
}

// Params controls a single completion call. Zero values fall back to the
// provider's configured defaults.
type Params struct {
	Model string
	Temperature float64
	MaxTokens int
}

// Response is what a provider returns for a single completion.
type Response struct {
	Content string
	FinishReason string
	PromptTokens int
	OutputTokens int
}

// Provider is the capability interface every vendor client and the null/mock
// implementations satisfy. It mirrors "LLM provider interface".
type Provider interface {
	// Complete sends messages and returns the raw text completion.
	Complete(ctx context.Context, messages []Message, params Params) (Response, error)

	// CompleteJSON sends messages and parses the completion as JSON into a
	// map. On a non-JSON response it retries once with a stricter
	// "respond with JSON only" system message appended, then fails.
	CompleteJSON(ctx context.Context, messages []Message, params Params, schemaHint string) (map[string]any, error)

	// Name is the dialect-agnostic provider name declared to callers.
	Name() string

	// MaxContextTokens is the provider's declared total context window.
	MaxContextTokens() int

	// MaxOutputTokens is the provider's declared maximum completion size.
	MaxOutputTokens() int
}

// Config is the shared construction configuration for every vendor client.
type Config struct {
	Provider string
	APIKey string
	BaseURL string
	Model string
	Temperature float64
	MaxTokens int
	TimeoutSecs int
}

// New constructs a Provider for the named vendor. Unknown or empty names
// fall back to an error; the null implementation is only returned for the
// explicit name "mock" (see NewMock).
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return newAnthropicClient(cfg)
	case "openai":
		return newOpenAIClient(cfg)
	case "openrouter":
		return newOpenRouterClient(cfg)
	case "z-ai":
		return newZAiClient(cfg)
	case "local":
		return newLocalClient(cfg)
	case "mock":
		return NewMock("", nil), nil
	default:
		return nil, fmt.Errorf("llmprovider: unsupported provider %q", cfg.Provider)
	}
}

// completeJSONWithRetry implements the shared "retry once with a stricter
// system message" policy every vendor client uses, so CompleteJSON only
// needs to be written once per transport shape.
func completeJSONWithRetry(ctx context.Context, do func(context.Context, []Message, Params) (Response, error), messages []Message, params Params, schemaHint string) (map[string]any, error) {
	resp, err := do(ctx, messages, params)
	if err != nil {
		return nil, err
	}
	if parsed, ok := tryParseJSON(resp.Content); ok {
		return parsed, nil
	}

	strict := append(append([]Message{}, messages...), Message{
		Role: RoleSystem,
		Content: "Respond with JSON only, no prose, no markdown fences. " + schemaHint,
	})
	resp, err = do(ctx, strict, params)
	if err != nil {
		return nil, fmt.Errorf("llmprovider: retry after non-JSON response failed: %w", err)
	}
	parsed, ok := tryParseJSON(resp.Content)
	if !ok {
		return nil, fmt.Errorf("llmprovider: provider did not return JSON after retry")
	}
	return parsed, nil
}

func tryParseJSON(content string) (map[string]any, bool) {
	content = stripCodeFence(content)
	var out map[string]any
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, false
	}
	return out, true
}

// stripCodeFence removes a leading/trailing ```json... ``` fence, which
// every vendor occasionally wraps JSON in despite instructions not to.
func stripCodeFence(s string) string {
	trimmed := s
	for len(trimmed) > 0 && (trimmed[0] == '\n' || trimmed[0] == ' ' || trimmed[0] == '\t') {
		trimmed = trimmed[1:]
	}
	const fence = "```"
	if len(trimmed) >= len(fence) && trimmed[:len(fence)] == fence {
		end := -1
		for i := len(fence); i < len(trimmed)-len(fence)+1; i++ {
			if trimmed[i:i+len(fence)] == fence {
				end = i
				break
			}
		}
		if end >= 0 {
			body := trimmed[len(fence):end]
			if nl := indexByte(body, '\n'); nl >= 0 && nl < 10 {
				body = body[nl+1:]
			}
			return body
		}
	}
	return s
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
