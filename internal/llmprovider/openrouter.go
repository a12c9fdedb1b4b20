package llmprovider

import (
	"fmt"
	"os"
)

const openRouterAPIURL = "https://openrouter.ai/api/v1"

func newOpenRouterClient(cfg Config) (Provider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openrouter: API key is required")
	}
	baseURL := firstNonEmpty(cfg.BaseURL, openRouterAPIURL)
	model := firstNonEmpty(cfg.Model, "anthropic/claude-sonnet-4-20250514")
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	// OpenRouter fronts many models with differing windows; 32k is a
	// conservative default when the specific model's window is unknown.
	return newChatCompatClient("openrouter", apiKey, "Bearer", baseURL, model, cfg.Temperature, maxTokens, 32000, cfg.TimeoutSecs), nil
}
