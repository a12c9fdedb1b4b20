package llmprovider

import (
	"fmt"
	"os"
)

const zaiAPIURL = "https://api.z.ai/api/paas/v4"

func newZAiClient(cfg Config) (Provider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ZAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("z-ai: API key is required")
	}
	baseURL := firstNonEmpty(cfg.BaseURL, zaiAPIURL)
	model := firstNonEmpty(cfg.Model, "claude-sonnet-4-20250514")
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return newChatCompatClient("z-ai", apiKey, "Bearer", baseURL, model, cfg.Temperature, maxTokens, 128000, cfg.TimeoutSecs), nil
}
