package llmprovider

import (
	"fmt"
	"os"
)

const openAIAPIURL = "https://api.openai.com/v1"

func newOpenAIClient(cfg Config) (Provider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	baseURL := firstNonEmpty(cfg.BaseURL, openAIAPIURL)
	model := firstNonEmpty(cfg.Model, "gpt-4o-mini")
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return newChatCompatClient("openai", apiKey, "Bearer", baseURL, model, cfg.Temperature, maxTokens, 128000, cfg.TimeoutSecs), nil
}
