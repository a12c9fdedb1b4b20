package llmprovider

import (
	"fmt"
)

// localClient talks to a locally-hosted, OpenAI-compatible inference server
// (llama.cpp server, Ollama's /v1 shim, etc). No API key, no egress.
func newLocalClient(cfg Config) (Provider, error) {
	baseURL := firstNonEmpty(cfg.BaseURL, "http://127.0.0.1:8081/v1")
	model := firstNonEmpty(cfg.Model, "tinyllama-1.1b-chat.q4_0.gguf")
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 512
	}
	maxContext := 2048
	if maxTokens > maxContext {
		return nil, fmt.Errorf("local: max_tokens %d exceeds context size %d", maxTokens, maxContext)
	}
	return newChatCompatClient("local", "unused", "Bearer", baseURL, model, cfg.Temperature, maxTokens, maxContext, cfg.TimeoutSecs), nil
}
