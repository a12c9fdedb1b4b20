package llmprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	anthropicAPIURL       = "https://api.anthropic.com/v1"
	anthropicVersion      = "2023-06-01"
	anthropicMaxContext   = 200000
	anthropicMaxOutputDef = 8192
)

type anthropicClient struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

type anthropicRequestBody struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponseBody struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func newAnthropicClient(cfg Config) (Provider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicAPIURL
	}
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	temperature := cfg.Temperature
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = anthropicMaxOutputDef
	}

	return &anthropicClient{
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (c *anthropicClient) Complete(ctx context.Context, messages []Message, params Params) (Response, error) {
	body := anthropicRequestBody{
		Model:       firstNonEmpty(params.Model, c.model),
		MaxTokens:   firstNonZeroInt(params.MaxTokens, c.maxTokens),
		Temperature: firstNonZeroFloat(params.Temperature, c.temperature),
	}
	for _, m := range messages {
		if m.Role == RoleSystem {
			if body.System != "" {
				body.System += "\n" + m.Content
			} else {
				body.System = m.Content
			}
			continue
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("anthropic: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("anthropic: status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed anthropicResponseBody
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, fmt.Errorf("anthropic: parse response: %w", err)
	}

	var out Response
	for _, block := range parsed.Content {
		if block.Type == "text" {
			out.Content += block.Text
		}
	}
	out.FinishReason = parsed.StopReason
	out.PromptTokens = parsed.Usage.InputTokens
	out.OutputTokens = parsed.Usage.OutputTokens
	return out, nil
}

func (c *anthropicClient) CompleteJSON(ctx context.Context, messages []Message, params Params, schemaHint string) (map[string]any, error) {
	return completeJSONWithRetry(ctx, c.Complete, messages, params, schemaHint)
}

func (c *anthropicClient) Name() string           { return "anthropic" }
func (c *anthropicClient) MaxContextTokens() int  { return anthropicMaxContext }
func (c *anthropicClient) MaxOutputTokens() int   { return c.maxTokens }

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstNonZeroInt(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

func firstNonZeroFloat(a, b float64) float64 {
	if a != 0 {
		return a
	}
	return b
}
