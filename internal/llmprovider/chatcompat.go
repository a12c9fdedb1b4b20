package llmprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// chatCompatClient implements the OpenAI-compatible /chat/completions shape
// shared by OpenAI, OpenRouter, and Z.ai. Each vendor only differs in base
// URL, auth header, default model, and declared context window.
type chatCompatClient struct {
	name        string
	apiKey      string
	authHeader  string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	maxContext  int
	client      *http.Client
}

type chatCompatRequestBody struct {
	Model       string               `json:"model"`
	Messages    []map[string]string  `json:"messages"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Temperature float64              `json:"temperature,omitempty"`
}

type chatCompatResponseBody struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func newChatCompatClient(name, apiKey, authHeader, baseURL, model string, temperature float64, maxTokens, maxContext, timeoutSecs int) *chatCompatClient {
	timeout := time.Duration(timeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &chatCompatClient{
		name:        name,
		apiKey:      apiKey,
		authHeader:  authHeader,
		baseURL:     baseURL,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		maxContext:  maxContext,
		client:      &http.Client{Timeout: timeout},
	}
}

func (c *chatCompatClient) Complete(ctx context.Context, messages []Message, params Params) (Response, error) {
	body := chatCompatRequestBody{
		Model:       firstNonEmpty(params.Model, c.model),
		MaxTokens:   firstNonZeroInt(params.MaxTokens, c.maxTokens),
		Temperature: firstNonZeroFloat(params.Temperature, c.temperature),
	}
	for _, m := range messages {
		body.Messages = append(body.Messages, map[string]string{
			"role":    string(m.Role),
			"content": m.Content,
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("%s: build request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.authHeader+" "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("%s: request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("%s: read response: %w", c.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("%s: status %d: %s", c.name, resp.StatusCode, string(raw))
	}

	var parsed chatCompatResponseBody
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, fmt.Errorf("%s: parse response: %w", c.name, err)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, fmt.Errorf("%s: no choices in response", c.name)
	}

	return Response{
		Content:      parsed.Choices[0].Message.Content,
		FinishReason: parsed.Choices[0].FinishReason,
		PromptTokens: parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}

func (c *chatCompatClient) CompleteJSON(ctx context.Context, messages []Message, params Params, schemaHint string) (map[string]any, error) {
	return completeJSONWithRetry(ctx, c.Complete, messages, params, schemaHint)
}

func (c *chatCompatClient) Name() string          { return c.name }
func (c *chatCompatClient) MaxContextTokens() int { return c.maxContext }
func (c *chatCompatClient) MaxOutputTokens() int  { return c.maxTokens }
