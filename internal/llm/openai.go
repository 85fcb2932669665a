package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Defaults for the OpenAI-compatible backends.
const (
	OpenAIBaseURL      = "https://api.openai.com/v1"
	OpenAIDefaultModel = "gpt-4.1-mini"
	ZAIBaseURL         = "https://api.z.ai/api/paas/v4"
	ZAIDefaultModel    = "glm-4.5-air"
)

// defaultHTTPTimeout bounds a single HTTP exchange. The arbiter applies its
// own, shorter per-attempt context deadline on top.
const defaultHTTPTimeout = 20 * time.Second

// OpenAICompatible calls any /chat/completions endpoint that speaks the
// OpenAI wire format. Used for both openai and zai.
type OpenAICompatible struct {
	name       string
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOpenAICompatible creates a client. Empty baseURL and model fall back to
// the defaults for name.
func NewOpenAICompatible(name, apiKey, baseURL, model string, timeout time.Duration) *OpenAICompatible {
	if baseURL == "" {
		baseURL = OpenAIBaseURL
		if name == ProviderZAI {
			baseURL = ZAIBaseURL
		}
	}
	if model == "" {
		model = OpenAIDefaultModel
		if name == ProviderZAI {
			model = ZAIDefaultModel
		}
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &OpenAICompatible{
		name:       name,
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIChatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *OpenAICompatible) Name() string { return c.name }

func (c *OpenAICompatible) Complete(ctx context.Context, in Request) (Response, error) {
	model := c.model
	if in.Model != "" {
		model = in.Model
	}
	messages := make([]chatMessage, 0, 2)
	if in.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: in.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: in.User})

	payload := openAIChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: in.Temperature,
		MaxTokens:   in.MaxTokens,
	}
	if in.Format == FormatJSON {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("%s: marshal: %w", c.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("%s: create request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("%s: request failed: %w", c.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Response{}, &StatusError{Provider: c.name, Code: resp.StatusCode, Body: string(respBody)}
	}

	var result openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Response{}, fmt.Errorf("%s: decode response: %w", c.name, err)
	}
	if len(result.Choices) == 0 {
		return Response{}, fmt.Errorf("%s: no choices in response", c.name)
	}

	if result.Model != "" {
		model = result.Model
	}
	return Response{
		Text:     strings.TrimSpace(result.Choices[0].Message.Content),
		Model:    model,
		Provider: c.name,
	}, nil
}
