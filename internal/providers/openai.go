package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	openaiDefaultBase  = "https://api.openai.com/v1"
	openaiDefaultModel = "gpt-4o-mini"
)

// OpenAI speaks the /chat/completions protocol. Any OpenAI-compatible
// gateway works by overriding BaseURL.
type OpenAI struct {
	opts   Options
	client *http.Client
}

func NewOpenAI(opts Options) (*OpenAI, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	opts.fill()
	if opts.BaseURL == "" {
		opts.BaseURL = openaiDefaultBase
	}
	if opts.Model == "" {
		opts.Model = openaiDefaultModel
	}
	return &OpenAI{opts: opts, client: &http.Client{Timeout: opts.Timeout}}, nil
}

func (p *OpenAI) Name() string { return "openai" }

type openaiRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *OpenAI) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	msgs := make([]ChatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, ChatMessage{Role: RoleSystem, Content: req.System})
	}
	msgs = append(msgs, req.Messages...)

	payload := openaiRequest{
		Model:       p.opts.Model,
		Messages:    msgs,
		MaxTokens:   p.maxTokens(req),
		Temperature: p.temperature(req),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("openai: encode request: %w", err)
	}

	url := strings.TrimRight(p.opts.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.opts.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("openai: read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return ChatResponse{}, &StatusError{Provider: "openai", Code: resp.StatusCode, Body: truncateBody(respBody)}
	}

	var parsed openaiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return ChatResponse{}, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return ChatResponse{}, ErrEmptyResponse
	}
	return ChatResponse{
		Content:      parsed.Choices[0].Message.Content,
		Model:        parsed.Model,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}

func (p *OpenAI) maxTokens(req ChatRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return p.opts.MaxTokens
}

func (p *OpenAI) temperature(req ChatRequest) float64 {
	if req.Temperature > 0 {
		return req.Temperature
	}
	return p.opts.Temperature
}
