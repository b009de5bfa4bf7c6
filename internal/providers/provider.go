// Package providers contains the LLM backend adapters. Each adapter
// speaks one vendor wire protocol and normalizes it to ChatRequest and
// ChatResponse so the orchestrator stays vendor-agnostic.
package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message roles on the provider wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrNoAPIKey is returned by constructors when the credential is missing.
	ErrNoAPIKey = errors.New("providers: api key is required")
	// ErrEmptyResponse is returned when the backend answers 200 with no content.
	ErrEmptyResponse = errors.New("providers: backend returned no content")
)

// ChatMessage is one turn of a conversation sent to the backend.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the normalized completion request.
type ChatRequest struct {
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatResponse is the normalized completion result.
type ChatResponse struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider is implemented by each backend adapter.
type Provider interface {
	// Chat sends the conversation and returns the assistant reply.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name identifies the adapter in logs.
	Name() string
}

// StatusError reports a non-2xx backend reply with whatever body text
// the backend sent, truncated for logs.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("providers: %s returned status %d: %s", e.Provider, e.Code, e.Body)
}

// Options configures a backend adapter.
type Options struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

const (
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 1024
)

func (o *Options) fill() {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = defaultMaxTokens
	}
}

// New picks the adapter for the named vendor.
func New(vendor string, opts Options) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(vendor)) {
	case "openai", "":
		return NewOpenAI(opts)
	case "anthropic":
		return NewAnthropic(opts)
	case "gemini", "google":
		return NewGemini(opts)
	default:
		return nil, fmt.Errorf("providers: unknown vendor %q", vendor)
	}
}

func truncateBody(b []byte) string {
	const max = 512
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
