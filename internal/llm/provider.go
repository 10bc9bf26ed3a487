// Package llm provides the generation backends used for answering queries
// and summarizing conversation history.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TimeoutLLMCall bounds every generation request.
const TimeoutLLMCall = 60 * time.Second

// Domain errors for the llm package.
var (
	ErrUnknownProvider = errors.New("unknown llm provider")
	ErrEmptyResponse   = errors.New("llm returned no choices")
)

// Provider is the interface all generation backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "ollama").
	Name() string
	// Generate sends a completion request and returns the response.
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Request represents a generation request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Message represents a chat message.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Response represents a generation response.
type Response struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
	Model        string
}

// Config selects and parameterizes a provider.
type Config struct {
	Provider      string // "openai" or "ollama"
	Model         string
	APIKey        string
	BaseURL       string // optional OpenAI-compatible endpoint override
	OllamaBaseURL string
}

// New constructs the provider named in cfg.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.BaseURL != "" {
			return NewOpenAIProviderWithBaseURL(cfg.APIKey, cfg.BaseURL), nil
		}
		return NewOpenAIProvider(cfg.APIKey), nil
	case "ollama":
		return NewOllamaProvider(cfg.OllamaBaseURL), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
