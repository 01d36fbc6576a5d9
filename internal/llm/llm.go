// Package llm provides chat completion services used for block enrichment.
package llm

import (
	"context"
	"fmt"
)

// Provider represents an LLM provider type.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// CompletionOptions configures the completion request.
type CompletionOptions struct {
	// Temperature controls randomness (0-1).
	Temperature float64

	// MaxTokens limits the response length.
	MaxTokens int
}

// DefaultCompletionOptions returns sensible defaults for enrichment calls.
func DefaultCompletionOptions() CompletionOptions {
	return CompletionOptions{
		Temperature: 0.3,
		MaxTokens:   512,
	}
}

// Service defines the interface for LLM completion providers.
type Service interface {
	// Complete generates a completion for the given messages.
	Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error)

	// Provider returns the provider name.
	Provider() Provider

	// ModelName returns the model name.
	ModelName() string
}

// Options selects and configures a provider.
type Options struct {
	Provider  string
	Model     string
	OllamaURL string
	APIKey    string
	BaseURL   string
}

// NewService creates an LLM service from options.
func NewService(opts Options) (Service, error) {
	switch opts.Provider {
	case "ollama":
		return NewOllamaService(opts.OllamaURL, opts.Model)
	case "openai":
		return NewOpenAIService(opts.APIKey, opts.Model, opts.BaseURL)
	case "anthropic":
		return NewAnthropicService(opts.APIKey, opts.Model)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", opts.Provider)
	}
}
