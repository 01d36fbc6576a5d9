// Package embeddings generates vector embeddings for blocks and queries.
package embeddings

import (
	"context"
	"fmt"

	"github.com/ncrowell/codeatlas/internal/store"
)

// Service defines the interface for embedding providers.
type Service interface {
	// Embed generates an embedding for document text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedQuery generates an embedding for query text. Some models use a
	// different task prefix for queries.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple document texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimensions for this model.
	Dimensions() int

	// Provider returns the provider name.
	Provider() store.EmbeddingProvider

	// ModelName returns the model name.
	ModelName() string
}

// Options selects and configures a provider.
type Options struct {
	Provider   string
	Model      string
	OllamaURL  string
	APIKey     string
	BaseURL    string
	Dimensions int
}

// Known model dimensions.
var modelDimensions = map[string]int{
	// Ollama models
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,

	// OpenAI models
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// ModelDimensions returns the known dimensions for a model, or 0 if unknown.
func ModelDimensions(model string) int {
	return modelDimensions[model]
}

// NewService creates an embedding service from options.
func NewService(opts Options) (Service, error) {
	switch opts.Provider {
	case "ollama":
		return NewOllamaService(opts.OllamaURL, opts.Model)
	case "openai":
		return NewOpenAIService(opts.APIKey, opts.Model, opts.BaseURL, opts.Dimensions)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", opts.Provider)
	}
}
