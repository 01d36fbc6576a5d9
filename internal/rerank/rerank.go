// Package rerank provides cross-encoder reranking of search candidates
// through hosted rerank APIs.
package rerank

import (
	"context"
	"fmt"
)

// Score is one reranked document with its refined relevance score.
type Score struct {
	Index int     // position in the input document slice
	Score float64 // refined relevance, higher is better
}

// Reranker scores documents against a query.
type Reranker interface {
	// Rerank returns a refined score per input document. Results may be
	// a subset when the provider truncates, and arrive in provider order.
	Rerank(ctx context.Context, query string, docs []string) ([]Score, error)

	// Name identifies the provider for logging.
	Name() string
}

// Options selects and configures a provider.
type Options struct {
	Provider string // "jina", "cohere" or "" for none
	APIKey   string
	Model    string
	BaseURL  string
}

// New creates a reranker from options. An empty provider returns nil,
// which callers treat as "no rerank pass".
func New(opts Options) (Reranker, error) {
	switch opts.Provider {
	case "":
		return nil, nil
	case "jina":
		return NewJinaReranker(opts.APIKey, opts.Model, opts.BaseURL)
	case "cohere":
		return NewCohereReranker(opts.APIKey, opts.Model, opts.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported rerank provider: %s", opts.Provider)
	}
}
