package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ncrowell/codeatlas/internal/config"
	"github.com/ncrowell/codeatlas/internal/embeddings"
	"github.com/ncrowell/codeatlas/internal/indexer"
	"github.com/ncrowell/codeatlas/internal/job"
	"github.com/ncrowell/codeatlas/internal/llm"
	"github.com/ncrowell/codeatlas/internal/rerank"
	"github.com/ncrowell/codeatlas/internal/search"
	"github.com/ncrowell/codeatlas/internal/store"
)

// openStore opens the shared SQLite database, creating its directory on
// first use.
func openStore(cfg *config.Config) (store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

func newEmbedder(cfg *config.Config) (embeddings.Service, error) {
	opts := embeddings.Options{
		Provider:  cfg.Embeddings.Provider,
		OllamaURL: cfg.Embeddings.Ollama.URL,
	}
	switch cfg.Embeddings.Provider {
	case "ollama":
		opts.Model = cfg.Embeddings.Ollama.Model
	case "openai":
		opts.Model = cfg.Embeddings.OpenAI.Model
		opts.APIKey = cfg.Embeddings.OpenAI.APIKey
		opts.BaseURL = cfg.Embeddings.OpenAI.BaseURL
		opts.Dimensions = cfg.Embeddings.OpenAI.Dimensions
	}

	emb, err := embeddings.NewService(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding service: %w", err)
	}
	return emb, nil
}

// newEnricher builds the summarization service, or nil when enrichment is
// not requested.
func newEnricher(cfg *config.Config, enabled bool) (*llm.Enricher, error) {
	if !enabled {
		return nil, nil
	}

	opts := llm.Options{
		Provider:  cfg.LLM.Provider,
		OllamaURL: cfg.LLM.Ollama.URL,
	}
	switch cfg.LLM.Provider {
	case "ollama":
		opts.Model = cfg.LLM.Ollama.Model
	case "openai":
		opts.Model = cfg.LLM.OpenAI.Model
		opts.APIKey = cfg.LLM.OpenAI.APIKey
		opts.BaseURL = cfg.LLM.OpenAI.BaseURL
	case "anthropic":
		opts.Model = cfg.LLM.Anthropic.Model
		opts.APIKey = cfg.LLM.Anthropic.APIKey
	}

	svc, err := llm.NewService(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM service: %w", err)
	}
	return llm.NewEnricher(svc), nil
}

func newReranker(cfg *config.Config) (rerank.Reranker, error) {
	return rerank.New(rerank.Options{
		Provider: cfg.Rerank.Provider,
		APIKey:   cfg.Rerank.APIKey,
		Model:    cfg.Rerank.Model,
		BaseURL:  cfg.Rerank.BaseURL,
	})
}

func newIndexer(cfg *config.Config, st store.Store, emb embeddings.Service, enrich bool) (*indexer.Indexer, error) {
	enricher, err := newEnricher(cfg, enrich)
	if err != nil {
		return nil, err
	}
	return indexer.New(st, emb, enricher, job.NewTracker()), nil
}

func newSearchEngine(cfg *config.Config, st store.Store, emb embeddings.Service) (*search.Engine, error) {
	reranker, err := newReranker(cfg)
	if err != nil {
		return nil, err
	}
	return search.New(st, emb, reranker)
}

// indexerOptions translates config plus command flags into run options.
func indexerOptions(cfg *config.Config, rootPath, collection, project string, force, enrich, dryRun bool, extraIgnore []string) indexer.Options {
	return indexer.Options{
		RootPath:       rootPath,
		Collection:     collection,
		Project:        project,
		Force:          force,
		Enrich:         enrich,
		DryRun:         dryRun,
		Workers:        cfg.Indexing.Workers,
		SplitThreshold: cfg.Indexing.SplitThreshold,
		IgnorePatterns: append(append([]string{}, cfg.Ignore...), extraIgnore...),
		MaxFileSize:    int64(cfg.Indexing.MaxFileSize),

		ThrottleSignatures: cfg.Indexing.ThrottleSignatures,
	}
}
