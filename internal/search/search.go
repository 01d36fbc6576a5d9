// Package search implements hybrid retrieval: vector similarity and keyword
// matches are merged, filtered, optionally reranked, and returned in a
// deterministic order.
package search

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ncrowell/codeatlas/internal/chunker"
	"github.com/ncrowell/codeatlas/internal/embeddings"
	"github.com/ncrowell/codeatlas/internal/rerank"
	"github.com/ncrowell/codeatlas/internal/store"
)

const (
	// DefaultLimit is the result count when the caller does not set one.
	DefaultLimit = 10

	// DefaultKeywordWeight scales scores of hits found only by keyword
	// search, so they rank below comparable vector hits by default.
	DefaultKeywordWeight = 0.5

	// overFetchFactor controls how many candidates each backend search
	// returns relative to the requested limit. The surplus absorbs
	// de-duplication and threshold filtering.
	overFetchFactor = 3

	// previewTokenBudget is the token sum previews compare against when
	// recommending whether to fetch full results.
	previewTokenBudget = 20000
)

// Options configures one search call.
type Options struct {
	Limit         int
	MinScore      float64
	PreviewOnly   bool
	KeywordWeight float64 // 0 means DefaultKeywordWeight
	Filter        store.SearchFilter
}

// Result is one scored block.
type Result struct {
	Block store.BlockRecord `json:"block"`

	// Score is the final ordering score. After a rerank pass it is the
	// refined score; otherwise it equals MergedScore.
	Score float64 `json:"score"`

	// MergedScore is the pre-rerank score from the merge step.
	MergedScore float64 `json:"merged_score"`

	// Sources records which backends found the block: "vector",
	// "keyword", or both.
	Sources []string `json:"sources"`
}

// Preview is the aggregate returned instead of results when PreviewOnly
// is set. It is computed from stored metadata only; no block content is
// read and no reranker is invoked.
type Preview struct {
	CandidateCount int     `json:"candidate_count"`
	TokenSum       int     `json:"token_sum"`
	MeanScore      float64 `json:"mean_score"`
	TokenBudget    int     `json:"token_budget"`
	Recommendation string  `json:"recommendation"`
}

// Response is the outcome of one search call. Exactly one of Results or
// Preview is populated.
type Response struct {
	Results  []Result `json:"results,omitempty"`
	Preview  *Preview `json:"preview,omitempty"`
	Reranked bool     `json:"reranked"`
}

// Storage is the slice of the store the engine reads from.
type Storage interface {
	VectorSearch(queryEmbedding []float32, filter store.SearchFilter, k int) ([]store.VectorHit, error)
	KeywordSearch(query string, filter store.SearchFilter, k int) ([]store.KeywordHit, error)
}

// Engine answers search queries against the store. It is stateless apart
// from a query-embedding cache and safe for concurrent use.
type Engine struct {
	store    Storage
	embedder embeddings.Service
	reranker rerank.Reranker // nil disables the rerank pass

	queryCache *lru.Cache[string, []float32]
}

// New creates a search engine. A nil reranker is valid and skips the
// rerank pass.
func New(st Storage, embedder embeddings.Service, reranker rerank.Reranker) (*Engine, error) {
	// Query embeddings depend only on the query text and model, never on
	// index state, so cached entries cannot go stale.
	cache, err := lru.New[string, []float32](256)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Engine{
		store:      st,
		embedder:   embedder,
		reranker:   reranker,
		queryCache: cache,
	}, nil
}

// Search runs the hybrid pipeline for one query. An embedding failure
// fails the whole call; there is no keyword-only fallback.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.KeywordWeight == 0 {
		opts.KeywordWeight = DefaultKeywordWeight
	}
	if opts.KeywordWeight < 0 || opts.KeywordWeight > 1 {
		return nil, fmt.Errorf("keyword weight must be in [0,1], got %g", opts.KeywordWeight)
	}

	queryVector, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	candidates, err := e.gather(query, queryVector, opts)
	if err != nil {
		return nil, err
	}

	if opts.PreviewOnly {
		return &Response{Preview: buildPreview(candidates)}, nil
	}

	if e.reranker != nil && len(candidates) > 0 {
		if err := e.applyRerank(ctx, query, candidates); err != nil {
			return nil, fmt.Errorf("failed to rerank results: %w", err)
		}
	}

	sortResults(candidates)
	if len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}

	return &Response{Results: candidates, Reranked: e.reranker != nil}, nil
}

func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	cacheKey := string(e.embedder.Provider()) + "/" + e.embedder.ModelName() + "/" + query
	if vector, ok := e.queryCache.Get(cacheKey); ok {
		return vector, nil
	}

	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	e.queryCache.Add(cacheKey, vector)
	return vector, nil
}

// gather runs both backend searches, merges by block identity and applies
// the score threshold. The returned slice is sorted by merged score.
func (e *Engine) gather(query string, queryVector []float32, opts Options) ([]Result, error) {
	k := opts.Limit * overFetchFactor

	vectorHits, err := e.store.VectorSearch(queryVector, opts.Filter, k)
	if err != nil {
		return nil, fmt.Errorf("failed to run vector search: %w", err)
	}

	keywordHits, err := e.store.KeywordSearch(query, opts.Filter, k)
	if err != nil {
		return nil, fmt.Errorf("failed to run keyword search: %w", err)
	}

	log.Debug("Merging search candidates",
		"vector", len(vectorHits), "keyword", len(keywordHits), "k", k)

	merged := mergeHits(vectorHits, keywordHits, opts.KeywordWeight)

	filtered := merged[:0]
	for _, c := range merged {
		if c.MergedScore >= opts.MinScore {
			filtered = append(filtered, c)
		}
	}

	sortResults(filtered)
	return filtered, nil
}

type blockKey struct {
	filePath  string
	startLine int
	endLine   int
}

func keyFor(b store.BlockRecord) blockKey {
	return blockKey{filePath: b.FilePath, startLine: b.StartLine, endLine: b.EndLine}
}

// mergeHits combines both candidate lists by block identity. A block found
// by both backends keeps its vector score. Keyword-only blocks receive a
// rank-position score scaled by keywordWeight, since bm25 rank magnitudes
// are not comparable to cosine similarity.
func mergeHits(vectorHits []store.VectorHit, keywordHits []store.KeywordHit, keywordWeight float64) []Result {
	results := make([]Result, 0, len(vectorHits)+len(keywordHits))
	index := make(map[blockKey]int, len(vectorHits))

	for _, hit := range vectorHits {
		index[keyFor(hit.Block)] = len(results)
		results = append(results, Result{
			Block:       hit.Block,
			MergedScore: hit.Score,
			Sources:     []string{"vector"},
		})
	}

	for i, hit := range keywordHits {
		if at, ok := index[keyFor(hit.Block)]; ok {
			results[at].Sources = append(results[at].Sources, "keyword")
			continue
		}
		results = append(results, Result{
			Block:       hit.Block,
			MergedScore: keywordWeight / float64(1+i),
			Sources:     []string{"keyword"},
		})
	}

	for i := range results {
		results[i].Score = results[i].MergedScore
	}
	return results
}

// applyRerank refines candidate scores in place. Candidates the provider
// does not score keep their merged score.
func (e *Engine) applyRerank(ctx context.Context, query string, candidates []Result) error {
	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = chunker.EmbedText(c.Block.BlockInput)
	}

	scores, err := e.reranker.Rerank(ctx, query, docs)
	if err != nil {
		return err
	}

	for _, s := range scores {
		candidates[s.Index].Score = s.Score
	}
	return nil
}

// sortResults orders candidates descending by score, breaking ties by the
// pre-rerank score, then file path, then start line, so identical calls
// against an unchanged index return identical orderings.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.MergedScore != b.MergedScore {
			return a.MergedScore > b.MergedScore
		}
		if a.Block.FilePath != b.Block.FilePath {
			return a.Block.FilePath < b.Block.FilePath
		}
		return a.Block.StartLine < b.Block.StartLine
	})
}

func buildPreview(candidates []Result) *Preview {
	p := &Preview{
		CandidateCount: len(candidates),
		TokenBudget:    previewTokenBudget,
	}

	var scoreSum float64
	for _, c := range candidates {
		p.TokenSum += c.Block.TokenCount
		scoreSum += c.MergedScore
	}
	if len(candidates) > 0 {
		p.MeanScore = scoreSum / float64(len(candidates))
	}

	if p.TokenSum <= p.TokenBudget {
		p.Recommendation = "candidates fit the token budget; fetch full results"
	} else {
		p.Recommendation = "candidates exceed the token budget; narrow the query or add filters"
	}
	return p
}
