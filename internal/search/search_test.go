package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncrowell/codeatlas/internal/rerank"
	"github.com/ncrowell/codeatlas/internal/store"
)

type fakeStorage struct {
	vectorHits  []store.VectorHit
	keywordHits []store.KeywordHit
	vectorErr   error
	keywordErr  error

	vectorCalls  int
	keywordCalls int
	lastK        int
}

func (f *fakeStorage) VectorSearch(_ []float32, _ store.SearchFilter, k int) ([]store.VectorHit, error) {
	f.vectorCalls++
	f.lastK = k
	return f.vectorHits, f.vectorErr
}

func (f *fakeStorage) KeywordSearch(_ string, _ store.SearchFilter, k int) ([]store.KeywordHit, error) {
	f.keywordCalls++
	return f.keywordHits, f.keywordErr
}

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, f.err
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, f.err
}

func (f *fakeEmbedder) Dimensions() int                   { return 3 }
func (f *fakeEmbedder) Provider() store.EmbeddingProvider { return store.ProviderOllama }
func (f *fakeEmbedder) ModelName() string                 { return "fake-embed" }

type fakeReranker struct {
	scores []rerank.Score
	err    error
	calls  int
}

func (f *fakeReranker) Rerank(_ context.Context, _ string, docs []string) ([]rerank.Score, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.scores != nil {
		return f.scores, nil
	}
	// Default: reverse the input order with descending scores.
	out := make([]rerank.Score, len(docs))
	for i := range docs {
		out[i] = rerank.Score{Index: len(docs) - 1 - i, Score: float64(i+1) / float64(len(docs)+1)}
	}
	return out, nil
}

func (f *fakeReranker) Name() string { return "fake" }

func block(path string, start, end, tokens int) store.BlockRecord {
	return store.BlockRecord{
		ID: int64(start),
		BlockInput: store.BlockInput{
			Name:       fmt.Sprintf("%s:%d", path, start),
			Kind:       "function",
			Category:   store.CategoryCode,
			FilePath:   path,
			StartLine:  start,
			EndLine:    end,
			Content:    "func example() {}",
			TokenCount: tokens,
		},
	}
}

func vectorHit(b store.BlockRecord, score float64) store.VectorHit {
	return store.VectorHit{Block: b, Distance: 1 - score, Score: score}
}

func TestSearchMergePrefersVectorScore(t *testing.T) {
	shared := block("a.go", 1, 10, 50)
	st := &fakeStorage{
		vectorHits:  []store.VectorHit{vectorHit(shared, 0.9)},
		keywordHits: []store.KeywordHit{{Block: shared, Rank: -4.2}},
	}

	engine, err := New(st, &fakeEmbedder{}, nil)
	require.NoError(t, err)

	resp, err := engine.Search(context.Background(), "example", Options{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	got := resp.Results[0]
	assert.InDelta(t, 0.9, got.Score, 1e-9, "shared blocks keep the vector score")
	assert.ElementsMatch(t, []string{"vector", "keyword"}, got.Sources)
	assert.False(t, resp.Reranked)
}

func TestSearchKeywordOnlyHitsScoredByPosition(t *testing.T) {
	st := &fakeStorage{
		keywordHits: []store.KeywordHit{
			{Block: block("first.go", 1, 5, 10), Rank: -5},
			{Block: block("second.go", 1, 5, 10), Rank: -3},
		},
	}

	engine, err := New(st, &fakeEmbedder{}, nil)
	require.NoError(t, err)

	resp, err := engine.Search(context.Background(), "q", Options{KeywordWeight: 0.5})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	assert.InDelta(t, 0.5, resp.Results[0].Score, 1e-9)
	assert.InDelta(t, 0.25, resp.Results[1].Score, 1e-9)
	assert.Equal(t, "first.go", resp.Results[0].Block.FilePath)
}

func TestSearchAppliesMinScore(t *testing.T) {
	st := &fakeStorage{
		vectorHits: []store.VectorHit{
			vectorHit(block("keep.go", 1, 5, 10), 0.8),
			vectorHit(block("drop.go", 1, 5, 10), 0.2),
		},
	}

	engine, err := New(st, &fakeEmbedder{}, nil)
	require.NoError(t, err)

	resp, err := engine.Search(context.Background(), "q", Options{MinScore: 0.5})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "keep.go", resp.Results[0].Block.FilePath)
}

func TestSearchOverFetchesAndTruncates(t *testing.T) {
	var hits []store.VectorHit
	for i := 0; i < 12; i++ {
		hits = append(hits, vectorHit(block(fmt.Sprintf("f%02d.go", i), 1, 5, 10), 0.9-float64(i)*0.01))
	}
	st := &fakeStorage{vectorHits: hits}

	engine, err := New(st, &fakeEmbedder{}, nil)
	require.NoError(t, err)

	resp, err := engine.Search(context.Background(), "q", Options{Limit: 4})
	require.NoError(t, err)

	assert.Equal(t, 12, st.lastK, "backends are asked for 3x the limit")
	assert.Len(t, resp.Results, 4)
	assert.Equal(t, "f00.go", resp.Results[0].Block.FilePath)
}

func TestSearchDeterministicOrder(t *testing.T) {
	// Equal scores force the tie-break path.
	st := &fakeStorage{
		vectorHits: []store.VectorHit{
			vectorHit(block("z.go", 1, 5, 10), 0.7),
			vectorHit(block("a.go", 1, 5, 10), 0.7),
			vectorHit(block("a.go", 20, 30, 10), 0.7),
		},
	}

	engine, err := New(st, &fakeEmbedder{}, nil)
	require.NoError(t, err)

	var orders [][]string
	for i := 0; i < 2; i++ {
		resp, err := engine.Search(context.Background(), "q", Options{})
		require.NoError(t, err)
		var order []string
		for _, r := range resp.Results {
			order = append(order, fmt.Sprintf("%s:%d", r.Block.FilePath, r.Block.StartLine))
		}
		orders = append(orders, order)
	}

	assert.Equal(t, []string{"a.go:1", "a.go:20", "z.go:1"}, orders[0])
	assert.Equal(t, orders[0], orders[1], "identical calls return identical order")
}

func TestSearchRerankReorders(t *testing.T) {
	st := &fakeStorage{
		vectorHits: []store.VectorHit{
			vectorHit(block("top.go", 1, 5, 10), 0.9),
			vectorHit(block("bottom.go", 1, 5, 10), 0.6),
		},
	}
	rr := &fakeReranker{scores: []rerank.Score{
		{Index: 0, Score: 0.2},
		{Index: 1, Score: 0.8},
	}}

	engine, err := New(st, &fakeEmbedder{}, rr)
	require.NoError(t, err)

	resp, err := engine.Search(context.Background(), "q", Options{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	assert.True(t, resp.Reranked)
	assert.Equal(t, "bottom.go", resp.Results[0].Block.FilePath)
	assert.InDelta(t, 0.8, resp.Results[0].Score, 1e-9)
	assert.InDelta(t, 0.6, resp.Results[0].MergedScore, 1e-9)
}

func TestSearchRerankTieBreaksByMergedScore(t *testing.T) {
	st := &fakeStorage{
		vectorHits: []store.VectorHit{
			vectorHit(block("low.go", 1, 5, 10), 0.5),
			vectorHit(block("high.go", 1, 5, 10), 0.9),
		},
	}
	rr := &fakeReranker{scores: []rerank.Score{
		{Index: 0, Score: 0.7},
		{Index: 1, Score: 0.7},
	}}

	engine, err := New(st, &fakeEmbedder{}, rr)
	require.NoError(t, err)

	resp, err := engine.Search(context.Background(), "q", Options{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "high.go", resp.Results[0].Block.FilePath)
}

func TestSearchRerankSubsetKeepsMergedScores(t *testing.T) {
	st := &fakeStorage{
		vectorHits: []store.VectorHit{
			vectorHit(block("scored.go", 1, 5, 10), 0.4),
			vectorHit(block("unscored.go", 1, 5, 10), 0.6),
		},
	}
	rr := &fakeReranker{scores: []rerank.Score{{Index: 1, Score: 0.95}}}

	engine, err := New(st, &fakeEmbedder{}, rr)
	require.NoError(t, err)

	resp, err := engine.Search(context.Background(), "q", Options{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	// gather sorts by merged score, so index 1 passed to the reranker is
	// the lower-scored candidate.
	assert.Equal(t, "scored.go", resp.Results[0].Block.FilePath)
	assert.InDelta(t, 0.95, resp.Results[0].Score, 1e-9)
	assert.InDelta(t, 0.6, resp.Results[1].Score, 1e-9)
}

func TestSearchPreviewSkipsReranker(t *testing.T) {
	st := &fakeStorage{
		vectorHits: []store.VectorHit{
			vectorHit(block("a.go", 1, 5, 120), 0.8),
			vectorHit(block("b.go", 1, 5, 80), 0.6),
		},
	}
	rr := &fakeReranker{}

	engine, err := New(st, &fakeEmbedder{}, rr)
	require.NoError(t, err)

	resp, err := engine.Search(context.Background(), "q", Options{PreviewOnly: true})
	require.NoError(t, err)

	require.NotNil(t, resp.Preview)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 0, rr.calls, "preview never invokes the reranker")
	assert.Equal(t, 2, resp.Preview.CandidateCount)
	assert.Equal(t, 200, resp.Preview.TokenSum)
	assert.InDelta(t, 0.7, resp.Preview.MeanScore, 1e-9)
	assert.Contains(t, resp.Preview.Recommendation, "fit")
}

func TestSearchPreviewTokenSumMatchesFilteredSet(t *testing.T) {
	st := &fakeStorage{
		vectorHits: []store.VectorHit{
			vectorHit(block("keep.go", 1, 5, 150), 0.9),
			vectorHit(block("drop.go", 1, 5, 999), 0.1),
		},
	}

	engine, err := New(st, &fakeEmbedder{}, nil)
	require.NoError(t, err)

	resp, err := engine.Search(context.Background(), "q", Options{PreviewOnly: true, MinScore: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Preview.CandidateCount)
	assert.Equal(t, 150, resp.Preview.TokenSum, "dropped candidates do not count")
}

func TestSearchPreviewOverBudgetRecommendation(t *testing.T) {
	st := &fakeStorage{
		vectorHits: []store.VectorHit{
			vectorHit(block("big.go", 1, 5, previewTokenBudget+1), 0.9),
		},
	}

	engine, err := New(st, &fakeEmbedder{}, nil)
	require.NoError(t, err)

	resp, err := engine.Search(context.Background(), "q", Options{PreviewOnly: true})
	require.NoError(t, err)
	assert.Contains(t, resp.Preview.Recommendation, "narrow")
}

func TestSearchFailsClosedOnEmbeddingError(t *testing.T) {
	st := &fakeStorage{
		keywordHits: []store.KeywordHit{{Block: block("a.go", 1, 5, 10), Rank: -5}},
	}
	emb := &fakeEmbedder{err: fmt.Errorf("provider unavailable")}

	engine, err := New(st, emb, nil)
	require.NoError(t, err)

	resp, err := engine.Search(context.Background(), "q", Options{})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, 0, st.keywordCalls, "no keyword-only fallback")
}

func TestSearchFailsClosedOnKeywordError(t *testing.T) {
	st := &fakeStorage{
		vectorHits: []store.VectorHit{vectorHit(block("a.go", 1, 5, 10), 0.9)},
		keywordErr: fmt.Errorf("fts offline"),
	}

	engine, err := New(st, &fakeEmbedder{}, nil)
	require.NoError(t, err)

	_, err = engine.Search(context.Background(), "q", Options{})
	assert.Error(t, err)
}

func TestSearchQueryEmbeddingCached(t *testing.T) {
	st := &fakeStorage{}
	emb := &fakeEmbedder{}

	engine, err := New(st, emb, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := engine.Search(context.Background(), "same query", Options{})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, emb.calls)
}

func TestSearchRejectsBadInput(t *testing.T) {
	engine, err := New(&fakeStorage{}, &fakeEmbedder{}, nil)
	require.NoError(t, err)

	_, err = engine.Search(context.Background(), "", Options{})
	assert.Error(t, err)

	_, err = engine.Search(context.Background(), "q", Options{KeywordWeight: 1.5})
	assert.Error(t, err)
}
