package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockRerankServer(t *testing.T, wantAuth string, handler func(query string, docs []string) []map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, wantAuth, r.Header.Get("Authorization"))

		var req struct {
			Model     string   `json:"model"`
			Query     string   `json:"query"`
			Documents []string `json:"documents"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		json.NewEncoder(w).Encode(map[string]any{
			"results": handler(req.Query, req.Documents),
		})
	}))
}

func TestNewRerankerFactory(t *testing.T) {
	r, err := New(Options{Provider: ""})
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = New(Options{Provider: "jina", APIKey: "key"})
	require.NoError(t, err)
	assert.Equal(t, "jina", r.Name())

	r, err = New(Options{Provider: "cohere", APIKey: "key"})
	require.NoError(t, err)
	assert.Equal(t, "cohere", r.Name())

	_, err = New(Options{Provider: "bogus"})
	assert.Error(t, err)

	_, err = New(Options{Provider: "jina"})
	assert.Error(t, err, "missing API key should be rejected")
}

func TestJinaRerank(t *testing.T) {
	server := mockRerankServer(t, "Bearer test-key", func(query string, docs []string) []map[string]any {
		assert.Equal(t, "how to parse yaml", query)
		assert.Len(t, docs, 3)
		return []map[string]any{
			{"index": 2, "relevance_score": 0.91},
			{"index": 0, "relevance_score": 0.44},
			{"index": 1, "relevance_score": 0.12},
		}
	})
	defer server.Close()

	r, err := NewJinaReranker("test-key", "", server.URL)
	require.NoError(t, err)

	scores, err := r.Rerank(context.Background(), "how to parse yaml", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.Equal(t, Score{Index: 2, Score: 0.91}, scores[0])
	assert.Equal(t, Score{Index: 0, Score: 0.44}, scores[1])
}

func TestCohereRerank(t *testing.T) {
	server := mockRerankServer(t, "Bearer co-key", func(query string, docs []string) []map[string]any {
		return []map[string]any{
			{"index": 1, "relevance_score": 0.8},
			{"index": 0, "relevance_score": 0.3},
		}
	})
	defer server.Close()

	r, err := NewCohereReranker("co-key", "", server.URL)
	require.NoError(t, err)

	scores, err := r.Rerank(context.Background(), "query", []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, 1, scores[0].Index)
	assert.InDelta(t, 0.8, scores[0].Score, 1e-9)
}

func TestRerankDropsOutOfRangeIndices(t *testing.T) {
	server := mockRerankServer(t, "Bearer k", func(query string, docs []string) []map[string]any {
		return []map[string]any{
			{"index": 0, "relevance_score": 0.5},
			{"index": 9, "relevance_score": 0.9},
			{"index": -1, "relevance_score": 0.7},
		}
	})
	defer server.Close()

	r, err := NewJinaReranker("k", "", server.URL)
	require.NoError(t, err)

	scores, err := r.Rerank(context.Background(), "q", []string{"only"})
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, 0, scores[0].Index)
}

func TestRerankEmptyDocs(t *testing.T) {
	r, err := NewJinaReranker("k", "", "http://unused.invalid")
	require.NoError(t, err)

	scores, err := r.Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestRerankServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"message":"rate limited"}`)
	}))
	defer server.Close()

	r, err := NewCohereReranker("k", "", server.URL)
	require.NoError(t, err)

	_, err = r.Rerank(context.Background(), "q", []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
