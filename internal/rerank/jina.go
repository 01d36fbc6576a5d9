package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
)

const defaultJinaURL = "https://api.jina.ai/v1/rerank"

// JinaReranker scores documents through the Jina rerank API.
type JinaReranker struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

type jinaRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"relevance_score"`
	} `json:"results"`
}

// NewJinaReranker creates a Jina rerank client.
func NewJinaReranker(apiKey, model, baseURL string) (*JinaReranker, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Jina API key is required")
	}
	if model == "" {
		model = "jina-reranker-v2-base-multilingual"
	}
	if baseURL == "" {
		baseURL = defaultJinaURL
	}

	return &JinaReranker{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Rerank scores the documents against the query.
func (r *JinaReranker) Rerank(ctx context.Context, query string, docs []string) ([]Score, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	jsonBody, err := json.Marshal(jinaRequest{
		Model:     r.model,
		Query:     query,
		Documents: docs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.baseURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	log.Debug("Requesting rerank from Jina", "model", r.model, "docs", len(docs))

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("jina returned status %d: %s", resp.StatusCode, string(body))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	scores := make([]Score, 0, len(result.Results))
	for _, item := range result.Results {
		if item.Index < 0 || item.Index >= len(docs) {
			continue
		}
		scores = append(scores, Score{Index: item.Index, Score: item.Score})
	}

	return scores, nil
}

// Name identifies the provider.
func (r *JinaReranker) Name() string {
	return "jina"
}
