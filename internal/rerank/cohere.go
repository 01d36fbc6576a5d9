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

const defaultCohereURL = "https://api.cohere.ai/v1/rerank"

// CohereReranker scores documents through the Cohere rerank API.
type CohereReranker struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

type cohereRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n"`
	ReturnDocuments bool     `json:"return_documents"`
}

// NewCohereReranker creates a Cohere rerank client.
func NewCohereReranker(apiKey, model, baseURL string) (*CohereReranker, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Cohere API key is required")
	}
	if model == "" {
		model = "rerank-english-v3.0"
	}
	if baseURL == "" {
		baseURL = defaultCohereURL
	}

	return &CohereReranker{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Rerank scores the documents against the query.
func (r *CohereReranker) Rerank(ctx context.Context, query string, docs []string) ([]Score, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	jsonBody, err := json.Marshal(cohereRequest{
		Model:           r.model,
		Query:           query,
		Documents:       docs,
		TopN:            len(docs),
		ReturnDocuments: false,
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

	log.Debug("Requesting rerank from Cohere", "model", r.model, "docs", len(docs))

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cohere returned status %d: %s", resp.StatusCode, string(body))
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
func (r *CohereReranker) Name() string {
	return "cohere"
}
