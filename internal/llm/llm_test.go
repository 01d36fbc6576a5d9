package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServiceFactory(t *testing.T) {
	t.Run("ollama", func(t *testing.T) {
		svc, err := NewService(Options{Provider: "ollama", Model: "llama3.2"})
		require.NoError(t, err)
		assert.Equal(t, ProviderOllama, svc.Provider())
		assert.Equal(t, "llama3.2", svc.ModelName())
	})

	t.Run("openai requires key", func(t *testing.T) {
		_, err := NewService(Options{Provider: "openai", Model: "gpt-4o-mini"})
		assert.Error(t, err)
	})

	t.Run("anthropic requires key", func(t *testing.T) {
		_, err := NewService(Options{Provider: "anthropic", Model: "claude-sonnet-4-5"})
		assert.Error(t, err)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := NewService(Options{Provider: "bogus"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported LLM provider")
	})
}

func mockOllamaChat(t *testing.T, reply string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.NotEmpty(t, req.Messages)

		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: reply},
			Done:    true,
		})
	}))
}

func TestOllamaComplete(t *testing.T) {
	server := mockOllamaChat(t, "the answer")
	defer server.Close()

	svc, err := NewOllamaService(server.URL, "llama3.2")
	require.NoError(t, err)

	result, err := svc.Complete(context.Background(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "question"},
	}, DefaultCompletionOptions())
	require.NoError(t, err)
	assert.Equal(t, "the answer", result)
}

func TestOllamaCompleteServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("model not loaded"))
	}))
	defer server.Close()

	svc, _ := NewOllamaService(server.URL, "llama3.2")
	_, err := svc.Complete(context.Background(), []Message{{Role: "user", Content: "q"}}, DefaultCompletionOptions())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestEnricherSummarize(t *testing.T) {
	server := mockOllamaChat(t, "  Parses the config file into a struct.  ")
	defer server.Close()

	svc, _ := NewOllamaService(server.URL, "llama3.2")
	enricher := NewEnricher(svc)

	summary, err := enricher.Summarize(context.Background(), "ParseConfig", "function", "func ParseConfig() {}")
	require.NoError(t, err)
	assert.Equal(t, "Parses the config file into a struct.", summary)
}

func TestEnricherBestQuestion(t *testing.T) {
	server := mockOllamaChat(t, "How is the config file parsed?")
	defer server.Close()

	svc, _ := NewOllamaService(server.URL, "llama3.2")
	enricher := NewEnricher(svc)

	question, err := enricher.BestQuestion(context.Background(), "ParseConfig", "Parses config", "func ParseConfig() {}")
	require.NoError(t, err)
	assert.Equal(t, "How is the config file parsed?", question)
}
