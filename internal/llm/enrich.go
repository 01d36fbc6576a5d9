package llm

import (
	"context"
	"fmt"
	"strings"
)

// Enricher generates natural-language metadata for blocks before embedding.
type Enricher struct {
	svc Service
}

// NewEnricher wraps an LLM service for block enrichment.
func NewEnricher(svc Service) *Enricher {
	return &Enricher{svc: svc}
}

const summarizeSystem = `You summarize source code and documentation for a search index.
Reply with one or two plain sentences describing what the block does.
No markdown, no preamble, no code.`

// Summarize produces a one-to-two sentence summary of a block. Oversize
// content is truncated before sending; the head of a block carries its
// signature and intent.
func (e *Enricher) Summarize(ctx context.Context, name, kind, content string) (string, error) {
	const maxChars = 6000
	if len(content) > maxChars {
		content = content[:maxChars]
	}

	prompt := fmt.Sprintf("Block %q (%s):\n\n%s", name, kind, content)

	result, err := e.svc.Complete(ctx, []Message{
		{Role: "system", Content: summarizeSystem},
		{Role: "user", Content: prompt},
	}, DefaultCompletionOptions())
	if err != nil {
		return "", fmt.Errorf("summarize %s: %w", name, err)
	}

	return strings.TrimSpace(result), nil
}

const bestQuestionSystem = `You write the single question a developer would most likely ask
that this code answers. Reply with the question only.`

// BestQuestion produces the question a block best answers, used as a chat
// starter and as additional keyword surface.
func (e *Enricher) BestQuestion(ctx context.Context, name, summary, content string) (string, error) {
	const maxChars = 4000
	if len(content) > maxChars {
		content = content[:maxChars]
	}

	prompt := fmt.Sprintf("Block %q.\nSummary: %s\n\n%s", name, summary, content)

	result, err := e.svc.Complete(ctx, []Message{
		{Role: "system", Content: bestQuestionSystem},
		{Role: "user", Content: prompt},
	}, DefaultCompletionOptions())
	if err != nil {
		return "", fmt.Errorf("best question for %s: %w", name, err)
	}

	return strings.TrimSpace(result), nil
}
