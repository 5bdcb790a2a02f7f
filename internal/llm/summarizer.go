package llm

import (
	"context"
	"fmt"
	"strings"
)

const summarizePrompt = "Summarize the following conversation excerpt in at most three sentences, keeping decisions, facts, and open questions:"

// Summarizer condenses conversation segments through an LLM provider.
// It satisfies the context window manager's summarizer contract.
type Summarizer struct {
	client Client
	model  string
}

// NewSummarizer creates an LLM-backed summarizer. model may be empty to use
// the provider default.
func NewSummarizer(client Client, model string) *Summarizer {
	return &Summarizer{client: client, model: model}
}

// Summarize condenses the text.
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	resp, err := s.client.Complete(ctx, &CompletionRequest{
		Model: s.model,
		Messages: []ChatMessage{
			{Role: "user", Content: summarizePrompt + "\n\n" + text},
		},
		MaxTokens: 256,
	})
	if err != nil {
		return "", fmt.Errorf("summarize segment: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}
