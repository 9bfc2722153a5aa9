package embedding

import (
	"context"
	"strings"
)

// ExtractiveSummarizer implements Summarizer without a generative backend,
// for deployments running the Ollama embedder (which only implements
// EmbeddingEngine): it concatenates the most recent items up to
// targetTokens, using the same character-length/4 estimate internal/rehydrate
// uses elsewhere, rather than refusing consolidation outright.
type ExtractiveSummarizer struct{}

// NewExtractiveSummarizer returns the truncation-based fallback Summarizer.
func NewExtractiveSummarizer() *ExtractiveSummarizer {
	return &ExtractiveSummarizer{}
}

// Summarize joins items newest-first until the target token budget (by the
// same chars/4 estimate internal/rehydrate.DefaultTokenizer uses) is spent.
func (ExtractiveSummarizer) Summarize(ctx context.Context, items []string, intent string, targetTokens int) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	budgetChars := targetTokens * 4
	if budgetChars <= 0 {
		budgetChars = 400
	}

	var b strings.Builder
	for i := len(items) - 1; i >= 0 && b.Len() < budgetChars; i-- {
		item := strings.TrimSpace(items[i])
		if item == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		remaining := budgetChars - b.Len()
		if len(item) > remaining {
			item = item[:remaining]
		}
		b.WriteString(item)
	}
	return b.String(), nil
}
