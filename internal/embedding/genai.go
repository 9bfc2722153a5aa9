package embedding

import (
	"context"
	"fmt"
	"strings"

	"acms/internal/domain"
	"acms/internal/logging"

	"google.golang.org/genai"
)

// maxBatchSize is GenAI's per-request embedding batch limit.
const maxBatchSize = 100

// genAIDimensions is gemini-embedding-001's output dimensionality.
const genAIDimensions = 3072

func int32Ptr(i int32) *int32 { return &i }

// GenAIEngine embeds and summarizes via Google's Gemini API. It implements
// both EmbeddingEngine and Summarizer, since a single generative model
// backend naturally covers both concerns of spec.md §4.7 — unlike the
// embedding-only Ollama backend.
type GenAIEngine struct {
	client   *genai.Client
	model    string
	taskType string
}

// NewGenAIEngine constructs a GenAI-backed embedder/summarizer.
func NewGenAIEngine(apiKey, model, taskType string) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, domain.New(domain.KindValidation, "GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if taskType == "" {
		taskType = "SEMANTIC_SIMILARITY"
	}

	logging.Embedding("creating genai engine model=%s task_type=%s", model, taskType)
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, domain.Wrap(domain.KindBackendUnavailable, "create genai client", err).WithBackend("genai")
	}

	return &GenAIEngine{client: client, model: model, taskType: taskType}, nil
}

// Embed implements EmbeddingEngine.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embedBatchChunk(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, domain.New(domain.KindBackendUnavailable, "genai returned no embeddings").WithBackend("genai")
	}
	return vecs[0], nil
}

// EmbedBatch implements EmbeddingEngine, chunking into GenAI's batch limit.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) <= maxBatchSize {
		return e.embedBatchChunk(ctx, texts)
	}

	all := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		select {
		case <-ctx.Done():
			return nil, domain.Wrap(domain.KindDeadlineExceeded, "genai batch embed canceled", ctx.Err())
		default:
		}
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk, err := e.embedBatchChunk(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		all = append(all, chunk...)
	}
	return all, nil
}

func (e *GenAIEngine) embedBatchChunk(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: int32Ptr(genAIDimensions),
	})
	if err != nil {
		return nil, domain.Wrap(domain.KindBackendUnavailable, "genai embed failed", err).WithBackend("genai")
	}
	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

// Dimensions returns gemini-embedding-001's output dimensionality.
func (e *GenAIEngine) Dimensions() int { return genAIDimensions }

// Name identifies this engine instance.
func (e *GenAIEngine) Name() string { return fmt.Sprintf("genai:%s", e.model) }

// Summarize implements Summarizer (spec.md §4.7): bounded length,
// fact-preserving, low temperature for consolidation/rehydration use.
func (e *GenAIEngine) Summarize(ctx context.Context, items []string, intent string, targetTokens int) (string, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "genai.Summarize")
	defer timer.Stop()

	if len(items) == 0 {
		return "", nil
	}

	prompt := buildSummarizationPrompt(items, intent, targetTokens)
	temp := float32(0.2)
	resp, err := e.client.Models.GenerateContent(ctx, e.model, []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}, &genai.GenerateContentConfig{Temperature: &temp})
	if err != nil {
		return "", domain.Wrap(domain.KindBackendUnavailable, "genai summarize failed", err).WithBackend("genai")
	}
	return strings.TrimSpace(resp.Text()), nil
}

func buildSummarizationPrompt(items []string, intent string, targetTokens int) string {
	var b strings.Builder
	b.WriteString("Summarize the following memory items for a ")
	b.WriteString(intent)
	b.WriteString(" task. Preserve only facts stated in the items below; do not add information. ")
	fmt.Fprintf(&b, "Target length: approximately %d tokens.\n\n", targetTokens)
	for i, item := range items {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, item)
	}
	return b.String()
}
