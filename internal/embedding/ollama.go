package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"acms/internal/domain"
	"acms/internal/logging"
)

// OllamaEngine embeds text via a local Ollama server. It implements
// EmbeddingEngine only — Ollama's embedding endpoint does not summarize, so
// a user configured on Ollama needs a separate summarizer backend wired in
// (cmd/acmsd wires rehydrate's ExtractiveSummarizer in that case).
type OllamaEngine struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewOllamaEngine constructs an Ollama-backed embedder.
func NewOllamaEngine(endpoint, model string) (*OllamaEngine, error) {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "embeddinggemma"
	}
	logging.Embedding("creating ollama engine endpoint=%s model=%s", endpoint, model)
	return &OllamaEngine{
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements EmbeddingEngine.
func (e *OllamaEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "ollama.Embed")
	defer timer.Stop()

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "marshal ollama request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "build ollama request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, domain.Wrap(domain.KindBackendUnavailable, "ollama request failed", err).WithBackend("ollama")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, domain.New(domain.KindBackendUnavailable, fmt.Sprintf("ollama status %d: %s", resp.StatusCode, string(b))).WithBackend("ollama")
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.Wrap(domain.KindInternal, "decode ollama response", err)
	}
	logging.EmbeddingDebug("ollama.Embed dimensions=%d", len(out.Embedding))
	return out.Embedding, nil
}

// EmbedBatch calls Embed sequentially; Ollama has no native batch endpoint.
func (e *OllamaEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		select {
		case <-ctx.Done():
			return nil, domain.Wrap(domain.KindDeadlineExceeded, "ollama batch embed canceled", ctx.Err())
		default:
		}
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embed item %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns embeddinggemma's output dimensionality.
func (e *OllamaEngine) Dimensions() int { return 768 }

// Name identifies this engine instance.
func (e *OllamaEngine) Name() string { return fmt.Sprintf("ollama:%s", e.model) }

// HealthCheck pings the Ollama server.
func (e *OllamaEngine) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"/api/tags", nil)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "build healthcheck request", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return domain.Wrap(domain.KindBackendUnavailable, "ollama unreachable", err).WithBackend("ollama")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.New(domain.KindBackendUnavailable, fmt.Sprintf("ollama healthcheck status %d", resp.StatusCode)).WithBackend("ollama")
	}
	return nil
}
