// Package embedding provides the pluggable embedder/summarizer interface of
// spec.md §4.7, with Ollama (local) and Google GenAI (cloud) backends.
package embedding

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"acms/internal/domain"
	"acms/internal/logging"
)

// EmbeddingEngine generates fixed-dimension vector embeddings for text.
type EmbeddingEngine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// Summarizer produces bounded-length, fact-preserving summaries (spec.md
// §4.7). A backend MAY implement both EmbeddingEngine and Summarizer (the
// GenAI backend does, since generative models can do both); a
// retrieval-only backend like Ollama's embedding endpoint implements only
// EmbeddingEngine.
type Summarizer interface {
	// Summarize produces a summary of the given items for the given intent,
	// targeting (but never exceeding by more than 10%) targetTokens.
	Summarize(ctx context.Context, items []string, intent string, targetTokens int) (string, error)
}

// HealthChecker is implemented by backends that can verify availability
// before a batch operation is attempted.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config selects and configures a backend.
type Config struct {
	Provider string // "ollama" or "genai"

	OllamaEndpoint string
	OllamaModel    string

	GenAIAPIKey string
	GenAIModel  string
	TaskType    string // "SEMANTIC_SIMILARITY", "RETRIEVAL_QUERY", "RETRIEVAL_DOCUMENT"
}

// DefaultConfig mirrors the teacher's local-first default: Ollama unless a
// cloud key is supplied.
func DefaultConfig() Config {
	return Config{
		Provider:       "ollama",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
		GenAIModel:     "gemini-embedding-001",
		TaskType:       "SEMANTIC_SIMILARITY",
	}
}

// NewEngine constructs an EmbeddingEngine for the configured provider. The
// concrete backend is selected once at process start (spec.md §9 "Dynamic
// dispatch": embedder/summarizer selection is static per process or
// per-user configuration, not an open extension point).
func NewEngine(cfg Config) (EmbeddingEngine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	logging.Embedding("creating embedding engine provider=%s", cfg.Provider)

	switch cfg.Provider {
	case "ollama":
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "genai":
		return NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel, cfg.TaskType)
	default:
		return nil, domain.New(domain.KindValidation, fmt.Sprintf("unsupported embedding provider: %s", cfg.Provider))
	}
}

// EncodeVector packs a plaintext vector into the little-endian float32 wire
// format used for storage and encryption payloads (the same layout
// internal/store's vec_index uses for its plaintext ANN copy, so a vector
// round-trips identically whether it goes through the encrypted column or
// the index).
func EncodeVector(vec []float32) []byte {
	buf := &bytes.Buffer{}
	buf.Grow(len(vec) * 4)
	_ = binary.Write(buf, binary.LittleEndian, vec)
	return buf.Bytes()
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, domain.New(domain.KindValidation, fmt.Sprintf("vector byte length %d not a multiple of 4", len(b)))
	}
	vec := make([]float32, len(b)/4)
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &vec); err != nil {
		return nil, domain.Wrap(domain.KindInternal, "decode vector", err)
	}
	return vec, nil
}

// CosineSimilarity computes cosine similarity in [-1, 1].
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, domain.New(domain.KindValidation, fmt.Sprintf("vector dimension mismatch: %d != %d", len(a), len(b)))
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}

// SimilarityResult is one ranked entry from FindTopK.
type SimilarityResult struct {
	Index      int
	Similarity float64
}

// FindTopK returns up to k most-similar corpus entries to query, ordered
// descending by cosine similarity. Used as the brute-force fallback/oracle
// that the store's ANN index is measured against (spec.md §4.2 recall target).
func FindTopK(query []float32, corpus [][]float32, k int) []SimilarityResult {
	if k <= 0 {
		k = 10
	}
	results := make([]SimilarityResult, 0, len(corpus))
	for i, vec := range corpus {
		sim, err := CosineSimilarity(query, vec)
		if err != nil {
			continue
		}
		results = append(results, SimilarityResult{Index: i, Similarity: sim})
	}
	for i := 0; i < len(results) && i < k; i++ {
		best := i
		for j := i + 1; j < len(results); j++ {
			if results[j].Similarity > results[best].Similarity {
				best = j
			}
		}
		results[i], results[best] = results[best], results[i]
	}
	if len(results) > k {
		results = results[:k]
	}
	return results
}
