package embedding

import (
	"testing"

	"acms/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarityIdentical(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0, 0}, []float32{1, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-9)
}

func TestCosineSimilarityOpposite(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{-1, 0})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, sim, 1e-9)
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestCosineSimilarityZeroVector(t *testing.T) {
	sim, err := CosineSimilarity([]float32{0, 0}, []float32{1, 1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, sim)
}

func TestFindTopKOrdersDescending(t *testing.T) {
	query := []float32{1, 0}
	corpus := [][]float32{
		{0, 1},  // orthogonal, sim 0
		{1, 0},  // identical, sim 1
		{-1, 0}, // opposite, sim -1
		{1, 1},  // sim ~0.707
	}
	results := FindTopK(query, corpus, 2)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Index)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)
	assert.Equal(t, 3, results[1].Index)
}

func TestFindTopKLimitsToCorpusSize(t *testing.T) {
	query := []float32{1, 0}
	corpus := [][]float32{{1, 0}, {0, 1}}
	results := FindTopK(query, corpus, 50)
	assert.Len(t, results, 2)
}

func TestFindTopKDefaultsWhenKNonPositive(t *testing.T) {
	query := []float32{1, 0}
	corpus := make([][]float32, 15)
	for i := range corpus {
		corpus[i] = []float32{1, 0}
	}
	results := FindTopK(query, corpus, 0)
	assert.Len(t, results, 10)
}

func TestNewEngineUnsupportedProvider(t *testing.T) {
	_, err := NewEngine(Config{Provider: "carrier-pigeon"})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestNewEngineOllamaDefaults(t *testing.T) {
	eng, err := NewEngine(Config{Provider: "ollama"})
	require.NoError(t, err)
	assert.Equal(t, 768, eng.Dimensions())
	assert.Equal(t, "ollama:embeddinggemma", eng.Name())
}

func TestNewEngineGenAIRequiresAPIKey(t *testing.T) {
	_, err := NewEngine(Config{Provider: "genai"})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestEncodeDecodeVectorRoundTrip(t *testing.T) {
	vec := []float32{0.5, -1.25, 3, 0}
	decoded, err := DecodeVector(EncodeVector(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, decoded)
}

func TestDecodeVectorRejectsMisalignedLength(t *testing.T) {
	_, err := DecodeVector([]byte{1, 2, 3})
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestDefaultConfigIsOllama(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "ollama", cfg.Provider)
	assert.Equal(t, "embeddinggemma", cfg.OllamaModel)
}
