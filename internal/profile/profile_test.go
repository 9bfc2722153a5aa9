package profile

import (
	"context"
	"testing"

	"acms/internal/crs"
	"acms/internal/domain"
	"acms/internal/embedding"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeItems struct {
	byTopic map[string][]*domain.MemoryItem
	topics  []string
}

func (f fakeItems) ListForUser(ctx context.Context, userID, topicID string) ([]*domain.MemoryItem, error) {
	return f.byTopic[topicID], nil
}

func (f fakeItems) ListTopics(ctx context.Context, userID string) ([]string, error) {
	return f.topics, nil
}

// fakeKeys "decrypts" by returning the ciphertext unchanged, since the
// tests construct items whose EncryptedVector already holds the encoded
// plaintext vector.
type fakeKeys struct{}

func (fakeKeys) Decrypt(blob []byte, keyID string) ([]byte, error) {
	return blob, nil
}

func itemWithVector(id, topicID string, vec []float32) *domain.MemoryItem {
	return &domain.MemoryItem{
		ID: id, TopicID: topicID, KeyID: topicID + ":v1",
		EncryptedVector: embedding.EncodeVector(vec),
	}
}

func TestGetProfileUsesDefaultsWithNoOverrides(t *testing.T) {
	b := NewBuilder(fakeItems{}, fakeKeys{}, nil)

	p, err := b.GetProfile(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, crs.DefaultWeights(), p.Weights)
	assert.Equal(t, crs.DefaultThresholds(), p.Thresholds)
}

func TestGetProfileComputesTopicCentroid(t *testing.T) {
	items := fakeItems{
		topics: []string{"work"},
		byTopic: map[string][]*domain.MemoryItem{
			"work": {
				itemWithVector("i1", "work", []float32{1, 0}),
				itemWithVector("i2", "work", []float32{0, 1}),
			},
		},
	}
	b := NewBuilder(items, fakeKeys{}, nil)

	p, err := b.GetProfile(context.Background(), "alice")
	require.NoError(t, err)
	require.Contains(t, p.TopicCentroids, "work")
	assert.InDelta(t, 0.5, p.TopicCentroids["work"][0], 0.0001)
	assert.InDelta(t, 0.5, p.TopicCentroids["work"][1], 0.0001)
	assert.Equal(t, 2, p.TopicCounts["work"])
}

func TestGetProfileSkipsArchivedAndQuarantinedItems(t *testing.T) {
	archived := itemWithVector("i1", "work", []float32{10, 10})
	archived.Archived = true
	quarantined := itemWithVector("i2", "work", []float32{10, 10})
	quarantined.Quarantined = true
	live := itemWithVector("i3", "work", []float32{1, 1})

	items := fakeItems{topics: []string{"work"}, byTopic: map[string][]*domain.MemoryItem{
		"work": {archived, quarantined, live},
	}}
	b := NewBuilder(items, fakeKeys{}, nil)

	p, err := b.GetProfile(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, p.TopicCounts["work"])
	assert.InDelta(t, 1.0, p.TopicCentroids["work"][0], 0.0001)
}

func TestGetProfileSkipsItemsWithNoVector(t *testing.T) {
	noVec := &domain.MemoryItem{ID: "i1", TopicID: "work"}
	items := fakeItems{topics: []string{"work"}, byTopic: map[string][]*domain.MemoryItem{"work": {noVec}}}
	b := NewBuilder(items, fakeKeys{}, nil)

	p, err := b.GetProfile(context.Background(), "alice")
	require.NoError(t, err)
	assert.NotContains(t, p.TopicCentroids, "work")
}

type fakeOverrides struct {
	weights    domain.CRSWeights
	thresholds domain.TierThresholds
	pii        map[domain.PIIKind]float64
	ok         bool
}

func (f fakeOverrides) UserOverrides(userID string) (domain.CRSWeights, domain.TierThresholds, map[domain.PIIKind]float64, bool) {
	return f.weights, f.thresholds, f.pii, f.ok
}

func TestGetProfileAppliesUserOverridesWhenPresent(t *testing.T) {
	custom := domain.CRSWeights{Sim: 1}
	b := NewBuilder(fakeItems{}, fakeKeys{}, fakeOverrides{weights: custom, ok: true})

	p, err := b.GetProfile(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, custom, p.Weights)
}

func TestGetProfileIgnoresOverridesWhenNotOk(t *testing.T) {
	b := NewBuilder(fakeItems{}, fakeKeys{}, fakeOverrides{ok: false})

	p, err := b.GetProfile(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, crs.DefaultWeights(), p.Weights)
}
