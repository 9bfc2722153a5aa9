package rehydrate

import (
	"testing"
	"time"

	"acms/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestRankOrdersByHybridScoreDescending(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	strong := &domain.MemoryItem{ID: "strong", RetentionScore: 0.9, LastUsedAt: now}
	weak := &domain.MemoryItem{ID: "weak", RetentionScore: 0.1, LastUsedAt: now.Add(-90 * 24 * time.Hour)}

	candidates := []Candidate{
		{Item: weak, VecSim: 0.3},
		{Item: strong, VecSim: 0.9},
	}

	ranked := Rank(candidates, DefaultRankWeights(), now)
	assert.Equal(t, "strong", ranked[0].Item.ID)
	assert.Equal(t, "weak", ranked[1].Item.ID)
}

func TestRankTieBreaksByRetentionScoreThenRecency(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	a := &domain.MemoryItem{ID: "a", RetentionScore: 0.5, LastUsedAt: now}
	b := &domain.MemoryItem{ID: "b", RetentionScore: 0.5, LastUsedAt: now.Add(-10 * 24 * time.Hour)}

	candidates := []Candidate{
		{Item: b, VecSim: 0.5},
		{Item: a, VecSim: 0.5},
	}

	weights := RankWeights{Vector: 1, Recency: 0, Outcome: 0, Score: 0}
	ranked := Rank(candidates, weights, now)
	assert.Equal(t, "a", ranked[0].Item.ID, "identical hybrid scores should break ties toward the more recently used item")
}

func TestRescaleSimilarityMapsToUnitInterval(t *testing.T) {
	assert.InDelta(t, 1.0, rescaleSimilarity(1.0), 1e-9)
	assert.InDelta(t, 0.0, rescaleSimilarity(-1.0), 1e-9)
	assert.InDelta(t, 0.5, rescaleSimilarity(0.0), 1e-9)
}

func TestRankWeightsForKnownIntentOverride(t *testing.T) {
	w := RankWeightsFor(IntentCodeAssist)
	assert.Equal(t, 0.4, w.Vector)
	assert.Equal(t, 0.3, w.Outcome)
}

func TestRankWeightsForUnknownIntentDefaults(t *testing.T) {
	assert.Equal(t, DefaultRankWeights(), RankWeightsFor(IntentGeneral))
}

func TestRankWeightsForOverridesUsesSuppliedTable(t *testing.T) {
	custom := map[Intent]RankWeights{
		IntentCodeAssist: {Vector: 0.9, Recency: 0.05, Outcome: 0.025, Score: 0.025},
	}
	assert.Equal(t, custom[IntentCodeAssist], RankWeightsForOverrides(IntentCodeAssist, custom))
	assert.Equal(t, DefaultRankWeights(), RankWeightsForOverrides(IntentResearch, custom), "intents absent from a supplied table still fall back to defaults")
}
