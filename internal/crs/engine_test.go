package crs

import (
	"testing"
	"time"

	"acms/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultWeightsSumToOne(t *testing.T) {
	w := DefaultWeights()
	sum := w.Sim + w.Recur + w.Outcome + w.Corr + w.Recency
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func newScoredItem(id string, now time.Time) *domain.MemoryItem {
	return &domain.MemoryItem{
		ID:         id,
		UserID:     "alice",
		TopicID:    "work",
		Tier:       domain.TierShort,
		CreatedAt:  now,
		LastUsedAt: now,
	}
}

func TestComputeNewItemWithoutVectorUsesNeutralSimilarity(t *testing.T) {
	now := time.Now().UTC()
	item := newScoredItem("item-1", now)
	profile := &domain.UserProfile{UserID: "alice"}

	score, err := Compute(item, nil, profile, now)
	require.NoError(t, err)

	// base = 0.35*0.5 + 0.20*0 + 0.25*0.5 + 0.10*0 + 0.10*1 = 0.4, decay ~1 at age 0.
	assert.InDelta(t, 0.4, score, 1e-6)
}

func TestComputeDecaysWithAge(t *testing.T) {
	now := time.Now().UTC()
	item := newScoredItem("item-1", now.Add(-30*24*time.Hour))
	item.LastUsedAt = item.CreatedAt
	profile := &domain.UserProfile{UserID: "alice"}

	score, err := Compute(item, nil, profile, now)
	require.NoError(t, err)

	fresh := newScoredItem("item-2", now)
	freshScore, err := Compute(fresh, nil, profile, now)
	require.NoError(t, err)

	assert.Less(t, score, freshScore)
}

func TestComputeRewardsAccessFrequency(t *testing.T) {
	now := time.Now().UTC()
	profile := &domain.UserProfile{UserID: "alice"}

	low := newScoredItem("item-1", now)
	low.AccessCount = 0
	high := newScoredItem("item-2", now)
	high.AccessCount = DefaultRecurrenceCap * 2

	lowScore, err := Compute(low, nil, profile, now)
	require.NoError(t, err)
	highScore, err := Compute(high, nil, profile, now)
	require.NoError(t, err)

	assert.Greater(t, highScore, lowScore)
}

func TestComputeOutcomeAggregation(t *testing.T) {
	now := time.Now().UTC()
	profile := &domain.UserProfile{UserID: "alice"}

	good := newScoredItem("item-1", now)
	good.OutcomeLog = []domain.OutcomeEvent{
		{Kind: domain.OutcomeThumbsUp, Timestamp: now},
		{Kind: domain.OutcomeRating, Rating: 5, Timestamp: now},
	}
	bad := newScoredItem("item-2", now)
	bad.OutcomeLog = []domain.OutcomeEvent{
		{Kind: domain.OutcomeThumbsDown, Timestamp: now},
		{Kind: domain.OutcomeRating, Rating: 1, Timestamp: now},
	}

	goodScore, err := Compute(good, nil, profile, now)
	require.NoError(t, err)
	badScore, err := Compute(bad, nil, profile, now)
	require.NoError(t, err)

	assert.Greater(t, goodScore, badScore)
}

func TestComputeEditDistanceOutcome(t *testing.T) {
	assert.InDelta(t, 1.0, outcomeSuccessScore(domain.OutcomeEvent{Kind: domain.OutcomeEditDistance, Float: 0}), 1e-9)
	assert.InDelta(t, 0.0, outcomeSuccessScore(domain.OutcomeEvent{Kind: domain.OutcomeEditDistance, Float: 0.5}), 1e-9)
	assert.InDelta(t, 0.0, outcomeSuccessScore(domain.OutcomeEvent{Kind: domain.OutcomeEditDistance, Float: 1.0}), 1e-9)
}

func TestComputePIIPenaltyReducesScore(t *testing.T) {
	now := time.Now().UTC()
	profile := &domain.UserProfile{UserID: "alice"}

	clean := newScoredItem("item-1", now)
	flagged := newScoredItem("item-2", now)
	flagged.PIIFlags = []domain.PIIFlag{{Kind: domain.PIIGovernment, Count: 1}}

	cleanScore, err := Compute(clean, nil, profile, now)
	require.NoError(t, err)
	flaggedScore, err := Compute(flagged, nil, profile, now)
	require.NoError(t, err)

	assert.Greater(t, cleanScore, flaggedScore)
}

func TestComputePIIPenaltyCapped(t *testing.T) {
	flags := []domain.PIIFlag{
		{Kind: domain.PIIGovernment}, {Kind: domain.PIICreditCard},
		{Kind: domain.PIIEmail}, {Kind: domain.PIIPhone}, {Kind: domain.PIIIPAddress},
	}
	assert.Equal(t, maxPIIPenalty, piiPenalty(flags, nil))
}

func TestComputeClipsToZeroOneRange(t *testing.T) {
	now := time.Now().UTC()
	item := newScoredItem("item-1", now)
	item.PIIFlags = []domain.PIIFlag{{Kind: domain.PIIGovernment}, {Kind: domain.PIICreditCard}}
	profile := &domain.UserProfile{UserID: "alice"}

	score, err := Compute(item, nil, profile, now)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestSimilarityToCentroidNeutralBelowMinItems(t *testing.T) {
	item := newScoredItem("item-1", time.Now())
	profile := &domain.UserProfile{
		TopicCentroids: map[string][]float32{"work": {1, 0}},
		TopicCounts:    map[string]int{"work": 1},
	}
	sim, err := similarityToCentroid(item, []float32{1, 0}, profile)
	require.NoError(t, err)
	assert.Equal(t, neutralSimilarity, sim)
}

func TestSimilarityToCentroidUsesCosine(t *testing.T) {
	item := newScoredItem("item-1", time.Now())
	profile := &domain.UserProfile{
		TopicCentroids: map[string][]float32{"work": {1, 0}},
		TopicCounts:    map[string]int{"work": 5},
	}
	sim, err := similarityToCentroid(item, []float32{1, 0}, profile)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-6)
}

func TestComputeBatchScoresAllItems(t *testing.T) {
	now := time.Now().UTC()
	items := []*domain.MemoryItem{newScoredItem("item-1", now), newScoredItem("item-2", now)}
	profile := &domain.UserProfile{UserID: "alice"}

	scores, err := ComputeBatch(items, nil, profile, now)
	require.NoError(t, err)
	assert.Len(t, scores, 2)
	assert.Contains(t, scores, "item-1")
	assert.Contains(t, scores, "item-2")
}

func TestEvaluateTransitionsPromotesShortToMid(t *testing.T) {
	now := time.Now().UTC()
	item := newScoredItem("item-1", now)
	item.AccessCount = 5
	scores := map[string]float64{"item-1": 0.9}
	profile := &domain.UserProfile{UserID: "alice"}

	batch := EvaluateTransitions([]*domain.MemoryItem{item}, scores, profile, now)
	require.Len(t, batch.Promotions, 1)
	assert.Equal(t, domain.TierMid, batch.Promotions[0].Event.ToTier)
}

func TestEvaluateTransitionsWithholdsPromotionBelowUseThreshold(t *testing.T) {
	now := time.Now().UTC()
	item := newScoredItem("item-1", now)
	item.AccessCount = 1
	scores := map[string]float64{"item-1": 0.9}
	profile := &domain.UserProfile{UserID: "alice"}

	batch := EvaluateTransitions([]*domain.MemoryItem{item}, scores, profile, now)
	assert.Empty(t, batch.Promotions)
}

func TestEvaluateTransitionsPromotesMidToLong(t *testing.T) {
	now := time.Now().UTC()
	item := newScoredItem("item-1", now.Add(-10*24*time.Hour))
	item.Tier = domain.TierMid
	item.LastUsedAt = now
	item.OutcomeLog = []domain.OutcomeEvent{{Kind: domain.OutcomeThumbsUp, Timestamp: now}}
	scores := map[string]float64{"item-1": 0.95}
	profile := &domain.UserProfile{UserID: "alice"}

	batch := EvaluateTransitions([]*domain.MemoryItem{item}, scores, profile, now)
	require.Len(t, batch.Promotions, 1)
	assert.Equal(t, domain.TierLong, batch.Promotions[0].Event.ToTier)
}

func TestEvaluateTransitionsDemotesLowScoreItem(t *testing.T) {
	now := time.Now().UTC()
	item := newScoredItem("item-1", now)
	item.Tier = domain.TierMid
	scores := map[string]float64{"item-1": 0.1}
	profile := &domain.UserProfile{UserID: "alice"}

	batch := EvaluateTransitions([]*domain.MemoryItem{item}, scores, profile, now)
	require.Len(t, batch.Demotions, 1)
	assert.Equal(t, domain.TierShort, batch.Demotions[0].Event.ToTier)
}

func TestEvaluateTransitionsDemotesInactiveItem(t *testing.T) {
	now := time.Now().UTC()
	item := newScoredItem("item-1", now.Add(-60*24*time.Hour))
	item.Tier = domain.TierMid
	item.LastUsedAt = now.Add(-45 * 24 * time.Hour)
	scores := map[string]float64{"item-1": 0.9}
	profile := &domain.UserProfile{UserID: "alice"}

	batch := EvaluateTransitions([]*domain.MemoryItem{item}, scores, profile, now)
	require.Len(t, batch.Demotions, 1)
}

func TestEvaluateTransitionsExemptsPinnedItemsFromDemotion(t *testing.T) {
	now := time.Now().UTC()
	item := newScoredItem("item-1", now)
	item.Tier = domain.TierMid
	item.Pinned = true
	scores := map[string]float64{"item-1": 0.01}
	profile := &domain.UserProfile{UserID: "alice"}

	batch := EvaluateTransitions([]*domain.MemoryItem{item}, scores, profile, now)
	assert.Empty(t, batch.Demotions)
}

func TestEvaluateTransitionsSkipsArchivedItems(t *testing.T) {
	now := time.Now().UTC()
	item := newScoredItem("item-1", now)
	item.Archived = true
	item.AccessCount = 10
	scores := map[string]float64{"item-1": 0.99}
	profile := &domain.UserProfile{UserID: "alice"}

	batch := EvaluateTransitions([]*domain.MemoryItem{item}, scores, profile, now)
	assert.Empty(t, batch.Promotions)
	assert.Empty(t, batch.Demotions)
}

func TestEvaluateTransitionsTieBreakOrdersByAccessCountThenRecencyThenID(t *testing.T) {
	now := time.Now().UTC()
	itemA := newScoredItem("b-item", now)
	itemA.AccessCount = 5
	itemB := newScoredItem("a-item", now)
	itemB.AccessCount = 10
	itemC := newScoredItem("c-item", now)
	itemC.AccessCount = 5
	itemC.LastUsedAt = now.Add(time.Hour)

	scores := map[string]float64{"b-item": 0.9, "a-item": 0.9, "c-item": 0.9}
	for _, it := range []*domain.MemoryItem{itemA, itemB, itemC} {
		it.AccessCount = max(it.AccessCount, 3)
	}
	profile := &domain.UserProfile{UserID: "alice"}

	batch := EvaluateTransitions([]*domain.MemoryItem{itemA, itemB, itemC}, scores, profile, now)
	require.Len(t, batch.Promotions, 3)
	// Highest access count first: a-item (10), then c-item (5, more recent), then b-item (5).
	assert.Equal(t, "a-item", batch.Promotions[0].Item.ID)
	assert.Equal(t, "c-item", batch.Promotions[1].Item.ID)
	assert.Equal(t, "b-item", batch.Promotions[2].Item.ID)
}

func max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func TestCorrectionSignalRange(t *testing.T) {
	assert.Equal(t, 0.0, correctionSignal(nil))
	assert.Equal(t, 1.0, correctionSignal([]domain.OutcomeEvent{{Kind: domain.OutcomeThumbsUp}}))
	assert.Equal(t, -1.0, correctionSignal([]domain.OutcomeEvent{{Kind: domain.OutcomeThumbsDown}}))
	assert.Equal(t, 0.0, correctionSignal([]domain.OutcomeEvent{{Kind: domain.OutcomeThumbsUp}, {Kind: domain.OutcomeThumbsDown}}))
}

func TestClip(t *testing.T) {
	assert.Equal(t, 0.0, clip(-1, 0, 1))
	assert.Equal(t, 1.0, clip(2, 0, 1))
	assert.Equal(t, 0.5, clip(0.5, 0, 1))
}

func TestAggregateOutcomeExportedMatchesInternal(t *testing.T) {
	log := []domain.OutcomeEvent{{Kind: domain.OutcomeThumbsUp}, {Kind: domain.OutcomeThumbsDown}}
	assert.Equal(t, aggregateOutcome(log), AggregateOutcome(log))
	assert.Equal(t, 0.5, AggregateOutcome(nil))
}
