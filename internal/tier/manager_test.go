package tier

import (
	"context"
	"fmt"
	"testing"
	"time"

	"acms/internal/domain"
	"acms/internal/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	items           map[string]*domain.MemoryItem
	transitions     []domain.TierTransitionEvent
	consolidations  []domain.ConsolidationEvent
	auditEvents     []domain.AuditEvent
	purged          map[domain.Tier]int
	consolidatedNew []*domain.MemoryItem
}

func newFakeStore(items ...*domain.MemoryItem) *fakeStore {
	s := &fakeStore{items: make(map[string]*domain.MemoryItem), purged: make(map[domain.Tier]int)}
	for _, it := range items {
		s.items[it.ID] = it
	}
	return s
}

func (s *fakeStore) ListByTier(ctx context.Context, userID string, tier domain.Tier) ([]*domain.MemoryItem, error) {
	var out []*domain.MemoryItem
	for _, it := range s.items {
		if it.UserID == userID && it.Tier == tier && !it.Archived {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *fakeStore) TransitionTier(ctx context.Context, ev domain.TierTransitionEvent, expectedVersion int64) error {
	item, ok := s.items[ev.ItemID]
	if !ok {
		return domain.New(domain.KindNotFound, "item not found")
	}
	if item.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	item.Tier = ev.ToTier
	item.Version++
	s.transitions = append(s.transitions, ev)
	return nil
}

func (s *fakeStore) ConsolidateTransaction(ctx context.Context, newItem *domain.MemoryItem, newVec []float32, sourceIDs []string, at time.Time, ev domain.ConsolidationEvent) error {
	for _, id := range sourceIDs {
		src, ok := s.items[id]
		if !ok {
			return fmt.Errorf("source %s not found", id)
		}
		src.Archived = true
		src.ArchivedAt = at
	}
	s.items[newItem.ID] = newItem
	s.consolidatedNew = append(s.consolidatedNew, newItem)
	s.consolidations = append(s.consolidations, ev)
	return nil
}

func (s *fakeStore) PurgeExpiredArchives(ctx context.Context, userID string, tier domain.Tier, before time.Time) (int, error) {
	n := 0
	for id, it := range s.items {
		if it.UserID == userID && it.Tier == tier && it.Archived && it.ArchivedAt.Before(before) {
			delete(s.items, id)
			n++
		}
	}
	s.purged[tier] += n
	return n, nil
}

func (s *fakeStore) AppendAuditEvent(ctx context.Context, ev domain.AuditEvent) error {
	s.auditEvents = append(s.auditEvents, ev)
	return nil
}

type fakeKeys struct{}

func (k *fakeKeys) Decrypt(blob []byte, keyID string) ([]byte, error) {
	return blob, nil
}

func (k *fakeKeys) EncryptForItem(plaintext []byte, topicID string) ([]byte, string, error) {
	return plaintext, topicID + ":v1", nil
}

type fakeEmbedder struct{ dims int }

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, e.dims), nil
}
func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dims)
	}
	return out, nil
}
func (e *fakeEmbedder) Dimensions() int { return e.dims }
func (e *fakeEmbedder) Name() string    { return "fake" }

type fakeSummarizer struct{ calls int }

func (s *fakeSummarizer) Summarize(ctx context.Context, items []string, intent string, targetTokens int) (string, error) {
	s.calls++
	return fmt.Sprintf("summary of %d items", len(items)), nil
}

func testProfile(userID string) *domain.UserProfile {
	return &domain.UserProfile{UserID: userID}
}

// testProfileWithThresholds overrides the tier-gate thresholds so a test can
// exercise a realistic Compute+EvaluateTransitions pass (rather than
// injecting a precomputed score) without fighting the interaction between
// the age-decay term and the default 0.80 MID->LONG bar. DemotionScore/
// DemotionInactivityDays must always be set explicitly here: their zero
// values (0) would otherwise make every positive score demote-eligible.
func testProfileWithThresholds(userID string, th domain.TierThresholds) *domain.UserProfile {
	return &domain.UserProfile{UserID: userID, Thresholds: th}
}

func newPromotableItem(id, userID, topicID string, tier domain.Tier, accessCount int64, createdAt time.Time) *domain.MemoryItem {
	return &domain.MemoryItem{
		ID: id, UserID: userID, TopicID: topicID, Tier: tier,
		EncryptedContent: []byte("plaintext content " + id),
		CreatedAt:        createdAt,
		LastUsedAt:       createdAt,
		AccessCount:      accessCount,
		Version:          1,
		KeyID:            topicID + ":v1",
	}
}

func TestEvaluateAndApplyPromotesSingleItemInPlace(t *testing.T) {
	now := time.Now()
	item := newPromotableItem("item-1", "alice", "work", domain.TierShort, 10, now.Add(-1*time.Hour))
	// give it a strong outcome log so score clears the promotion threshold
	item.OutcomeLog = []domain.OutcomeEvent{{Kind: domain.OutcomeThumbsUp}, {Kind: domain.OutcomeRating, Rating: 5}}

	store := newFakeStore(item)
	m := NewManager(store, &fakeKeys{}, &fakeEmbedder{dims: 4}, &fakeSummarizer{}, nil)

	result, err := m.EvaluateAndApply(context.Background(), testProfile("alice"), now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Promoted)
	assert.Equal(t, 0, result.ConsolidatedOut)
	assert.Equal(t, domain.TierMid, store.items["item-1"].Tier)
}

func TestEvaluateAndApplyConsolidatesGroupOfTwo(t *testing.T) {
	now := time.Now()
	day := now.Add(-1 * time.Hour)
	item1 := newPromotableItem("item-1", "alice", "work", domain.TierShort, 10, day)
	item2 := newPromotableItem("item-2", "alice", "work", domain.TierShort, 10, day)
	for _, it := range []*domain.MemoryItem{item1, item2} {
		it.OutcomeLog = []domain.OutcomeEvent{{Kind: domain.OutcomeThumbsUp}, {Kind: domain.OutcomeRating, Rating: 5}}
	}

	store := newFakeStore(item1, item2)
	summarizer := &fakeSummarizer{}
	m := NewManager(store, &fakeKeys{}, &fakeEmbedder{dims: 4}, summarizer, nil)

	result, err := m.EvaluateAndApply(context.Background(), testProfile("alice"), now)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Promoted)
	assert.Equal(t, 1, result.ConsolidatedOut)
	assert.Equal(t, 1, summarizer.calls)

	require.Len(t, store.consolidatedNew, 1)
	consolidated := store.consolidatedNew[0]
	assert.ElementsMatch(t, []string{"item-1", "item-2"}, consolidated.SourceItems)
	assert.True(t, store.items["item-1"].Archived)
	assert.True(t, store.items["item-2"].Archived)
	assert.Equal(t, domain.TierMid, consolidated.Tier)

	require.Len(t, store.consolidations, 1)
	assert.Equal(t, 2, store.consolidations[0].SourceCount)
}

func longPromotableThresholds() domain.TierThresholds {
	return domain.TierThresholds{
		ShortToMidScore: 0.65, ShortToMidUses: 3,
		MidToLongScore: 0.35, MidToLongAgeDays: 7, MidToLongOutcome: 0.5,
		DemotionScore: 0, DemotionInactivityDays: 9999,
	}
}

func TestEvaluateAndApplyDeniesLongPromotionWithoutConsent(t *testing.T) {
	now := time.Now()
	item := newPromotableItem("item-1", "alice", "work", domain.TierMid, 10, now.Add(-10*24*time.Hour))
	item.PIIFlags = []domain.PIIFlag{{Kind: domain.PIIEmail, Count: 1}}
	item.OutcomeLog = []domain.OutcomeEvent{{Kind: domain.OutcomeRating, Rating: 5}, {Kind: domain.OutcomeRating, Rating: 5}}

	store := newFakeStore(item)
	m := NewManager(store, &fakeKeys{}, &fakeEmbedder{dims: 4}, &fakeSummarizer{}, policy.NewConsentLedger())

	profile := testProfileWithThresholds("alice", longPromotableThresholds())
	result, err := m.EvaluateAndApply(context.Background(), profile, now)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Promoted)
	assert.Equal(t, 1, result.ConsentDenied)
	assert.Equal(t, domain.TierMid, store.items["item-1"].Tier)

	require.Len(t, store.auditEvents, 1)
	assert.Equal(t, domain.AuditPolicyFilter, store.auditEvents[0].Action)
	assert.Equal(t, string(domain.ReasonPIIConsentRequired), store.auditEvents[0].Metadata["reason"])
	assert.Equal(t, []string{"email"}, store.auditEvents[0].Metadata["pii_kinds"])

	require.Len(t, result.Errors, 1)
	assert.Equal(t, domain.KindPIIConsentRequired, domain.KindOf(result.Errors[0]))
}

func TestEvaluateAndApplyAllowsLongPromotionWithConsent(t *testing.T) {
	now := time.Now()
	item := newPromotableItem("item-1", "alice", "work", domain.TierMid, 10, now.Add(-10*24*time.Hour))
	item.PIIFlags = []domain.PIIFlag{{Kind: domain.PIIEmail, Count: 1}}
	item.OutcomeLog = []domain.OutcomeEvent{{Kind: domain.OutcomeRating, Rating: 5}, {Kind: domain.OutcomeRating, Rating: 5}}

	ledger := policy.NewConsentLedger()
	ledger.Grant(policy.ConsentToken{UserID: "alice", TopicID: "work", PIIKinds: []domain.PIIKind{domain.PIIEmail}})

	store := newFakeStore(item)
	m := NewManager(store, &fakeKeys{}, &fakeEmbedder{dims: 4}, &fakeSummarizer{}, ledger)

	profile := testProfileWithThresholds("alice", longPromotableThresholds())
	result, err := m.EvaluateAndApply(context.Background(), profile, now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Promoted)
	assert.Equal(t, 0, result.ConsentDenied)
	assert.Equal(t, domain.TierLong, store.items["item-1"].Tier)
}

func TestEvaluateAndApplyDemotesStaleItem(t *testing.T) {
	now := time.Now()
	item := newPromotableItem("item-1", "alice", "work", domain.TierMid, 0, now.Add(-60*24*time.Hour))
	item.LastUsedAt = now.Add(-45 * 24 * time.Hour)

	store := newFakeStore(item)
	m := NewManager(store, &fakeKeys{}, &fakeEmbedder{dims: 4}, &fakeSummarizer{}, nil)

	result, err := m.EvaluateAndApply(context.Background(), testProfile("alice"), now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Demoted)
	assert.Equal(t, domain.TierShort, store.items["item-1"].Tier)
}

func TestEvaluateAndApplyNoItemsIsNoOp(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store, &fakeKeys{}, &fakeEmbedder{dims: 4}, &fakeSummarizer{}, nil)

	result, err := m.EvaluateAndApply(context.Background(), testProfile("alice"), time.Now())
	require.NoError(t, err)
	assert.Equal(t, RunResult{}, result)
}

type failingDecryptKeys struct{}

func (k *failingDecryptKeys) Decrypt(blob []byte, keyID string) ([]byte, error) {
	return nil, fmt.Errorf("aead verification failed")
}
func (k *failingDecryptKeys) EncryptForItem(plaintext []byte, topicID string) ([]byte, string, error) {
	return plaintext, topicID + ":v1", nil
}

func TestEvaluateAndApplyRecordsErrorWhenConsolidationSourcesUndecryptable(t *testing.T) {
	now := time.Now()
	day := now.Add(-1 * time.Hour)
	item1 := newPromotableItem("item-1", "alice", "work", domain.TierShort, 10, day)
	item2 := newPromotableItem("item-2", "alice", "work", domain.TierShort, 10, day)
	for _, it := range []*domain.MemoryItem{item1, item2} {
		it.OutcomeLog = []domain.OutcomeEvent{{Kind: domain.OutcomeThumbsUp}, {Kind: domain.OutcomeRating, Rating: 5}}
	}

	store := newFakeStore(item1, item2)
	m := NewManager(store, &failingDecryptKeys{}, &fakeEmbedder{dims: 4}, &fakeSummarizer{}, nil)

	result, err := m.EvaluateAndApply(context.Background(), testProfile("alice"), now)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ConsolidatedOut)
	require.Len(t, result.Errors, 1)
	assert.Empty(t, store.consolidatedNew)
}

func TestSweepArchivesPurgesPerTierWindow(t *testing.T) {
	now := time.Now()
	shortArchived := newPromotableItem("s1", "alice", "work", domain.TierShort, 0, now.Add(-20*24*time.Hour))
	shortArchived.Archived = true
	shortArchived.ArchivedAt = now.Add(-10 * 24 * time.Hour) // older than 7d window

	longArchived := newPromotableItem("l1", "alice", "work", domain.TierLong, 0, now.Add(-20*24*time.Hour))
	longArchived.Archived = true
	longArchived.ArchivedAt = now.Add(-10 * 24 * time.Hour) // within 30d window

	store := newFakeStore(shortArchived, longArchived)
	m := NewManager(store, &fakeKeys{}, &fakeEmbedder{dims: 4}, &fakeSummarizer{}, nil)

	n, err := m.SweepArchives(context.Background(), "alice", now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, stillThere := store.items["l1"]
	assert.True(t, stillThere)
	_, shortStillThere := store.items["s1"]
	assert.False(t, shortStillThere)
}
