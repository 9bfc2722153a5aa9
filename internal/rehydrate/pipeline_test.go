package rehydrate

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"acms/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu sync.Mutex

	items        []*domain.ScoredItem
	searchCalls  int
	accessed     []string
	accessedCh   chan string
	queryLogs    []domain.QueryLog
	auditEvents  []domain.AuditEvent
}

func (f *fakeStore) Search(ctx context.Context, filter domain.SearchFilter, queryVec []float32) ([]domain.ScoredItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++

	out := make([]domain.ScoredItem, 0, len(f.items))
	for _, si := range f.items {
		if si.Item.UserID != filter.UserID {
			continue
		}
		if filter.ExcludeArchived && si.Item.Archived {
			continue
		}
		if len(filter.TopicIDs) > 0 && !containsStr(filter.TopicIDs, si.Item.TopicID) {
			continue
		}
		if filter.MinScore > 0 && si.Item.RetentionScore < filter.MinScore {
			continue
		}
		out = append(out, *si)
	}
	return out, nil
}

func (f *fakeStore) IncrementAccess(ctx context.Context, userID, itemID string, at time.Time) error {
	f.mu.Lock()
	f.accessed = append(f.accessed, itemID)
	f.mu.Unlock()
	if f.accessedCh != nil {
		f.accessedCh <- itemID
	}
	return nil
}

func (f *fakeStore) RecordQueryLog(ctx context.Context, ql domain.QueryLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryLogs = append(f.queryLogs, ql)
	return nil
}

func (f *fakeStore) AppendAuditEvent(ctx context.Context, ev domain.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auditEvents = append(f.auditEvents, ev)
	return nil
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

type fakeKeys struct{}

func (fakeKeys) Decrypt(blob []byte, keyID string) ([]byte, error) { return blob, nil }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}
func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (fakeEmbedder) Dimensions() int { return 3 }
func (fakeEmbedder) Name() string    { return "fake" }

type fakeSummarizer struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSummarizer) Summarize(ctx context.Context, items []string, intent string, targetTokens int) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return fmt.Sprintf("summary(%d items, intent=%s)", len(items), intent), nil
}

func seededItem(id, userID, topicID string, sim float64, content string, opts ...func(*domain.MemoryItem)) *domain.ScoredItem {
	item := &domain.MemoryItem{
		ID:               id,
		UserID:           userID,
		TopicID:          topicID,
		EncryptedContent: []byte(content),
		KeyID:            "k1",
		Tier:             domain.TierMid,
		RetentionScore:   0.6,
		CreatedAt:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		LastUsedAt:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, opt := range opts {
		opt(item)
	}
	return &domain.ScoredItem{Item: item, Similarity: sim}
}

func newTestPipeline(store *fakeStore) *Pipeline {
	return NewPipeline(store, fakeKeys{}, fakeEmbedder{}, &fakeSummarizer{}, nil, nil)
}

func TestRehydrateReturnsSelectedItemsAndSummary(t *testing.T) {
	store := &fakeStore{items: []*domain.ScoredItem{
		seededItem("1", "alice", "work", 0.9, "first memory about the project kickoff"),
		seededItem("2", "alice", "work", 0.7, "second memory about the api design"),
	}}
	p := newTestPipeline(store)

	bundle, err := p.Rehydrate(context.Background(), Request{
		UserID: "alice", Query: "tell me about the project", TokenBudget: 1000,
	})
	require.NoError(t, err)
	assert.False(t, bundle.CacheHit)
	assert.Len(t, bundle.Items, 2)
	assert.NotEmpty(t, bundle.Summary)
	assert.Equal(t, "1", bundle.Items[0].ItemID, "higher similarity candidate should rank first")
}

func TestRehydrateCacheHitSkipsSecondSearch(t *testing.T) {
	store := &fakeStore{items: []*domain.ScoredItem{
		seededItem("1", "alice", "work", 0.9, "memory content"),
	}}
	p := newTestPipeline(store)
	req := Request{UserID: "alice", Query: "what happened", TokenBudget: 1000}

	_, err := p.Rehydrate(context.Background(), req)
	require.NoError(t, err)
	_, err = p.Rehydrate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, store.searchCalls)
}

func TestRehydrateSecondCallReportsCacheHit(t *testing.T) {
	store := &fakeStore{items: []*domain.ScoredItem{
		seededItem("1", "alice", "work", 0.9, "memory content"),
	}}
	p := newTestPipeline(store)
	req := Request{UserID: "alice", Query: "what happened", TokenBudget: 1000}

	_, err := p.Rehydrate(context.Background(), req)
	require.NoError(t, err)
	bundle, err := p.Rehydrate(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, bundle.CacheHit)
}

func TestRehydrateDropsCandidatesBelowMinScore(t *testing.T) {
	store := &fakeStore{items: []*domain.ScoredItem{
		seededItem("1", "alice", "work", 0.9, "relevant content"),
		seededItem("2", "alice", "work", 0.9, "irrelevant content below threshold", func(m *domain.MemoryItem) {
			m.RetentionScore = 0.1
		}),
	}}
	p := newTestPipeline(store)

	bundle, err := p.Rehydrate(context.Background(), Request{
		UserID: "alice", Query: "query", TokenBudget: 1000,
	})
	require.NoError(t, err)
	require.Len(t, bundle.Items, 1)
	assert.Equal(t, "1", bundle.Items[0].ItemID)
}

func TestRehydrateComplianceModeDropsOtherTopics(t *testing.T) {
	store := &fakeStore{items: []*domain.ScoredItem{
		seededItem("1", "alice", "work", 0.9, "work memory"),
		seededItem("2", "alice", "personal", 0.9, "personal memory"),
	}}
	p := newTestPipeline(store)

	bundle, err := p.Rehydrate(context.Background(), Request{
		UserID: "alice", Query: "query", TopicID: "work", TokenBudget: 1000, ComplianceMode: true,
	})
	require.NoError(t, err)
	require.Len(t, bundle.Items, 1)
	assert.Equal(t, "1", bundle.Items[0].ItemID)
}

func TestRehydrateFiltersDisallowedPIIKinds(t *testing.T) {
	store := &fakeStore{items: []*domain.ScoredItem{
		seededItem("1", "alice", "work", 0.9, "clean memory"),
		seededItem("2", "alice", "work", 0.9, "flagged memory", func(m *domain.MemoryItem) {
			m.PIIFlags = []domain.PIIFlag{{Kind: domain.PIIEmail, Count: 1}}
		}),
	}}
	p := newTestPipeline(store)

	bundle, err := p.Rehydrate(context.Background(), Request{
		UserID: "alice", Query: "query", TokenBudget: 1000,
		PermittedPII: map[domain.PIIKind]bool{}, // nothing permitted
	})
	require.NoError(t, err)
	require.Len(t, bundle.Items, 1)
	assert.Equal(t, "1", bundle.Items[0].ItemID)
}

func TestRehydrateTokenBudgetLimitsSelection(t *testing.T) {
	big := make([]byte, 2000)
	for i := range big {
		big[i] = 'x'
	}
	store := &fakeStore{items: []*domain.ScoredItem{
		seededItem("1", "alice", "work", 0.95, string(big)),
		seededItem("2", "alice", "work", 0.9, string(big)),
		seededItem("3", "alice", "work", 0.85, string(big)),
	}}
	p := newTestPipeline(store)

	bundle, err := p.Rehydrate(context.Background(), Request{
		UserID: "alice", Query: "query", TokenBudget: 600,
	})
	require.NoError(t, err)
	assert.Less(t, len(bundle.Items), 3)
}

func TestRehydrateAsyncSideEffectsIncrementAccess(t *testing.T) {
	store := &fakeStore{
		items:      []*domain.ScoredItem{seededItem("1", "alice", "work", 0.9, "content")},
		accessedCh: make(chan string, 4),
	}
	p := newTestPipeline(store)

	_, err := p.Rehydrate(context.Background(), Request{UserID: "alice", Query: "query", TokenBudget: 1000})
	require.NoError(t, err)

	select {
	case id := <-store.accessedCh:
		assert.Equal(t, "1", id)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for async access-count increment")
	}
}

func TestRehydrateWithHybridOverridesChangesRanking(t *testing.T) {
	store := &fakeStore{items: []*domain.ScoredItem{
		seededItem("low-sim-high-outcome", "alice", "work", 0.3, "content a", func(m *domain.MemoryItem) {
			m.OutcomeLog = []domain.OutcomeEvent{{Kind: domain.OutcomeThumbsUp}, {Kind: domain.OutcomeThumbsUp}}
		}),
		seededItem("high-sim-no-outcome", "alice", "work", 0.9, "content b"),
	}}
	p := newTestPipeline(store).WithHybridOverrides(map[Intent]RankWeights{
		IntentGeneral: {Vector: 0, Recency: 0, Outcome: 1, Score: 0},
	})

	bundle, err := p.Rehydrate(context.Background(), Request{
		UserID: "alice", Query: "query", TokenBudget: 1000, Intent: IntentGeneral,
	})
	require.NoError(t, err)
	require.Len(t, bundle.Items, 2)
	assert.Equal(t, "low-sim-high-outcome", bundle.Items[0].ItemID, "an outcome-only weight table should rank the high-outcome item first despite lower similarity")
}

type deadlineSummarizer struct {
	cancel context.CancelFunc
}

func (d *deadlineSummarizer) Summarize(ctx context.Context, items []string, intent string, targetTokens int) (string, error) {
	d.cancel()
	return fmt.Sprintf("summary(%d items, intent=%s)", len(items), intent), nil
}

func TestRehydrateReturnsPartialBundleWhenDeadlineExpiresDuringSummarization(t *testing.T) {
	store := &fakeStore{items: []*domain.ScoredItem{
		seededItem("1", "alice", "work", 0.9, "first memory", func(m *domain.MemoryItem) {
			m.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		}),
		seededItem("2", "alice", "personal", 0.9, "second memory", func(m *domain.MemoryItem) {
			m.CreatedAt = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
		}),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPipeline(store, fakeKeys{}, fakeEmbedder{}, &deadlineSummarizer{cancel: cancel}, nil, nil)

	bundle, err := p.Rehydrate(ctx, Request{UserID: "alice", Query: "query", TokenBudget: 1000})
	require.NoError(t, err)
	assert.True(t, bundle.Partial)
	require.Len(t, bundle.Items, 1, "only the group summarized before the deadline expired should survive")
	assert.Equal(t, "1", bundle.Items[0].ItemID)
}

func TestRehydrateQuarantinedItemsExcluded(t *testing.T) {
	store := &fakeStore{items: []*domain.ScoredItem{
		seededItem("1", "alice", "work", 0.95, "ok memory"),
		seededItem("2", "alice", "work", 0.95, "bad memory", func(m *domain.MemoryItem) {
			m.Quarantined = true
		}),
	}}
	p := newTestPipeline(store)

	bundle, err := p.Rehydrate(context.Background(), Request{UserID: "alice", Query: "query", TokenBudget: 1000})
	require.NoError(t, err)
	require.Len(t, bundle.Items, 1)
	assert.Equal(t, "1", bundle.Items[0].ItemID)
}
