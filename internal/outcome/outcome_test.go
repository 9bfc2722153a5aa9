package outcome

import (
	"context"
	"testing"
	"time"

	"acms/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	queryLogs   map[string]*domain.QueryLog
	outcomes    map[string][]domain.OutcomeEvent
	auditEvents []domain.AuditEvent
	failItem    string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		queryLogs: make(map[string]*domain.QueryLog),
		outcomes:  make(map[string][]domain.OutcomeEvent),
	}
}

func (f *fakeStore) GetQueryLog(ctx context.Context, userID, queryID string) (*domain.QueryLog, error) {
	ql, ok := f.queryLogs[queryID]
	if !ok || ql.UserID != userID {
		return nil, domain.New(domain.KindNotFound, "not found")
	}
	return ql, nil
}

func (f *fakeStore) RecordOutcome(ctx context.Context, userID, itemID string, ev domain.OutcomeEvent) error {
	if itemID == f.failItem {
		return domain.New(domain.KindInternal, "boom")
	}
	f.outcomes[itemID] = append(f.outcomes[itemID], ev)
	return nil
}

func (f *fakeStore) AppendAuditEvent(ctx context.Context, ev domain.AuditEvent) error {
	f.auditEvents = append(f.auditEvents, ev)
	return nil
}

func TestRecordAppliesEventToEveryItemInQueryLog(t *testing.T) {
	store := newFakeStore()
	store.queryLogs["q1"] = &domain.QueryLog{ID: "q1", UserID: "alice", ItemIDsUsed: []string{"a", "b"}}
	l := NewLogger(store)

	err := l.Record(context.Background(), "alice", "q1", domain.OutcomeEvent{Kind: domain.OutcomeThumbsUp})
	require.NoError(t, err)

	assert.Len(t, store.outcomes["a"], 1)
	assert.Len(t, store.outcomes["b"], 1)
	assert.Equal(t, "q1", store.outcomes["a"][0].QueryID)
}

func TestRecordStampsTimestampWhenZero(t *testing.T) {
	store := newFakeStore()
	store.queryLogs["q1"] = &domain.QueryLog{ID: "q1", UserID: "alice", ItemIDsUsed: []string{"a"}}
	l := NewLogger(store)

	before := time.Now()
	err := l.Record(context.Background(), "alice", "q1", domain.OutcomeEvent{Kind: domain.OutcomeCompleted, Bool: true})
	require.NoError(t, err)

	assert.False(t, store.outcomes["a"][0].Timestamp.Before(before))
}

func TestRecordFailsForUnknownQuery(t *testing.T) {
	store := newFakeStore()
	l := NewLogger(store)

	err := l.Record(context.Background(), "alice", "missing", domain.OutcomeEvent{Kind: domain.OutcomeThumbsDown})
	assert.Error(t, err)
}

func TestRecordWrongUserCannotReadAnothersQueryLog(t *testing.T) {
	store := newFakeStore()
	store.queryLogs["q1"] = &domain.QueryLog{ID: "q1", UserID: "alice", ItemIDsUsed: []string{"a"}}
	l := NewLogger(store)

	err := l.Record(context.Background(), "mallory", "q1", domain.OutcomeEvent{Kind: domain.OutcomeThumbsDown})
	assert.Error(t, err)
}

func TestRecordPartialFailureStillSucceedsIfSomeItemsWritten(t *testing.T) {
	store := newFakeStore()
	store.failItem = "b"
	store.queryLogs["q1"] = &domain.QueryLog{ID: "q1", UserID: "alice", ItemIDsUsed: []string{"a", "b"}}
	l := NewLogger(store)

	err := l.Record(context.Background(), "alice", "q1", domain.OutcomeEvent{Kind: domain.OutcomeThumbsUp})
	require.NoError(t, err)
	assert.Len(t, store.outcomes["a"], 1)
	assert.Empty(t, store.outcomes["b"])
}

func TestRecordAppendsAuditEvent(t *testing.T) {
	store := newFakeStore()
	store.queryLogs["q1"] = &domain.QueryLog{ID: "q1", UserID: "alice", ItemIDsUsed: []string{"a"}}
	l := NewLogger(store)

	err := l.Record(context.Background(), "alice", "q1", domain.OutcomeEvent{Kind: domain.OutcomeRating, Rating: 5})
	require.NoError(t, err)

	require.Len(t, store.auditEvents, 1)
	assert.Equal(t, domain.AuditOutcome, store.auditEvents[0].Action)
	assert.Equal(t, "q1", store.auditEvents[0].ResourceID)
}
