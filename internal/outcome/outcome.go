// Package outcome implements the L7 outcome logger of spec.md §2/§4.3:
// recording feedback/edit-distance/completion events against the items a
// prior rehydration call actually used, so internal/crs's outcome term
// reflects real usage rather than query-time guesses.
package outcome

import (
	"context"
	"time"

	"acms/internal/domain"
	"acms/internal/logging"

	"github.com/google/uuid"
)

// ItemStore is the narrow slice of internal/store.Store this package needs,
// following the same local-interface convention as internal/tier and
// internal/rehydrate.
type ItemStore interface {
	GetQueryLog(ctx context.Context, userID, queryID string) (*domain.QueryLog, error)
	RecordOutcome(ctx context.Context, userID, itemID string, ev domain.OutcomeEvent) error
	AppendAuditEvent(ctx context.Context, ev domain.AuditEvent) error
}

// Logger implements the `record_outcome` boundary operation of spec.md §6.
type Logger struct {
	store ItemStore
}

func NewLogger(store ItemStore) *Logger {
	return &Logger{store: store}
}

// Record applies ev to every item used by the query queryID (spec.md §3
// "record_outcome": user id, query id, outcome event → acknowledgement).
// Outcome events for a query may arrive out-of-order relative to the query
// and are applied independently per item; since internal/crs's outcome
// aggregation is a plain arithmetic mean of derived per-event scores
// (crs.AggregateOutcome), arrival order has no effect on the result.
func (l *Logger) Record(ctx context.Context, userID, queryID string, ev domain.OutcomeEvent) error {
	ql, err := l.store.GetQueryLog(ctx, userID, queryID)
	if err != nil {
		return domain.Wrap(domain.KindNotFound, "record outcome: resolve query log", err)
	}

	ev.QueryID = queryID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	var firstErr error
	applied := make([]string, 0, len(ql.ItemIDsUsed))
	for _, itemID := range ql.ItemIDsUsed {
		if err := l.store.RecordOutcome(ctx, userID, itemID, ev); err != nil {
			logging.OutcomeDebug("record outcome failed item=%s query=%s: %v", itemID, queryID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		applied = append(applied, itemID)
	}

	logging.Outcome("recorded outcome kind=%s query=%s user=%s items=%d/%d",
		ev.Kind, queryID, userID, len(applied), len(ql.ItemIDsUsed))

	auditErr := l.store.AppendAuditEvent(ctx, domain.AuditEvent{
		ID:         uuid.NewString(),
		UserID:     userID,
		Action:     domain.AuditOutcome,
		ResourceID: queryID,
		Metadata: map[string]interface{}{
			"kind":         string(ev.Kind),
			"items_count":  len(applied),
		},
		Timestamp: time.Now(),
	})
	if auditErr != nil {
		logging.OutcomeDebug("audit outcome event failed query=%s: %v", queryID, auditErr)
	}

	if firstErr != nil && len(applied) == 0 {
		return domain.Wrap(domain.KindInternal, "record outcome: all item writes failed", firstErr)
	}
	return nil
}
