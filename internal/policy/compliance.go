package policy

import (
	"context"
	"time"

	"acms/internal/domain"
	"acms/internal/logging"
)

// AuditLogger is the narrow slice of store.Store's audit API policy needs,
// kept as a local interface so this package never imports internal/store.
type AuditLogger interface {
	AppendAuditEvent(ctx context.Context, ev domain.AuditEvent) error
}

// FilterByTopic drops every item whose topic doesn't match topicID (spec.md
// §4.4 "items from other topics MUST NOT appear in candidate sets, rankings,
// or summaries"), and audit-logs the filtering decision. It is a no-op pass
// when topicID is empty (compliance mode not requested).
func FilterByTopic(ctx context.Context, audit AuditLogger, userID, topicID string, items []*domain.MemoryItem) []*domain.MemoryItem {
	if topicID == "" {
		return items
	}

	kept := make([]*domain.MemoryItem, 0, len(items))
	var droppedIDs []string
	for _, item := range items {
		if item.TopicID == topicID {
			kept = append(kept, item)
		} else {
			droppedIDs = append(droppedIDs, item.ID)
		}
	}

	if len(droppedIDs) > 0 {
		logging.PolicyDebug("compliance filter user=%s topic=%s dropped=%d", userID, topicID, len(droppedIDs))
		ev := domain.AuditEvent{
			ID:     auditID(userID, topicID, time.Now()),
			UserID: userID,
			Action: domain.AuditPolicyFilter,
			Metadata: map[string]interface{}{
				"topic_id":    topicID,
				"dropped_ids": droppedIDs,
				"reason":      "compliance_mode",
			},
			Timestamp: time.Now(),
		}
		if audit != nil {
			_ = audit.AppendAuditEvent(ctx, ev) // best-effort: a filter decision that can't be logged still must not leak cross-topic items
		}
	}
	return kept
}

func auditID(userID, topicID string, at time.Time) string {
	return userID + ":" + topicID + ":" + at.Format(time.RFC3339Nano)
}

// FilterDisallowedPII drops items carrying a PII kind not in permitted,
// used by the rehydration pipeline's policy-filter stage (spec.md §4.6 step
// 4) after the compliance-mode topic filter has already run.
func FilterDisallowedPII(items []*domain.MemoryItem, permitted map[domain.PIIKind]bool) []*domain.MemoryItem {
	if permitted == nil {
		return items
	}
	kept := make([]*domain.MemoryItem, 0, len(items))
	for _, item := range items {
		allowed := true
		for _, f := range item.PIIFlags {
			if !permitted[f.Kind] {
				allowed = false
				break
			}
		}
		if allowed {
			kept = append(kept, item)
		}
	}
	return kept
}
