package tier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"acms/internal/crs"
	"acms/internal/domain"
	"acms/internal/embedding"
	"acms/internal/logging"

	"github.com/google/uuid"
)

// consolidateGroup implements spec.md §4.5 steps 1-3 for one (topic,
// creation-day, target-tier) group of size >= 2: commission a summary,
// produce one new memory item, and atomically insert it while archiving the
// sources and emitting a consolidation event.
func (m *Manager) consolidateGroup(ctx context.Context, group []crs.Transition, totalItemsThisRun int, now time.Time) error {
	sortTransitionsByID(group)

	texts := make([]string, 0, len(group))
	scores := make([]float64, 0, len(group))
	sourceIDs := make([]string, 0, len(group))
	var piiFlags []domain.PIIFlag
	topicID := group[0].Item.TopicID
	fromTier := group[0].Item.Tier
	toTier := group[0].Event.ToTier

	for _, p := range group {
		plain, err := m.keys.Decrypt(p.Item.EncryptedContent, p.Item.KeyID)
		if err != nil {
			logging.TierDebug("consolidation source decrypt failed item=%s: %v", p.Item.ID, err)
			continue
		}
		texts = append(texts, string(plain))
		scores = append(scores, p.Event.Score)
		sourceIDs = append(sourceIDs, p.Item.ID)
		piiFlags = mergePIIFlags(piiFlags, p.Item.PIIFlags)
	}
	if len(sourceIDs) < 2 {
		return fmt.Errorf("consolidation group %s/%s shrank below 2 after decrypt failures", topicID, toTier)
	}

	targetTokens := baseSummaryTokenBudget * len(group) / max(1, totalItemsThisRun)
	if targetTokens < 32 {
		targetTokens = 32
	}

	summary, err := m.summarizer.Summarize(ctx, texts, "consolidation", targetTokens)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "commission consolidation summary", err)
	}

	content := summary + "\n\nSources: " + strings.Join(sourceIDs, ", ")
	encContent, keyID, err := m.keys.EncryptForItem([]byte(content), topicID)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "encrypt consolidated content", err)
	}

	vec, err := m.embedder.Embed(ctx, summary)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "embed consolidated summary", err)
	}
	encVec, _, err := m.keys.EncryptForItem(embedding.EncodeVector(vec), topicID)
	if err != nil {
		return domain.Wrap(domain.KindInternal, "encrypt consolidated vector", err)
	}

	newItem := &domain.MemoryItem{
		ID:               uuid.NewString(),
		UserID:           group[0].Item.UserID,
		TopicID:          topicID,
		EncryptedContent: encContent,
		EncryptedVector:  encVec,
		VectorDimensions: len(vec),
		Tier:             toTier,
		RetentionScore:   mean(scores),
		CreatedAt:        now,
		LastUsedAt:       now,
		PIIFlags:         piiFlags,
		SourceItems:      sourceIDs,
		KeyID:            keyID,
		SchemaVersion:    domain.CurrentSchemaVersion,
		Version:          1,
	}

	ev := domain.ConsolidationEvent{
		ID:                  uuid.NewString(),
		UserID:              newItem.UserID,
		SourceTier:          fromTier,
		TargetTier:          toTier,
		SourceCount:         len(sourceIDs),
		ConsolidatedItemIDs: []string{newItem.ID},
		Timestamp:           now,
	}

	if err := m.store.ConsolidateTransaction(ctx, newItem, vec, sourceIDs, now, ev); err != nil {
		return err
	}

	if err := m.store.AppendAuditEvent(ctx, domain.AuditEvent{
		ID:         uuid.NewString(),
		UserID:     newItem.UserID,
		Action:     domain.AuditConsolidate,
		ResourceID: newItem.ID,
		Metadata:   map[string]interface{}{"source_count": len(sourceIDs), "target_tier": string(toTier)},
		Timestamp:  now,
	}); err != nil {
		logging.TierDebug("failed to log consolidation audit event for item=%s: %v", newItem.ID, err)
	}
	return nil
}

// mergePIIFlags unions two flag sets by kind (spec.md §4.5 "PII flags =
// union of source flags"), summing counts and keeping the first redacted
// example seen for each kind.
func mergePIIFlags(acc, add []domain.PIIFlag) []domain.PIIFlag {
	byKind := make(map[domain.PIIKind]*domain.PIIFlag)
	for i := range acc {
		f := acc[i]
		byKind[f.Kind] = &f
	}
	for _, f := range add {
		if existing, ok := byKind[f.Kind]; ok {
			existing.Count += f.Count
			continue
		}
		cp := f
		byKind[f.Kind] = &cp
	}
	out := make([]domain.PIIFlag, 0, len(byKind))
	for _, f := range byKind {
		out = append(out, *f)
	}
	return out
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
