// Package tier implements the tier / consolidation manager of spec.md §4.5:
// applying crs.EvaluateTransitions' decisions to the store, grouping
// together-promoted items for summarized consolidation, gating LONG-tier
// promotion of PII-flagged items on recorded consent, and sweeping expired
// archives.
package tier

import (
	"context"
	"sort"
	"strings"
	"time"

	"acms/internal/crs"
	"acms/internal/domain"
	"acms/internal/embedding"
	"acms/internal/logging"
	"acms/internal/policy"

	"github.com/google/uuid"
)

// ItemStore is the narrow slice of internal/store.Store the tier manager
// needs, following the same local-interface convention internal/policy
// uses so this package never imports internal/store directly.
type ItemStore interface {
	ListByTier(ctx context.Context, userID string, tier domain.Tier) ([]*domain.MemoryItem, error)
	TransitionTier(ctx context.Context, ev domain.TierTransitionEvent, expectedVersion int64) error
	ConsolidateTransaction(ctx context.Context, newItem *domain.MemoryItem, newVec []float32, sourceIDs []string, at time.Time, ev domain.ConsolidationEvent) error
	PurgeExpiredArchives(ctx context.Context, userID string, tier domain.Tier, before time.Time) (int, error)
	AppendAuditEvent(ctx context.Context, ev domain.AuditEvent) error
}

// KeyManager is the narrow slice of internal/crypto.Manager the tier manager
// needs to decrypt source content for summarization and encrypt the result.
type KeyManager interface {
	Decrypt(blob []byte, keyID string) ([]byte, error)
	EncryptForItem(plaintext []byte, topicID string) (data []byte, keyID string, err error)
}

// RetentionWindows are the per-tier archived-item lifetimes of spec.md §4.5
// "Archival" (SHORT 7 days, MID 14 days, LONG 30 days default).
type RetentionWindows struct {
	Short time.Duration
	Mid   time.Duration
	Long  time.Duration
}

// DefaultRetentionWindows mirrors spec.md §4.5's stated defaults.
func DefaultRetentionWindows() RetentionWindows {
	return RetentionWindows{
		Short: 7 * 24 * time.Hour,
		Mid:   14 * 24 * time.Hour,
		Long:  30 * 24 * time.Hour,
	}
}

func (w RetentionWindows) forTier(t domain.Tier) time.Duration {
	switch t {
	case domain.TierShort:
		return w.Short
	case domain.TierMid:
		return w.Mid
	default:
		return w.Long
	}
}

// baseSummaryTokenBudget is the token pool a single consolidation run
// distributes across its groups, proportional to each group's share of the
// run's total item count (spec.md §4.5 "target length proportional to the
// group's fraction of the total").
const baseSummaryTokenBudget = 1500

// Manager is the tier / consolidation manager of spec.md §4.5.
type Manager struct {
	store      ItemStore
	keys       KeyManager
	embedder   embedding.EmbeddingEngine
	summarizer embedding.Summarizer
	consent    *policy.ConsentLedger
	windows    RetentionWindows
}

// NewManager constructs a Manager. consent may be nil, in which case every
// LONG-tier promotion of a PII-flagged item is denied (fail closed).
func NewManager(store ItemStore, keys KeyManager, embedder embedding.EmbeddingEngine, summarizer embedding.Summarizer, consent *policy.ConsentLedger) *Manager {
	if consent == nil {
		consent = policy.NewConsentLedger()
	}
	return &Manager{store: store, keys: keys, embedder: embedder, summarizer: summarizer, consent: consent, windows: DefaultRetentionWindows()}
}

// WithRetentionWindows overrides the default per-tier archive retention
// windows (spec.md §4.5 "per user policy").
func (m *Manager) WithRetentionWindows(w RetentionWindows) *Manager {
	m.windows = w
	return m
}

// RunResult summarizes one EvaluateAndApply call.
type RunResult struct {
	Promoted        int
	Demoted         int
	ConsolidatedOut int // number of new consolidated items produced
	ConsentDenied   int
	Errors          []error
}

// EvaluateAndApply scores a user's non-archived SHORT/MID/LONG items,
// evaluates tier-transition gates, and applies the resulting promotions
// (grouping and consolidating where eligible) and demotions to the store.
// It is the scheduler's (§4.8) nightly "evaluation + consolidation" job.
func (m *Manager) EvaluateAndApply(ctx context.Context, profile *domain.UserProfile, now time.Time) (RunResult, error) {
	timer := logging.StartTimer(logging.CategoryTier, "EvaluateAndApply")
	defer timer.Stop()

	var all []*domain.MemoryItem
	for _, t := range []domain.Tier{domain.TierShort, domain.TierMid, domain.TierLong} {
		items, err := m.store.ListByTier(ctx, profile.UserID, t)
		if err != nil {
			return RunResult{}, domain.Wrap(domain.KindInternal, "list items by tier", err)
		}
		all = append(all, items...)
	}
	if len(all) == 0 {
		return RunResult{}, nil
	}

	vecs := m.decryptVectors(all)
	scores, err := crs.ComputeBatch(all, vecs, profile, now)
	if err != nil {
		return RunResult{}, err
	}

	batch := crs.EvaluateTransitions(all, scores, profile, now)

	var result RunResult
	m.applyDemotions(ctx, batch.Demotions, &result)
	m.applyPromotions(ctx, batch.Promotions, now, &result)

	return result, nil
}

func (m *Manager) decryptVectors(items []*domain.MemoryItem) map[string][]float32 {
	vecs := make(map[string][]float32, len(items))
	for _, item := range items {
		if len(item.EncryptedVector) == 0 || item.KeyID == "" {
			continue
		}
		plain, err := m.keys.Decrypt(item.EncryptedVector, item.KeyID)
		if err != nil {
			logging.TierDebug("skipping vector for item=%s: decrypt failed: %v", item.ID, err)
			continue
		}
		vec, err := embedding.DecodeVector(plain)
		if err != nil {
			logging.TierDebug("skipping vector for item=%s: decode failed: %v", item.ID, err)
			continue
		}
		vecs[item.ID] = vec
	}
	return vecs
}

func (m *Manager) applyDemotions(ctx context.Context, demotions []crs.Transition, result *RunResult) {
	for _, d := range demotions {
		if err := m.store.TransitionTier(ctx, d.Event, d.Item.Version); err != nil {
			logging.TierDebug("demotion failed item=%s: %v", d.Item.ID, err)
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Demoted++
	}
}

func (m *Manager) applyPromotions(ctx context.Context, promotions []crs.Transition, now time.Time, result *RunResult) {
	eligible := make([]crs.Transition, 0, len(promotions))
	for _, p := range promotions {
		allowed, reason := policy.CheckPromotionConsent(p.Item, p.Event.ToTier, m.consent)
		if !allowed {
			result.ConsentDenied++
			kinds := make([]string, len(p.Item.PIIFlags))
			for i, f := range p.Item.PIIFlags {
				kinds[i] = string(f.Kind)
			}
			if err := m.store.AppendAuditEvent(ctx, domain.AuditEvent{
				ID:         uuid.NewString(),
				UserID:     p.Item.UserID,
				Action:     domain.AuditPolicyFilter,
				ResourceID: p.Item.ID,
				Metadata:   map[string]interface{}{"reason": string(reason), "target_tier": string(p.Event.ToTier), "pii_kinds": kinds},
				Timestamp:  now,
			}); err != nil {
				logging.TierDebug("failed to log consent denial for item=%s: %v", p.Item.ID, err)
			}
			result.Errors = append(result.Errors, domain.New(domain.KindPIIConsentRequired,
				"promotion denied for item "+p.Item.ID+": consent required for pii kinds "+strings.Join(kinds, ",")))
			continue
		}
		eligible = append(eligible, p)
	}

	groups := groupForConsolidation(eligible)
	for _, group := range groups {
		if len(group) == 1 {
			p := group[0]
			if err := m.store.TransitionTier(ctx, p.Event, p.Item.Version); err != nil {
				logging.TierDebug("promotion failed item=%s: %v", p.Item.ID, err)
				result.Errors = append(result.Errors, err)
				continue
			}
			result.Promoted++
			continue
		}

		if err := m.consolidateGroup(ctx, group, len(eligible), now); err != nil {
			logging.TierDebug("consolidation failed: %v", err)
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Promoted += len(group)
		result.ConsolidatedOut++
	}
}

// SweepArchives hard-deletes archived items whose tier-specific retention
// window has elapsed (spec.md §4.5 "Archival").
func (m *Manager) SweepArchives(ctx context.Context, userID string, now time.Time) (int, error) {
	timer := logging.StartTimer(logging.CategoryTier, "SweepArchives")
	defer timer.Stop()

	total := 0
	for _, t := range []domain.Tier{domain.TierShort, domain.TierMid, domain.TierLong} {
		n, err := m.store.PurgeExpiredArchives(ctx, userID, t, now.Add(-m.windows.forTier(t)))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// groupKey buckets a promotion by (topic, creation-day, target tier).
type groupKey struct {
	topicID string
	day     string
	toTier  domain.Tier
}

func groupForConsolidation(promotions []crs.Transition) [][]crs.Transition {
	groups := make(map[groupKey][]crs.Transition)
	var order []groupKey
	for _, p := range promotions {
		key := groupKey{
			topicID: p.Item.TopicID,
			day:     p.Item.CreatedAt.UTC().Format("2006-01-02"),
			toTier:  p.Event.ToTier,
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], p)
	}

	out := make([][]crs.Transition, 0, len(order))
	for _, key := range order {
		out = append(out, groups[key])
	}
	return out
}

// sortTransitionsByID gives deterministic source-id ordering for the footer and event log.
func sortTransitionsByID(ts []crs.Transition) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Item.ID < ts[j].Item.ID })
}
