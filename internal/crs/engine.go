// Package crs computes the Context Retention Score of spec.md §4.3: a
// weighted blend of topic-centroid similarity, access recurrence, outcome
// history, correction signal, and recency, decayed by item age and
// penalized for detected PII, clipped to [0,1].
package crs

import (
	"math"
	"sort"
	"time"

	"acms/internal/domain"
	"acms/internal/embedding"
	"acms/internal/logging"
)

// DefaultRecurrenceCap is K in freq = min(1, access_count / K).
const DefaultRecurrenceCap = 5

// DefaultWeights mirrors spec.md §4.3's stated defaults.
func DefaultWeights() domain.CRSWeights {
	return domain.CRSWeights{Sim: 0.35, Recur: 0.20, Outcome: 0.25, Corr: 0.10, Recency: 0.10}
}

// DefaultThresholds mirrors spec.md §4.3's evaluate_transitions gates.
func DefaultThresholds() domain.TierThresholds {
	return domain.TierThresholds{
		ShortToMidScore:        0.65,
		ShortToMidUses:         3,
		MidToLongScore:         0.80,
		MidToLongAgeDays:       7,
		MidToLongOutcome:       0.70,
		DemotionScore:          0.35,
		DemotionInactivityDays: 30,
	}
}

// DefaultDecayLambda is λ in exp(-λ·age_days).
const DefaultDecayLambda = 0.02

// neutralSimilarity is used when a topic has fewer than minCentroidItems
// items, so a new topic's first couple of memories aren't penalized for
// lacking a stable centroid.
const neutralSimilarity = 0.5
const minCentroidItems = 3

const maxPIIPenalty = 0.5

// Compute scores one item in [0,1] (spec.md §4.3 compute). vec is the
// item's plaintext embedding (nil if unavailable, treated as neutral
// similarity); profile carries the user's topic centroids and weights.
func Compute(item *domain.MemoryItem, vec []float32, profile *domain.UserProfile, now time.Time) (float64, error) {
	weights := profile.Weights
	if weights == (domain.CRSWeights{}) {
		weights = DefaultWeights()
	}
	lambda := profile.DecayLambda
	if lambda == 0 {
		lambda = DefaultDecayLambda
	}

	sim, err := similarityToCentroid(item, vec, profile)
	if err != nil {
		return 0, err
	}
	freq := recurrence(item.AccessCount, DefaultRecurrenceCap)
	outcome := aggregateOutcome(item.OutcomeLog)
	corr := correctionSignal(item.OutcomeLog)
	recency := recencyScore(item, now)

	base := weights.Sim*sim + weights.Recur*freq + weights.Outcome*outcome + weights.Corr*corr + weights.Recency*recency

	age := item.AgeDays(now)
	decayed := base * math.Exp(-lambda*age)

	penalty := piiPenalty(item.PIIFlags, profile.PIIPenalty)
	score := clip(decayed-penalty, 0, 1)

	logging.CRSDebug(
		"compute item=%s sim=%.3f freq=%.3f outcome=%.3f corr=%.3f recency=%.3f age=%.1f penalty=%.3f score=%.3f",
		item.ID, sim, freq, outcome, corr, recency, age, penalty, score,
	)
	return score, nil
}

// ComputeBatch scores many items against their own vectors in one pass
// (spec.md §4.3 compute_batch). vecs maps item id to its plaintext vector;
// a missing entry falls back to neutral similarity the same as Compute(nil).
func ComputeBatch(items []*domain.MemoryItem, vecs map[string][]float32, profile *domain.UserProfile, now time.Time) (map[string]float64, error) {
	timer := logging.StartTimer(logging.CategoryCRS, "ComputeBatch")
	defer timer.Stop()

	out := make(map[string]float64, len(items))
	for _, item := range items {
		score, err := Compute(item, vecs[item.ID], profile, now)
		if err != nil {
			return nil, err
		}
		out[item.ID] = score
	}
	return out, nil
}

// Transition is one promotion or demotion decision from EvaluateTransitions.
type Transition struct {
	Item  *domain.MemoryItem
	Event domain.TierTransitionEvent
}

// TransitionBatch is EvaluateTransitions' result (spec.md §4.3 evaluate_transitions).
type TransitionBatch struct {
	Promotions []Transition
	Demotions  []Transition
}

// EvaluateTransitions applies the tier-transition gates to a scored batch of
// a single user's items in the order given, then orders each category by
// the tie-break rule: higher access_count, then more recent
// last-used, then lexicographic id.
func EvaluateTransitions(items []*domain.MemoryItem, scores map[string]float64, profile *domain.UserProfile, now time.Time) TransitionBatch {
	thresholds := profile.Thresholds
	if thresholds == (domain.TierThresholds{}) {
		thresholds = DefaultThresholds()
	}

	var batch TransitionBatch
	for _, item := range items {
		if item.Archived {
			continue
		}
		score := scores[item.ID]

		if !item.Pinned {
			inactiveDays := now.Sub(item.LastUsedAt).Hours() / 24.0
			if score < thresholds.DemotionScore || inactiveDays > thresholds.DemotionInactivityDays {
				target := item.Tier.Next()
				if target != item.Tier {
					batch.Demotions = append(batch.Demotions, newTransition(item, score, target, reasonFor(score, thresholds, inactiveDays)))
					continue
				}
			}
		}

		switch item.Tier {
		case domain.TierShort:
			if score > thresholds.ShortToMidScore && item.AccessCount >= thresholds.ShortToMidUses {
				batch.Promotions = append(batch.Promotions, newTransition(item, score, domain.TierMid, domain.ReasonCRSThreshold))
			}
		case domain.TierMid:
			age := item.AgeDays(now)
			outcome := aggregateOutcome(item.OutcomeLog)
			if score > thresholds.MidToLongScore && age >= thresholds.MidToLongAgeDays && outcome >= thresholds.MidToLongOutcome {
				batch.Promotions = append(batch.Promotions, newTransition(item, score, domain.TierLong, domain.ReasonCRSThreshold))
			}
		}
	}

	sortByTieBreak(batch.Promotions)
	sortByTieBreak(batch.Demotions)
	return batch
}

func reasonFor(score float64, thresholds domain.TierThresholds, inactiveDays float64) domain.TransitionReason {
	if score < thresholds.DemotionScore {
		return domain.ReasonCRSThreshold
	}
	return domain.ReasonInactivity
}

func newTransition(item *domain.MemoryItem, score float64, to domain.Tier, reason domain.TransitionReason) Transition {
	return Transition{
		Item: item,
		Event: domain.TierTransitionEvent{
			ItemID: item.ID, UserID: item.UserID,
			FromTier: item.Tier, ToTier: to,
			Score: score, Reason: reason,
		},
	}
}

func sortByTieBreak(ts []Transition) {
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := ts[i].Item, ts[j].Item
		if a.AccessCount != b.AccessCount {
			return a.AccessCount > b.AccessCount
		}
		if !a.LastUsedAt.Equal(b.LastUsedAt) {
			return a.LastUsedAt.After(b.LastUsedAt)
		}
		return a.ID < b.ID
	})
}

func similarityToCentroid(item *domain.MemoryItem, vec []float32, profile *domain.UserProfile) (float64, error) {
	if vec == nil {
		return neutralSimilarity, nil
	}
	count := profile.TopicCounts[item.TopicID]
	centroid, ok := profile.TopicCentroids[item.TopicID]
	if !ok || count < minCentroidItems {
		return neutralSimilarity, nil
	}
	sim, err := embedding.CosineSimilarity(vec, centroid)
	if err != nil {
		return 0, err
	}
	// Cosine similarity is in [-1,1]; CRS inputs are in [0,1].
	return (sim + 1) / 2, nil
}

func recurrence(accessCount int64, cap int64) float64 {
	if cap <= 0 {
		cap = DefaultRecurrenceCap
	}
	v := float64(accessCount) / float64(cap)
	if v > 1 {
		return 1
	}
	return v
}

// AggregateOutcome exports aggregateOutcome for callers outside this
// package that need the same outcome-rate definition — internal/rehydrate's
// hybrid ranking (spec.md §4.6 step 3 "γ·outcome_rate") reuses it rather
// than redefining what "outcome rate" means a second time.
func AggregateOutcome(log []domain.OutcomeEvent) float64 {
	return aggregateOutcome(log)
}

// aggregateOutcome derives a per-event success score and averages them
// (spec.md §4.3 "Outcome aggregation"). Empty log scores neutral 0.5.
func aggregateOutcome(log []domain.OutcomeEvent) float64 {
	if len(log) == 0 {
		return 0.5
	}
	var sum float64
	for _, ev := range log {
		sum += outcomeSuccessScore(ev)
	}
	return sum / float64(len(log))
}

func outcomeSuccessScore(ev domain.OutcomeEvent) float64 {
	switch ev.Kind {
	case domain.OutcomeEditDistance:
		return 1 - math.Min(1, ev.Float/0.5)
	case domain.OutcomeRating:
		if ev.Rating >= 4 {
			return 1
		}
		return 0
	case domain.OutcomeCompleted:
		if ev.Bool {
			return 1
		}
		return 0
	case domain.OutcomeThumbsUp:
		return 1
	case domain.OutcomeThumbsDown:
		return 0
	default:
		return 0.5
	}
}

// correctionSignal derives a net [-1,1] signal from thumbs events, standing
// in for an explicit "correction" outcome kind: a thumbs-up after the fact
// validates the item, a thumbs-down repudiates it. New items score 0.
func correctionSignal(log []domain.OutcomeEvent) float64 {
	if len(log) == 0 {
		return 0
	}
	var up, down int
	for _, ev := range log {
		switch ev.Kind {
		case domain.OutcomeThumbsUp:
			up++
		case domain.OutcomeThumbsDown:
			down++
		}
	}
	total := up + down
	if total == 0 {
		return 0
	}
	return float64(up-down) / float64(total)
}

func recencyScore(item *domain.MemoryItem, now time.Time) float64 {
	daysSinceCreation := item.AgeDays(now)
	if daysSinceCreation < 0 {
		daysSinceCreation = 0
	}
	return 1 / (1 + daysSinceCreation)
}

// piiPenalty sums per-kind weights over an item's PII flags, capped at 0.5
// (spec.md §4.3). A nil weights map falls back to the policy engine's
// defaults (internal/policy.DefaultRiskWeights), duplicated here as literals
// to avoid an import cycle between crs and policy.
func piiPenalty(flags []domain.PIIFlag, weights map[domain.PIIKind]float64) float64 {
	if len(flags) == 0 {
		return 0
	}
	defaults := map[domain.PIIKind]float64{
		domain.PIIGovernment: 0.5,
		domain.PIICreditCard: 0.4,
		domain.PIIEmail:      0.1,
		domain.PIIPhone:      0.1,
		domain.PIIIPAddress:  0.05,
	}
	var sum float64
	for _, f := range flags {
		w, ok := weights[f.Kind]
		if !ok {
			w = defaults[f.Kind]
		}
		sum += w
	}
	return math.Min(sum, maxPIIPenalty)
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
