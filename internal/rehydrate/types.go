// Package rehydrate implements the rehydration pipeline of spec.md §4.6:
// intent classification, candidate retrieval, hybrid ranking, policy
// filtering, token-budgeted selection, grouped summarization, and bundle
// assembly, behind a short-TTL cache.
package rehydrate

import (
	"time"

	"acms/internal/domain"
)

// Intent is one of the rehydration query intents of spec.md §4.6 step 1.
type Intent string

const (
	IntentCodeAssist  Intent = "code-assist"
	IntentResearch    Intent = "research"
	IntentMeetingPrep Intent = "meeting-prep"
	IntentWriting     Intent = "writing"
	IntentAnalysis    Intent = "analysis"
	IntentGeneral     Intent = "general"
)

// Request is one call to Rehydrate.
type Request struct {
	UserID         string
	Query          string
	TopicID        string // non-empty enables compliance-mode topic scoping
	Intent         Intent // zero value triggers classification
	TokenBudget    int
	ComplianceMode bool
	PermittedPII   map[domain.PIIKind]bool // nil means no PII-kind restriction
}

// ItemRecord is one bundle entry (spec.md §4.6 step 7).
type ItemRecord struct {
	ItemID      string  `json:"item_id"`
	Tier        domain.Tier `json:"tier"`
	Score       float64 `json:"score"`
	Excerpt     string  `json:"excerpt"`
	Relevance   float64 `json:"relevance"`
	OutcomeRate float64 `json:"outcome_rate"`
}

// Bundle is the rehydration pipeline's output (spec.md §4.6 step 7).
type Bundle struct {
	Summary            string       `json:"summary"`
	Items              []ItemRecord `json:"items"`
	TotalTokens        int          `json:"total_tokens"`
	RetrievalDuration  time.Duration `json:"retrieval_duration"`
	SummarizeDuration  time.Duration `json:"summarize_duration"`
	CacheHit           bool         `json:"cache_hit"`
	Intent             Intent       `json:"intent"`

	// Partial is set when the request's deadline expired mid-summarization:
	// Summary, Items, and TotalTokens then cover only the groups that
	// finished before the deadline, not every originally-selected candidate.
	Partial bool `json:"partial,omitempty"`
}

// RankWeights are the hybrid-ranking coefficients of spec.md §4.6 step 3.
type RankWeights struct {
	Vector  float64
	Recency float64
	Outcome float64
	Score   float64
}

// DefaultRankWeights mirrors spec.md §4.6's stated defaults.
func DefaultRankWeights() RankWeights {
	return RankWeights{Vector: 0.5, Recency: 0.2, Outcome: 0.2, Score: 0.1}
}

// intentRankOverrides holds the declared per-intent weight overrides for
// code-assist, research, meeting-prep, writing and analysis; general and
// any intent not listed here fall back to DefaultRankWeights.
var intentRankOverrides = map[Intent]RankWeights{
	IntentCodeAssist:  {Vector: 0.4, Recency: 0.2, Outcome: 0.3, Score: 0.1},
	IntentResearch:    {Vector: 0.6, Recency: 0.1, Outcome: 0.2, Score: 0.1},
	IntentMeetingPrep: {Vector: 0.45, Recency: 0.3, Outcome: 0.15, Score: 0.1},
	IntentWriting:     {Vector: 0.5, Recency: 0.15, Outcome: 0.15, Score: 0.2},
	IntentAnalysis:    {Vector: 0.55, Recency: 0.15, Outcome: 0.2, Score: 0.1},
}

// RankWeightsFor returns the declared weights for intent, defaulting when
// no override is declared.
func RankWeightsFor(intent Intent) RankWeights {
	return RankWeightsForOverrides(intent, intentRankOverrides)
}

// RankWeightsForOverrides is RankWeightsFor parameterized on the override
// table, so internal/config's eventual `rehydration.hybrid_overrides`
// surface can supply its own table at Pipeline-construction time (see
// Pipeline.WithHybridOverrides) instead of this package's built-in
// defaults, without changing this lookup's shape.
func RankWeightsForOverrides(intent Intent, overrides map[Intent]RankWeights) RankWeights {
	if w, ok := overrides[intent]; ok {
		return w
	}
	return DefaultRankWeights()
}

// DefaultCandidateK and DefaultMinScore are spec.md §4.6 step 2's stated
// candidate-retrieval call defaults (k=100, min_score=0.25).
const (
	DefaultCandidateK  = 100
	DefaultMinScore    = 0.25
	overheadReserveFrac = 0.10
	CacheTTL           = 5 * time.Minute
)
