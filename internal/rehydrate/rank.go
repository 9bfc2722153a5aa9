package rehydrate

import (
	"sort"
	"time"

	"acms/internal/crs"
	"acms/internal/domain"
)

// Candidate is one scored retrieval candidate moving through the ranking
// and selection stages.
type Candidate struct {
	Item   *domain.MemoryItem
	VecSim float64 // cosine similarity in [0,1], already store.ScoredItem-normalized to [-1,1]; rescaled here
	Hybrid float64
}

// rescaleSimilarity maps store.Search's [-1,1] cosine similarity into the
// [0,1] range the hybrid formula's other three terms already live in.
func rescaleSimilarity(sim float64) float64 {
	return (sim + 1) / 2
}

// recencyOfUse scores how recently an item was accessed, independent of
// crs's age-since-creation recency term: ranking cares about "was this
// used lately", not "was this created lately", so it reads LastUsedAt
// rather than CreatedAt.
func recencyOfUse(item *domain.MemoryItem, now time.Time) float64 {
	days := now.Sub(item.LastUsedAt).Hours() / 24.0
	if days < 0 {
		days = 0
	}
	return 1 / (1 + days)
}

// Rank computes each candidate's hybrid score (spec.md §4.6 step 3) and
// sorts descending, breaking ties by higher retention score then more
// recent last-used.
func Rank(candidates []Candidate, weights RankWeights, now time.Time) []Candidate {
	for i := range candidates {
		item := candidates[i].Item
		outcomeRate := crs.AggregateOutcome(item.OutcomeLog)
		recency := recencyOfUse(item, now)
		candidates[i].Hybrid = weights.Vector*candidates[i].VecSim +
			weights.Recency*recency +
			weights.Outcome*outcomeRate +
			weights.Score*item.RetentionScore
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Hybrid != candidates[j].Hybrid {
			return candidates[i].Hybrid > candidates[j].Hybrid
		}
		a, b := candidates[i].Item, candidates[j].Item
		if a.RetentionScore != b.RetentionScore {
			return a.RetentionScore > b.RetentionScore
		}
		return a.LastUsedAt.After(b.LastUsedAt)
	})
	return candidates
}
