package config

import (
	"fmt"

	"acms/internal/rehydrate"
)

// RetrievalConfig is spec.md §6's `retrieval.*` surface: candidate pool
// size, similarity floor, and the hybrid-ranking weights of spec.md §4.6
// step 3 (`hybrid = α·vector_sim + β·recency + γ·outcome_rate + δ·current_score`).
type RetrievalConfig struct {
	KCandidates int                `yaml:"k_candidates"`
	MinScore    float64            `yaml:"min_score"`
	Hybrid      HybridWeightsConfig `yaml:"hybrid"`
}

// HybridWeightsConfig names the four coefficients the way spec.md §6 does
// (alpha/beta/gamma/delta) rather than internal/rehydrate.RankWeights'
// field names (Vector/Recency/Outcome/Score) — translated at the boundary
// by Domain() so the YAML surface matches the spec verbatim.
type HybridWeightsConfig struct {
	Alpha float64 `yaml:"alpha"`
	Beta  float64 `yaml:"beta"`
	Gamma float64 `yaml:"gamma"`
	Delta float64 `yaml:"delta"`
}

// DefaultRetrievalConfig mirrors internal/rehydrate.DefaultCandidateK,
// DefaultMinScore and DefaultRankWeights.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		KCandidates: 100,
		MinScore:    0.25,
		Hybrid:      HybridWeightsConfig{Alpha: 0.5, Beta: 0.2, Gamma: 0.2, Delta: 0.1},
	}
}

// Domain converts to internal/rehydrate.RankWeights.
func (h HybridWeightsConfig) Domain() rehydrate.RankWeights {
	return rehydrate.RankWeights{Vector: h.Alpha, Recency: h.Beta, Outcome: h.Gamma, Score: h.Delta}
}

func (r RetrievalConfig) Validate() error {
	if r.KCandidates <= 0 {
		return fmt.Errorf("k_candidates must be positive")
	}
	if r.MinScore < 0 || r.MinScore > 1 {
		return fmt.Errorf("min_score must be in [0,1]")
	}
	sum := r.Hybrid.Alpha + r.Hybrid.Beta + r.Hybrid.Gamma + r.Hybrid.Delta
	if sum <= 0 {
		return fmt.Errorf("hybrid weights must sum to a positive value")
	}
	return nil
}
