package config

import (
	"fmt"

	"acms/internal/rehydrate"
)

// RehydrationConfig is spec.md §6's `rehydration.*` surface: the default
// token budget, the overhead reserve spec.md §4.6 reserves for the summary
// and envelope, and SPEC_FULL.md's intent-keyed hybrid-weight override
// table (§9 Open Question: "the overriding table is not exhaustively
// enumerated... make it a configuration input").
type RehydrationConfig struct {
	TokenBudgetDefault    int                            `yaml:"token_budget_default"`
	OverheadReservePercent int                           `yaml:"overhead_reserve_percent"`
	HybridOverrides       map[string]HybridWeightsConfig `yaml:"hybrid_overrides,omitempty"`

	// MaxConcurrentQueries and MaxQueueDepth bound the boundary adapter's
	// backpressure gate (spec.md §5 "Backpressure"): once MaxConcurrentQueries
	// rehydrations are in flight, further requests wait in a queue of at most
	// MaxQueueDepth before failing Overloaded.
	MaxConcurrentQueries int `yaml:"max_concurrent_queries"`
	MaxQueueDepth        int `yaml:"max_queue_depth"`
}

// DefaultRehydrationConfig mirrors the built-in intentRankOverrides table in
// internal/rehydrate/types.go.
func DefaultRehydrationConfig() RehydrationConfig {
	return RehydrationConfig{
		TokenBudgetDefault:     2000,
		OverheadReservePercent: 15,
		MaxConcurrentQueries:   8,
		MaxQueueDepth:          32,
		HybridOverrides: map[string]HybridWeightsConfig{
			string(rehydrate.IntentCodeAssist):  {Alpha: 0.4, Beta: 0.2, Gamma: 0.3, Delta: 0.1},
			string(rehydrate.IntentResearch):    {Alpha: 0.6, Beta: 0.1, Gamma: 0.2, Delta: 0.1},
			string(rehydrate.IntentMeetingPrep): {Alpha: 0.45, Beta: 0.3, Gamma: 0.15, Delta: 0.1},
			string(rehydrate.IntentWriting):     {Alpha: 0.5, Beta: 0.15, Gamma: 0.15, Delta: 0.2},
			string(rehydrate.IntentAnalysis):    {Alpha: 0.55, Beta: 0.15, Gamma: 0.2, Delta: 0.1},
		},
	}
}

// Domain converts the YAML-keyed override table into the
// map[rehydrate.Intent]rehydrate.RankWeights shape Pipeline.WithHybridOverrides
// expects.
func (r RehydrationConfig) Domain() map[rehydrate.Intent]rehydrate.RankWeights {
	out := make(map[rehydrate.Intent]rehydrate.RankWeights, len(r.HybridOverrides))
	for intent, w := range r.HybridOverrides {
		out[rehydrate.Intent(intent)] = w.Domain()
	}
	return out
}

// EffectiveTokenBudget applies the overhead reserve to the configured
// default, leaving headroom for the summary and bundle envelope the way
// spec.md §4.6's "overhead reserve percent" describes.
func (r RehydrationConfig) EffectiveTokenBudget() int {
	reserved := r.TokenBudgetDefault * r.OverheadReservePercent / 100
	budget := r.TokenBudgetDefault - reserved
	if budget < 1 {
		budget = r.TokenBudgetDefault
	}
	return budget
}

func (r RehydrationConfig) Validate() error {
	if r.TokenBudgetDefault <= 0 {
		return fmt.Errorf("token_budget_default must be positive")
	}
	if r.OverheadReservePercent < 0 || r.OverheadReservePercent >= 100 {
		return fmt.Errorf("overhead_reserve_percent must be in [0,100)")
	}
	if r.MaxConcurrentQueries <= 0 {
		return fmt.Errorf("max_concurrent_queries must be positive")
	}
	if r.MaxQueueDepth < 0 {
		return fmt.Errorf("max_queue_depth must be non-negative")
	}
	return nil
}

// CacheConfig is spec.md §6's `cache.ttl_seconds`.
type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTLSeconds: 300}
}

// ComplianceConfig is spec.md §6's `compliance.mode_default`.
type ComplianceConfig struct {
	ModeDefault bool `yaml:"mode_default"`
}

func DefaultComplianceConfig() ComplianceConfig {
	return ComplianceConfig{ModeDefault: false}
}
