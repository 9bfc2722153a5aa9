package config

import (
	"fmt"
	"math"

	"acms/internal/crs"
	"acms/internal/domain"
)

// CRSConfig is spec.md §6's `crs.*` configuration surface.
type CRSConfig struct {
	Weights        CRSWeightsConfig `yaml:"weights"`
	DecayLambda    float64          `yaml:"decay_lambda_per_day"`
	PIIPenalty     map[string]float64 `yaml:"pii_penalty,omitempty"`
}

// CRSWeightsConfig mirrors domain.CRSWeights with config-file field names
// matching spec.md §6 exactly (`sim`, `recurrence`, `outcome`,
// `corrections`, `recency`).
type CRSWeightsConfig struct {
	Sim         float64 `yaml:"sim"`
	Recurrence  float64 `yaml:"recurrence"`
	Outcome     float64 `yaml:"outcome"`
	Corrections float64 `yaml:"corrections"`
	Recency     float64 `yaml:"recency"`
}

// DefaultCRSConfig mirrors internal/crs.DefaultWeights.
func DefaultCRSConfig() CRSConfig {
	w := crs.DefaultWeights()
	return CRSConfig{
		Weights: CRSWeightsConfig{
			Sim: w.Sim, Recurrence: w.Recur, Outcome: w.Outcome,
			Corrections: w.Corr, Recency: w.Recency,
		},
		DecayLambda: 0.02,
	}
}

// Domain converts the YAML-shaped weights into domain.CRSWeights for
// internal/crs.Compute.
func (c CRSWeightsConfig) Domain() domain.CRSWeights {
	return domain.CRSWeights{Sim: c.Sim, Recur: c.Recurrence, Outcome: c.Outcome, Corr: c.Corrections, Recency: c.Recency}
}

// PIIPenaltyWeights converts the string-keyed YAML map into the
// domain.PIIKind-keyed map internal/crs and internal/policy expect. Unknown
// kinds are dropped rather than rejected, since an operator may be running
// a config written against a newer PII taxonomy.
func (c CRSConfig) PIIPenaltyWeights() map[domain.PIIKind]float64 {
	if len(c.PIIPenalty) == 0 {
		return nil
	}
	out := make(map[domain.PIIKind]float64, len(c.PIIPenalty))
	for k, v := range c.PIIPenalty {
		out[domain.PIIKind(k)] = v
	}
	return out
}

// Validate enforces spec.md §6's "must sum to 1.0" constraint on the CRS
// weights and a positive decay lambda.
func (c CRSConfig) Validate() error {
	sum := c.Weights.Sim + c.Weights.Recurrence + c.Weights.Outcome + c.Weights.Corrections + c.Weights.Recency
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("weights must sum to 1.0, got %.6f", sum)
	}
	if c.DecayLambda <= 0 {
		return fmt.Errorf("decay_lambda_per_day must be positive")
	}
	return nil
}

// TierConfig is spec.md §6's `tier.thresholds.*` surface, plus the archive
// retention windows of spec.md §4.5 that SPEC_FULL.md adds as a named
// configuration input rather than a hardcoded package constant.
type TierConfig struct {
	Thresholds      TierThresholdsConfig `yaml:"thresholds"`
	RetentionDaysShort int               `yaml:"retention_days_short"`
	RetentionDaysMid   int               `yaml:"retention_days_mid"`
	RetentionDaysLong  int               `yaml:"retention_days_long"`
}

// TierThresholdsConfig mirrors domain.TierThresholds with the exact
// config-file field names spec.md §6 names.
type TierThresholdsConfig struct {
	ShortToMidScore        float64 `yaml:"short_to_mid_score"`
	ShortToMidUses         int64   `yaml:"short_to_mid_uses"`
	MidToLongScore         float64 `yaml:"mid_to_long_score"`
	MidToLongAgeDays       float64 `yaml:"mid_to_long_age_days"`
	MidToLongOutcome       float64 `yaml:"mid_to_long_outcome"`
	DemotionScore          float64 `yaml:"demotion_score"`
	DemotionInactivityDays float64 `yaml:"demotion_inactivity_days"`
}

// DefaultTierConfig mirrors internal/crs.DefaultThresholds.
func DefaultTierConfig() TierConfig {
	t := crs.DefaultThresholds()
	return TierConfig{
		Thresholds: TierThresholdsConfig{
			ShortToMidScore: t.ShortToMidScore, ShortToMidUses: t.ShortToMidUses,
			MidToLongScore: t.MidToLongScore, MidToLongAgeDays: t.MidToLongAgeDays, MidToLongOutcome: t.MidToLongOutcome,
			DemotionScore: t.DemotionScore, DemotionInactivityDays: t.DemotionInactivityDays,
		},
		RetentionDaysShort: 7,
		RetentionDaysMid:   14,
		RetentionDaysLong:  30,
	}
}

// RetentionWindowsDays returns the configured windows as (short, mid, long)
// day counts, for internal/tier.RetentionWindows construction by the CLI
// wiring layer (kept as plain ints here so internal/config never imports
// internal/tier).
func (t TierConfig) RetentionWindowsDays() (short, mid, long int) {
	return t.RetentionDaysShort, t.RetentionDaysMid, t.RetentionDaysLong
}

// Domain converts to domain.TierThresholds for internal/crs.EvaluateTransitions.
func (t TierThresholdsConfig) Domain() domain.TierThresholds {
	return domain.TierThresholds{
		ShortToMidScore: t.ShortToMidScore, ShortToMidUses: t.ShortToMidUses,
		MidToLongScore: t.MidToLongScore, MidToLongAgeDays: t.MidToLongAgeDays, MidToLongOutcome: t.MidToLongOutcome,
		DemotionScore: t.DemotionScore, DemotionInactivityDays: t.DemotionInactivityDays,
	}
}
