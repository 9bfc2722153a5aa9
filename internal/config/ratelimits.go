package config

import "fmt"

// RateLimitsConfig is spec.md §6's stated defaults ("100 ingests/minute,
// 100 queries/minute, 10 exports/day per user; configurable").
type RateLimitsConfig struct {
	IngestsPerMinute int `yaml:"ingests_per_minute"`
	QueriesPerMinute int `yaml:"queries_per_minute"`
	ExportsPerDay    int `yaml:"exports_per_day"`
}

func DefaultRateLimitsConfig() RateLimitsConfig {
	return RateLimitsConfig{IngestsPerMinute: 100, QueriesPerMinute: 100, ExportsPerDay: 10}
}

func (r RateLimitsConfig) Validate() error {
	if r.IngestsPerMinute <= 0 || r.QueriesPerMinute <= 0 || r.ExportsPerDay <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	return nil
}

// LoggingConfig configures internal/logging.Initialize.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Debug  bool   `yaml:"debug"`
}
