// Package config holds the YAML-driven configuration surface of spec.md §6,
// adapted from the teacher's internal/config package: one top-level Config
// struct, DefaultConfig/Load/Save/Validate, and env-var overrides for
// secrets that should never live in a checked-in file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"acms/internal/domain"
	"acms/internal/logging"

	"gopkg.in/yaml.v3"
)

// Config holds all ACMS configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	CRS          CRSConfig          `yaml:"crs"`
	Tier         TierConfig         `yaml:"tier"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Rehydration  RehydrationConfig  `yaml:"rehydration"`
	Cache        CacheConfig        `yaml:"cache"`
	Compliance   ComplianceConfig   `yaml:"compliance"`
	Crypto       CryptoConfig       `yaml:"crypto"`
	Store        StoreConfig        `yaml:"store"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	RateLimits   RateLimitsConfig   `yaml:"rate_limits"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// DefaultConfig returns spec.md's stated defaults (§4.3, §4.6, §6).
func DefaultConfig() *Config {
	return &Config{
		Name:    "acms",
		Version: "0.1.0",

		CRS:         DefaultCRSConfig(),
		Tier:        DefaultTierConfig(),
		Retrieval:   DefaultRetrievalConfig(),
		Rehydration: DefaultRehydrationConfig(),
		Cache:       DefaultCacheConfig(),
		Compliance:  DefaultComplianceConfig(),
		Crypto:      DefaultCryptoConfig(),
		Store:       DefaultStoreConfig(),
		Embedding:   DefaultEmbeddingConfig(),
		Scheduler:   DefaultSchedulerConfig(),
		RateLimits:  DefaultRateLimitsConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Debug:  false,
		},
	}
}

// Load reads configuration from a YAML file, falling back to DefaultConfig
// when the file does not exist (mirrors the teacher's Load: missing config
// is not an error, a malformed one is).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	logging.BootDebug("loading config from %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Boot("config file not found, using defaults: %s", path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		logging.BootError("failed to read config file %s: %v", path, err)
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		logging.BootError("failed to parse config file %s: %v", path, err)
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	logging.Boot("config loaded from %s: embedding=%s compliance_default=%v", path, cfg.Embedding.Provider, cfg.Compliance.ModeDefault)
	return cfg, nil
}

// Save writes the configuration to a YAML file, creating parent directories
// as needed.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies secret/environment-scoped overrides that should
// never be committed to a config file on disk.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("ACMS_GENAI_API_KEY"); key != "" {
		c.Embedding.GenAIAPIKey = key
		if c.Embedding.Provider == "" {
			c.Embedding.Provider = "genai"
		}
	}
	if endpoint := os.Getenv("ACMS_OLLAMA_ENDPOINT"); endpoint != "" {
		c.Embedding.OllamaEndpoint = endpoint
	}
	if model := os.Getenv("ACMS_OLLAMA_MODEL"); model != "" {
		c.Embedding.OllamaModel = model
	}
	if path := os.Getenv("ACMS_DB_PATH"); path != "" {
		c.Store.DatabasePath = path
	}
	if seed := os.Getenv("ACMS_MASTER_KEY_SEED"); seed != "" {
		c.Crypto.MasterKeySeedHex = seed
	}
}

// GetCacheTTL returns the rehydration cache TTL as a duration.
func (c *Config) GetCacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// GetKeyRotationInterval returns the scheduler's key-rotation cadence.
func (c *Config) GetKeyRotationInterval() time.Duration {
	d, err := time.ParseDuration(c.Scheduler.KeyRotationInterval)
	if err != nil {
		return 7 * 24 * time.Hour
	}
	return d
}

// GetConsolidationInterval returns the scheduler's evaluate/consolidate
// sweep cadence.
func (c *Config) GetConsolidationInterval() time.Duration {
	d, err := time.ParseDuration(c.Scheduler.ConsolidationInterval)
	if err != nil {
		return 1 * time.Hour
	}
	return d
}

// GetArchivePurgeInterval returns the scheduler's archive-purge cadence.
func (c *Config) GetArchivePurgeInterval() time.Duration {
	d, err := time.ParseDuration(c.Scheduler.ArchivePurgeInterval)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// Validate checks the configuration for internally-consistent values,
// mirroring the teacher's Validate: caught here instead of surfacing as a
// confusing runtime error deep in crs/tier/rehydrate.
func (c *Config) Validate() error {
	if err := c.CRS.Validate(); err != nil {
		return fmt.Errorf("crs: %w", err)
	}
	if err := c.Retrieval.Validate(); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}
	if err := c.Rehydration.Validate(); err != nil {
		return fmt.Errorf("rehydration: %w", err)
	}
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache: ttl_seconds must be positive")
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("rate_limits: %w", err)
	}
	if err := c.Crypto.Validate(); err != nil {
		return fmt.Errorf("crypto: %w", err)
	}
	return nil
}

// UserOverrides implements internal/profile.OverrideSource: this config
// package only carries global CRS/tier settings, not per-user ones, so
// every userID gets the same configured weights/thresholds/PII penalties.
// A future per-user override store would satisfy the same interface
// without internal/profile changing at all.
func (c *Config) UserOverrides(userID string) (domain.CRSWeights, domain.TierThresholds, map[domain.PIIKind]float64, bool) {
	return c.CRS.Weights.Domain(), c.Tier.Thresholds.Domain(), c.CRS.PIIPenaltyWeights(), true
}
