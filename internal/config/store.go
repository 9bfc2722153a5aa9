package config

import (
	"fmt"
	"strings"
)

// StoreConfig configures internal/store.Open: the per-user SQLite database
// path template and the vector dimensionality it must be sized for (which
// must match the configured embedder's output width — spec.md §9 notes a
// dimensionality change requires a fresh index, not a migration).
type StoreConfig struct {
	// DatabasePath is a path template; "{user_id}" is substituted by the
	// caller that opens a per-user store (internal/store is single-user per
	// *Store, per spec.md §4.2).
	DatabasePath string `yaml:"database_path"`

	// VectorDimensions must match Embedding's configured model output width.
	VectorDimensions int `yaml:"vector_dimensions"`
}

func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		DatabasePath:     "data/acms_{user_id}.db",
		VectorDimensions: 768,
	}
}

// DatabasePathFor substitutes "{user_id}" in DatabasePath, for internal/store.Open.
func (s StoreConfig) DatabasePathFor(userID string) string {
	return strings.ReplaceAll(s.DatabasePath, "{user_id}", userID)
}

func (s StoreConfig) Validate() error {
	if s.DatabasePath == "" {
		return fmt.Errorf("database_path required")
	}
	if s.VectorDimensions <= 0 {
		return fmt.Errorf("vector_dimensions must be positive")
	}
	return nil
}
